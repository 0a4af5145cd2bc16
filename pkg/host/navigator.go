package host

import (
	"context"
	"net/url"
	"sync"
)

// Navigation is a request for the user agent to visit the identity provider.
type Navigation struct {
	URL   string `json:"url"`
	Popup bool   `json:"popup"`
}

// navigator records navigations for the handler that triggered them. The
// handler turns a same-tab navigation into a redirect and hands a popup
// navigation to the client.
type navigator struct {
	host      *Host
	sessionID string

	mu      sync.Mutex
	pending *Navigation
}

func (n *navigator) Navigate(_ context.Context, rawURL string, popup bool) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	n.host.indexState(u.Query().Get("state"), n.sessionID)

	n.mu.Lock()
	defer n.mu.Unlock()
	n.pending = &Navigation{URL: rawURL, Popup: popup}
	return nil
}

func (n *navigator) take() (Navigation, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.pending == nil {
		return Navigation{}, false
	}
	nav := *n.pending
	n.pending = nil
	return nav, true
}
