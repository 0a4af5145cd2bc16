package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-training/ssoflow/pkg/core"

	gocache "github.com/patrickmn/go-cache"
)

// DefaultSessionTTL bounds how long correlation entries outlive their last write.
// It stands in for the lifetime of a browser tab's session storage.
const DefaultSessionTTL = 12 * time.Hour

const defaultSessionID = "default"

var (
	// ErrNilRedirectContext is returned when attempting to save a nil redirect context.
	ErrNilRedirectContext = errors.New("redirect context cannot be nil")
	// ErrNilPendingResult is returned when attempting to save a nil pending result.
	ErrNilPendingResult = errors.New("pending result cannot be nil")
	// ErrEmptyCorrelationToken is returned when the correlation token is empty.
	ErrEmptyCorrelationToken = errors.New("correlation token cannot be empty")
)

// MemoryStore implements core.CorrelationStore on an in-process cache.
// Views returned by Session share the cache and differ only by key namespace.
type MemoryStore struct {
	cache     *gocache.Cache
	namespace string
	ttl       time.Duration
}

// NewMemoryStore creates a new MemoryStore using DefaultSessionTTL.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithTTL(DefaultSessionTTL)
}

// NewMemoryStoreWithTTL creates a new MemoryStore whose entries expire ttl after their last write.
func NewMemoryStoreWithTTL(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	cleanup := ttl / 2
	if cleanup > 10*time.Minute {
		cleanup = 10 * time.Minute
	}
	return &MemoryStore{
		cache:     gocache.New(ttl, cleanup),
		namespace: sessionNamespace(defaultSessionID),
		ttl:       ttl,
	}
}

// Session returns a view of the store scoped to sessionID.
func (m *MemoryStore) Session(sessionID string) core.CorrelationStore {
	return &MemoryStore{
		cache:     m.cache,
		namespace: sessionNamespace(sessionID),
		ttl:       m.ttl,
	}
}

func (m *MemoryStore) key(name string) string {
	return m.namespace + name
}

// SetCurrent stores the redirect context as the current in-flight attempt.
func (m *MemoryStore) SetCurrent(ctx context.Context, redirectCtx *core.RedirectContext) error {
	if redirectCtx == nil {
		return ErrNilRedirectContext
	}
	if redirectCtx.CorrelationToken == "" {
		return ErrEmptyCorrelationToken
	}

	data, err := json.Marshal(redirectCtx)
	if err != nil {
		return fmt.Errorf("failed to marshal redirect context: %w", err)
	}
	m.cache.Set(m.key(core.CurrentRedirectKey), data, m.ttl)
	return nil
}

// GetCurrent returns the current redirect context, or core.ErrNotFound.
func (m *MemoryStore) GetCurrent(ctx context.Context) (*core.RedirectContext, error) {
	var redirectCtx core.RedirectContext
	if err := m.load(m.key(core.CurrentRedirectKey), &redirectCtx); err != nil {
		return nil, err
	}
	return &redirectCtx, nil
}

// ClearCurrent removes the current redirect context and the payload of its correlation token.
// Clearing an absent context is not an error.
func (m *MemoryStore) ClearCurrent(ctx context.Context) error {
	current, err := m.GetCurrent(ctx)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return err
	}
	m.cache.Delete(m.key(core.CurrentRedirectKey))
	if current != nil && current.CorrelationToken != "" {
		m.cache.Delete(m.key(core.PendingResultKey(current.CorrelationToken)))
	}
	return nil
}

// SetPayload stores the pending result for the given correlation token.
func (m *MemoryStore) SetPayload(ctx context.Context, correlationToken string, result *core.PendingResult) error {
	if correlationToken == "" {
		return ErrEmptyCorrelationToken
	}
	if result == nil {
		return ErrNilPendingResult
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal pending result: %w", err)
	}
	m.cache.Set(m.key(core.PendingResultKey(correlationToken)), data, m.ttl)
	return nil
}

// GetPayload returns the pending result for the given correlation token, or core.ErrNotFound.
func (m *MemoryStore) GetPayload(ctx context.Context, correlationToken string) (*core.PendingResult, error) {
	if correlationToken == "" {
		return nil, ErrEmptyCorrelationToken
	}
	var result core.PendingResult
	if err := m.load(m.key(core.PendingResultKey(correlationToken)), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ClearPayload removes the pending result for the given correlation token.
func (m *MemoryStore) ClearPayload(ctx context.Context, correlationToken string) error {
	if correlationToken == "" {
		return ErrEmptyCorrelationToken
	}
	m.cache.Delete(m.key(core.PendingResultKey(correlationToken)))
	return nil
}

func (m *MemoryStore) load(key string, v any) error {
	raw, ok := m.cache.Get(key)
	if !ok {
		return core.ErrNotFound
	}
	data, ok := raw.([]byte)
	if !ok {
		return fmt.Errorf("unexpected value type %T for key %s", raw, key)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

func sessionNamespace(sessionID string) string {
	if sessionID == "" {
		sessionID = defaultSessionID
	}
	return "sso:session:" + sessionID + ":"
}
