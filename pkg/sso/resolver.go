package sso

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-training/ssoflow/pkg/core"
)

const defaultCallbackMessage = "[Authorization failed]: Error when processing redirect callback"

// PendingState classifies the redirect found on (re)load.
type PendingState int

const (
	// PendingNone means no authorization attempt is in progress.
	PendingNone PendingState = iota
	// PendingWaiting means an attempt is in progress and the provider has not redirected back.
	PendingWaiting
	// PendingReady means a valid code was consumed.
	PendingReady
	// PendingFailed means the provider redirect carried an error or no usable code.
	PendingFailed
)

// PendingOutcome is the result of resolving a pending redirect.
type PendingOutcome struct {
	State            PendingState
	CorrelationToken string
	Code             string
	RedirectURL      string
	Err              *Error
}

// Resolver consumes the Pending Result of the current redirect context.
type Resolver struct {
	store  core.CorrelationStore
	errors ErrorChannel
}

// NewResolver creates a Resolver reporting failed callbacks to errs.
func NewResolver(store core.CorrelationStore, errs ErrorChannel) *Resolver {
	return &Resolver{store: store, errors: errs}
}

// Resolve inspects the current redirect context. Once a Pending Result is
// found the context is cleared whether or not the result is usable, so a
// code is consumed at most once.
func (r *Resolver) Resolve(ctx context.Context) (PendingOutcome, error) {
	current, err := r.store.GetCurrent(ctx)
	if errors.Is(err, core.ErrNotFound) || (err == nil && current.CorrelationToken == "") {
		return PendingOutcome{State: PendingNone}, nil
	}
	if err != nil {
		return PendingOutcome{}, fmt.Errorf("failed to load redirect context: %w", err)
	}

	result, err := r.store.GetPayload(ctx, current.CorrelationToken)
	if errors.Is(err, core.ErrNotFound) {
		return PendingOutcome{State: PendingWaiting, CorrelationToken: current.CorrelationToken}, nil
	}
	if err != nil {
		return PendingOutcome{}, fmt.Errorf("failed to load pending result: %w", err)
	}

	if err := r.store.ClearCurrent(ctx); err != nil {
		return PendingOutcome{}, fmt.Errorf("failed to clear redirect context: %w", err)
	}

	if !result.IsValid || result.Code == "" {
		cbErr := callbackError(result)
		if r.errors != nil {
			r.errors.Report(reportOf(cbErr))
		}
		return PendingOutcome{
			State:            PendingFailed,
			CorrelationToken: current.CorrelationToken,
			Err:              cbErr,
		}, nil
	}

	redirectURL := result.RedirectURL
	if redirectURL == "" {
		redirectURL = current.RedirectURL
	}
	return PendingOutcome{
		State:            PendingReady,
		CorrelationToken: current.CorrelationToken,
		Code:             result.Code,
		RedirectURL:      redirectURL,
	}, nil
}

func callbackError(result *core.PendingResult) *Error {
	e := &Error{Kind: ErrCallback, Level: LevelError, Message: defaultCallbackMessage}
	if result.Error != nil {
		if result.Error.Level != "" {
			e.Level = Level(result.Error.Level)
		}
		if result.Error.Message != "" {
			e.Message = result.Error.Message
		}
	}
	return e
}
