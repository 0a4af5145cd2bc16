package sso

import (
	"context"
	"errors"
)

type machineKey struct{}

// WithMachine returns a new context carrying m.
func WithMachine(ctx context.Context, m *Machine) context.Context {
	return context.WithValue(ctx, machineKey{}, m)
}

// MachineFromContext retrieves the Machine stored by WithMachine.
func MachineFromContext(ctx context.Context) (*Machine, error) {
	m, ok := ctx.Value(machineKey{}).(*Machine)
	if !ok || m == nil {
		return nil, errors.New("missing sso machine")
	}
	return m, nil
}
