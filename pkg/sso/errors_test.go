package sso

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Is(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := error(&Error{Kind: ErrTokenEndpoint, Level: LevelError, Message: "unreachable", Err: cause})

	assert.ErrorIs(t, err, ErrTokenEndpoint)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrTokenFormat)
	assert.Equal(t, "unreachable", err.Error())
}

func TestErrorBoard(t *testing.T) {
	board := NewErrorBoard()

	board.Report(Report{AuthID: AuthID, Source: ErrorSource, Level: LevelError, Message: "first"})
	board.Report(Report{AuthID: AuthID, Source: ErrorSource, Level: LevelWarning, Message: "second"})
	board.Report(Report{AuthID: "other", Source: "another", Level: LevelInfo, Message: "kept"})

	got, ok := board.Get(ErrorSource)
	require.True(t, ok)
	assert.Equal(t, "second", got.Message, "most recent report wins")
	assert.Len(t, board.All(), 2)

	board.Clear(ErrorSource)
	_, ok = board.Get(ErrorSource)
	assert.False(t, ok)
	assert.Equal(t, []Report{{AuthID: "other", Source: "another", Level: LevelInfo, Message: "kept"}}, board.All())
}

func TestReportOf(t *testing.T) {
	r := reportOf(errors.New("plain"))
	assert.Equal(t, Report{AuthID: AuthID, Source: ErrorSource, Level: LevelError, Message: "plain"}, r)

	r = reportOf(&Error{Kind: ErrCallback, Level: LevelWarning, Message: "cancelled"})
	assert.Equal(t, LevelWarning, r.Level)
	assert.Equal(t, "cancelled", r.Message)
}

func TestMachineContext(t *testing.T) {
	_, err := MachineFromContext(context.Background())
	assert.Error(t, err)

	m := NewMachine(Deps{})
	got, err := MachineFromContext(WithMachine(context.Background(), m))
	require.NoError(t, err)
	assert.Same(t, m, got)
}
