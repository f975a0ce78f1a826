package session_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justinrush/gridlock-mpc-engine/session"
)

func TestValidLifecycleTransitions(t *testing.T) {
	s := session.New("sess-1")
	assert.Equal(t, session.Created, s.State())

	require.NoError(t, s.Transition(session.Joining))
	require.NoError(t, s.Transition(session.Running))
	require.NoError(t, s.Transition(session.Completed))
	assert.Equal(t, session.Completed, s.State())
}

func TestInvalidTransitionRejected(t *testing.T) {
	s := session.New("sess-2")
	assert.Error(t, s.Transition(session.Running))
	assert.Error(t, s.Transition(session.Completed))
}

func TestAbortFromAnyNonTerminalState(t *testing.T) {
	s := session.New("sess-3")
	require.NoError(t, s.Transition(session.Joining))
	s.Abort()
	assert.Equal(t, session.Aborted, s.State())
}

func TestAbortIsNoOpOnceCompleted(t *testing.T) {
	s := session.New("sess-4")
	require.NoError(t, s.Transition(session.Joining))
	require.NoError(t, s.Transition(session.Running))
	require.NoError(t, s.Transition(session.Completed))
	s.Abort()
	assert.Equal(t, session.Completed, s.State())
}
