package kernelstate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHappyPathTransitionsThroughToIdle(t *testing.T) {
	m := New()
	steps := []Trigger{
		TriggerToolValidated, TriggerExecutionComplete, TriggerVerificationPassed,
		TriggerMemoryWritten, TriggerAuditComplete,
	}
	for _, trig := range steps {
		result := m.Transition(trig)
		require.True(t, result.Accepted, "trigger %s should be accepted", trig)
	}
	require.Equal(t, StateIdle, m.Current())
	require.Len(t, m.History(), 5)
}

func TestRejectedTransitionNeverChangesState(t *testing.T) {
	m := New()
	result := m.Transition(TriggerApprovalGranted) // illegal from idle
	require.False(t, result.Accepted)
	require.Equal(t, StateIdle, m.Current())
	require.Len(t, m.History(), 1)
}

func TestEnterSafeModeFromAnyState(t *testing.T) {
	m := New()
	m.Transition(TriggerToolValidated) // idle -> executing
	result := m.Transition(TriggerEnterSafeMode)
	require.True(t, result.Accepted)
	require.Equal(t, StateSafeMode, m.Current())
}

func TestExitSafeModeReturnsToIdle(t *testing.T) {
	m := New()
	m.Transition(TriggerEnterSafeMode)
	result := m.Transition(TriggerExitSafeMode)
	require.True(t, result.Accepted)
	require.Equal(t, StateIdle, m.Current())
}

func TestFatalErrorFromAnyState(t *testing.T) {
	m := New()
	m.Transition(TriggerApprovalRequired) // idle -> awaiting_approval
	result := m.Transition(TriggerFatalError)
	require.True(t, result.Accepted)
	require.Equal(t, StateError, m.Current())
}
