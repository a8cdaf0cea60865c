package invariant

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/autonomy-kernel/kernel/kernel/kernelstate"
)

func TestSafeModeReadOnlyBlocksNonReadOnly(t *testing.T) {
	result := SafeModeReadOnly(Snapshot{CurrentState: kernelstate.StateSafeMode, RiskClass: "reversible"})
	require.Equal(t, StatusFailed, result.Status)
	require.Equal(t, SeverityCritical, result.Severity)
}

func TestSafeModeReadOnlyAllowsReadOnly(t *testing.T) {
	result := SafeModeReadOnly(Snapshot{CurrentState: kernelstate.StateSafeMode, RiskClass: "read-only"})
	require.Equal(t, StatusPassed, result.Status)
}

func TestApprovalResolvedWithinTTLCatchesOverdueRequest(t *testing.T) {
	now := time.Now()
	result := ApprovalResolvedWithinTTL(Snapshot{
		Now: now,
		PendingApprovals: []PendingApproval{
			{RequestedAt: now.Add(-10 * time.Minute), TTL: 5 * time.Minute, Resolved: false},
		},
	})
	require.Equal(t, StatusFailed, result.Status)
}

func TestFailedPrecedesStateExit(t *testing.T) {
	result := FailedPrecedesStateExit(Snapshot{CurrentState: kernelstate.StateError, ExecutionSucceeded: false, FailedBeforeStateOut: false})
	require.Equal(t, StatusFailed, result.Status)

	result = FailedPrecedesStateExit(Snapshot{CurrentState: kernelstate.StateError, ExecutionSucceeded: false, FailedBeforeStateOut: true})
	require.Equal(t, StatusPassed, result.Status)
}

func TestIncidentStatusMonotonic(t *testing.T) {
	result := IncidentStatusMonotonic(Snapshot{IncidentStatuses: []string{"open", "acknowledged", "resolved"}})
	require.Equal(t, StatusPassed, result.Status)

	result = IncidentStatusMonotonic(Snapshot{IncidentStatuses: []string{"open", "resolved", "acknowledged"}})
	require.Equal(t, StatusFailed, result.Status)
}

func TestCheckerRollsUpCriticalViolation(t *testing.T) {
	c := New(Defaults()...)
	report := c.Check(Snapshot{
		CurrentState: kernelstate.StateSafeMode,
		RiskClass:    "irreversible",
		Now:          time.Now(),
	})
	require.True(t, report.HasCriticalViolation)
	require.Equal(t, StatusFailed, report.Status)
	require.Len(t, report.Checks, 4)
}
