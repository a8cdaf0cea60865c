package invariant

import (
	"fmt"

	"github.com/autonomy-kernel/kernel/kernel/kernelstate"
)

// SafeModeReadOnly is built-in (a): no tool may execute while state is
// safe_mode unless its riskClass is read-only.
func SafeModeReadOnly(s Snapshot) CheckResult {
	if s.CurrentState != kernelstate.StateSafeMode {
		return CheckResult{Name: "safe_mode_read_only", Status: StatusPassed, Severity: SeverityInfo}
	}
	if s.RiskClass == "read-only" {
		return CheckResult{Name: "safe_mode_read_only", Status: StatusPassed, Severity: SeverityInfo}
	}
	return CheckResult{
		Name:     "safe_mode_read_only",
		Status:   StatusFailed,
		Severity: SeverityCritical,
		Detail:   fmt.Sprintf("tool with riskClass %q executed while in safe_mode", s.RiskClass),
	}
}

// ApprovalResolvedWithinTTL is built-in (b): every approval:requested has a
// matching approval:resolved within the TTL.
func ApprovalResolvedWithinTTL(s Snapshot) CheckResult {
	for _, p := range s.PendingApprovals {
		if p.Resolved {
			continue
		}
		if s.Now.Sub(p.RequestedAt) > p.TTL {
			return CheckResult{
				Name:     "approval_resolved_within_ttl",
				Status:   StatusFailed,
				Severity: SeverityCritical,
				Detail:   "approval request exceeded its TTL without resolution",
			}
		}
	}
	return CheckResult{Name: "approval_resolved_within_ttl", Status: StatusPassed, Severity: SeverityInfo}
}

// FailedPrecedesStateExit is built-in (c): failed events always precede a
// state transition out of executing.
func FailedPrecedesStateExit(s Snapshot) CheckResult {
	if s.CurrentState == kernelstate.StateExecuting {
		return CheckResult{Name: "failed_precedes_state_exit", Status: StatusPassed, Severity: SeverityInfo}
	}
	if !s.ExecutionSucceeded && !s.FailedBeforeStateOut {
		return CheckResult{
			Name:     "failed_precedes_state_exit",
			Status:   StatusFailed,
			Severity: SeverityCritical,
			Detail:   "left executing on an unsuccessful run without a preceding failed event",
		}
	}
	return CheckResult{Name: "failed_precedes_state_exit", Status: StatusPassed, Severity: SeverityInfo}
}

// IncidentStatusMonotonic is the supplemental built-in (d): every
// compensation:incident:opened progresses status monotonically
// (open -> acknowledged -> resolved), a natural consequence of the incident
// manager's contract that strengthens auditability.
func IncidentStatusMonotonic(s Snapshot) CheckResult {
	rank := map[string]int{"open": 0, "acknowledged": 1, "resolved": 2}
	last := -1
	for _, status := range s.IncidentStatuses {
		r, ok := rank[status]
		if !ok {
			continue
		}
		if r < last {
			return CheckResult{
				Name:     "incident_status_monotonic",
				Status:   StatusFailed,
				Severity: SeverityCritical,
				Detail:   fmt.Sprintf("incident status regressed to %q", status),
			}
		}
		last = r
	}
	return CheckResult{Name: "incident_status_monotonic", Status: StatusPassed, Severity: SeverityInfo}
}

// Defaults returns the built-in invariant set (a)-(d) in the order they
// should be registered.
func Defaults() []CheckFunc {
	return []CheckFunc{
		SafeModeReadOnly,
		ApprovalResolvedWithinTTL,
		FailedPrecedesStateExit,
		IncidentStatusMonotonic,
	}
}
