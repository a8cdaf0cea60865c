package pipeline

import (
	"context"
	"time"

	"github.com/autonomy-kernel/kernel/internal/bus"
	"github.com/autonomy-kernel/kernel/kernel/approval"
	"github.com/autonomy-kernel/kernel/kernel/compensation"
	"github.com/autonomy-kernel/kernel/kernel/eventstore"
	"github.com/autonomy-kernel/kernel/kernel/invariant"
	"github.com/autonomy-kernel/kernel/kernel/kernelstate"
	"github.com/autonomy-kernel/kernel/kernel/schema"
	"github.com/autonomy-kernel/kernel/kernel/verifier"
)

// execution carries per-call mutable state: a Pipeline may run many
// executions concurrently (bounded by Config.MaxConcurrent), so nothing
// request-scoped may live on the Pipeline itself.
type execution struct {
	p             *Pipeline
	ctx           context.Context
	call          schema.ProposedToolCall
	requestID     string
	correlationID string
	evidence      StageEvidence

	eventCount       int
	pendingApprovals []invariant.PendingApproval
	incidentStatuses []string
	failedBeforeStateOut bool
}

func (e *execution) append(typ eventstore.Type, payload map[string]any) {
	e.eventCount++
	if _, err := e.p.events.Append(e.ctx, e.requestID, typ, payload, e.correlationID); err != nil {
		e.p.logger.Warn(e.ctx, "pipeline: event append failed", "err", err, "type", string(typ))
	}
}

func (e *execution) fail(reason string) Result {
	e.append(eventstore.TypeFailed, map[string]any{"reason": reason})
	e.append(eventstore.TypeDecisionLogged, e.decisionSummary(false, reason))
	e.p.publish(e.ctx, bus.TopicDecisionLogged, map[string]any{
		"request_id": e.requestID, "correlation_id": e.correlationID, "success": false, "reason": reason,
	})
	return Result{
		Success:       false,
		CorrelationID: e.correlationID,
		RequestID:     e.requestID,
		FailureReason: reason,
		FinalState:    e.p.state.Current(),
		Evidence:      e.evidence,
	}
}

func (e *execution) decisionSummary(success bool, reason string) map[string]any {
	summary := map[string]any{"success": success}
	if reason != "" {
		summary["error"] = reason
	}
	if e.evidence.Validation != nil {
		summary["validation"] = map[string]any{"valid": e.evidence.Validation.Valid}
	}
	if e.evidence.Approval != nil {
		summary["approval"] = map[string]any{"decision": string(e.evidence.Approval.Decision)}
	}
	if e.evidence.Verification != nil {
		summary["verification"] = map[string]any{
			"status":              string(e.evidence.Verification.Status),
			"has_critical_failure": e.evidence.Verification.HasCriticalFailure,
		}
	}
	if e.evidence.Invariants != nil {
		summary["invariants"] = map[string]any{
			"status":                string(e.evidence.Invariants.Status),
			"has_critical_violation": e.evidence.Invariants.HasCriticalViolation,
		}
	}
	if e.evidence.Incident != nil {
		summary["incident"] = map[string]any{"id": e.evidence.Incident.ID, "status": string(e.evidence.Incident.Status)}
	}
	return summary
}

// run drives the call through the eight pseudo-stages of SPEC_FULL.md
// §4.10.
func (e *execution) run() (Result, error) {
	// Stage 1: generate correlationId (already done); append proposed.
	e.append(eventstore.TypeProposed, map[string]any{"tool": e.call.Tool, "source": string(e.call.Source)})

	// Stage 2: validate.
	validation := e.p.validator.Validate(e.ctx, e.call)
	e.evidence.Validation = &validation
	e.append(eventstore.TypeValidated, map[string]any{"valid": validation.Valid})
	if !validation.Valid {
		return e.fail("validation_failed"), nil
	}

	contract, _ := e.p.validator.Contract(e.call.Tool)
	readOnly := validation.RiskClass == schema.RiskReadOnly

	// Stage 3: safe-mode gate.
	if e.p.state.Current() == kernelstate.StateSafeMode && !readOnly {
		e.p.publish(e.ctx, bus.TopicSafeModeToolBlocked, map[string]any{"tool": e.call.Tool, "request_id": e.requestID})
		return e.fail("safe_mode_restricted"), nil
	}

	// Stage 4: approval routing.
	approvalRequired := validation.RequiresApproval &&
		!(e.p.cfg.AutoApproveReadOnly && readOnly) &&
		!e.p.cfg.autoApproveSource(e.call.Source)

	if approvalRequired {
		if result, done := e.requestApproval(validation); done {
			return result, nil
		}
	} else {
		e.p.state.Transition(kernelstate.TriggerToolValidated)
	}

	// Stage 5: execute.
	e.append(eventstore.TypeExecuting, nil)
	execCtx := e.ctx
	var cancel context.CancelFunc
	timeout := e.p.cfg.DefaultTimeout
	if contract.MaxDuration > 0 {
		timeout = contract.MaxDuration
	}
	if timeout > 0 {
		execCtx, cancel = context.WithTimeout(e.ctx, timeout)
	}
	result, err := e.p.actions.Dispatch(execCtx, e.call.Tool, validation.ValidatedParams, e.requestID)
	if cancel != nil {
		cancel()
	}
	if err != nil {
		e.failedBeforeStateOut = true
		e.append(eventstore.TypeFailed, map[string]any{"reason": "execution_error", "detail": err.Error()})
		e.p.state.Transition(kernelstate.TriggerFatalError)
		return e.fail("execution_error"), nil
	}
	e.evidence.ExecutionResult = result
	e.append(eventstore.TypeExecuted, nil)
	e.p.state.Transition(kernelstate.TriggerExecutionComplete)

	// Stage 6: verify.
	report := e.p.verifier.Verify(e.ctx, verifier.Input{
		Tool: e.call.Tool, Params: validation.ValidatedParams, Result: result, RequestID: e.requestID,
	})
	e.evidence.Verification = &report
	e.append(eventstore.TypeVerified, map[string]any{
		"status": string(report.Status), "has_critical_failure": report.HasCriticalFailure,
	})
	e.p.publish(e.ctx, bus.TopicToolPostconditionChecked, map[string]any{"request_id": e.requestID, "status": string(report.Status)})

	if report.HasCriticalFailure {
		e.failedBeforeStateOut = true
		return e.handleCriticalOutcome(validation, "critical_verification_failure"), nil
	}

	e.p.state.Transition(kernelstate.TriggerVerificationPassed)
	e.p.state.Transition(kernelstate.TriggerMemoryWritten)

	// Stage 7: invariants (success path).
	invReport := e.runInvariants(validation)
	if invReport.HasCriticalViolation {
		e.failedBeforeStateOut = true
		return e.handleCriticalOutcome(validation, "critical_invariant_violation"), nil
	}
	e.evidence.Invariants = &invReport
	e.append(eventstore.TypeInvariantsChecked, map[string]any{"has_critical_violation": invReport.HasCriticalViolation})
	e.p.publish(e.ctx, bus.TopicInvariantsChecked, map[string]any{
		"request_id": e.requestID, "correlation_id": e.correlationID, "has_critical_violation": invReport.HasCriticalViolation,
	})

	e.p.state.Transition(kernelstate.TriggerAuditComplete)

	// Stage 8: decision:logged summary.
	e.append(eventstore.TypeDecisionLogged, e.decisionSummary(true, ""))
	e.p.publish(e.ctx, bus.TopicDecisionLogged, map[string]any{
		"request_id": e.requestID, "correlation_id": e.correlationID, "success": true,
	})
	return Result{
		Success:       true,
		CorrelationID: e.correlationID,
		RequestID:     e.requestID,
		FinalState:    e.p.state.Current(),
		Evidence:      e.evidence,
	}, nil
}

// requestApproval runs the approval sub-flow of stage 4. Returns
// (result, true) if the call concludes here (denied/expired), or
// (Result{}, false) to continue to execution.
func (e *execution) requestApproval(validation schema.Result) (Result, bool) {
	e.p.state.Transition(kernelstate.TriggerApprovalRequired)
	e.append(eventstore.TypeApprovalRequested, map[string]any{"tool": e.call.Tool})

	pending := invariant.PendingApproval{RequestedAt: time.Now(), TTL: approvalTTL(e.p), Resolved: false}
	e.pendingApprovals = append(e.pendingApprovals, pending)

	approvalResult, err := e.p.approvals.RequestApproval(e.ctx, e.call.Tool, validation.ValidatedParams, approval.RiskClass(validation.RiskClass), e.requestID)
	if err != nil && approvalResult.Decision == "" {
		approvalResult.Decision = approval.DecisionExpired
	}
	e.evidence.Approval = &approvalResult
	e.evidence.ApprovalID = approvalResult.ID
	e.pendingApprovals[len(e.pendingApprovals)-1].Resolved = true
	e.append(eventstore.TypeApprovalResolved, map[string]any{"decision": string(approvalResult.Decision)})

	switch approvalResult.Decision {
	case approval.DecisionGranted:
		e.p.state.Transition(kernelstate.TriggerApprovalGranted)
		return Result{}, false
	case approval.DecisionDenied:
		e.p.state.Transition(kernelstate.TriggerApprovalDenied)
		return e.fail("approval_denied"), true
	default: // expired, or anything else
		e.p.state.Transition(kernelstate.TriggerApprovalExpired)
		return e.fail("approval_expired"), true
	}
}

func approvalTTL(p *Pipeline) time.Duration {
	return approval.DefaultTimeout
}

func (e *execution) runInvariants(validation schema.Result) invariant.Report {
	return e.p.invariants.Check(invariant.Snapshot{
		CurrentState:         e.p.state.Current(),
		PendingApprovals:     e.pendingApprovals,
		EventCount:           e.eventCount,
		ExecutionSucceeded:   true,
		RiskClass:            string(validation.RiskClass),
		FailedBeforeStateOut: e.failedBeforeStateOut,
		Now:                  time.Now(),
		IncidentStatuses:     e.incidentStatuses,
	})
}

// handleCriticalOutcome implements the shared compensation + incident flow
// used by both stage 6 (critical verification failure) and stage 7
// (critical invariant violation).
func (e *execution) handleCriticalOutcome(validation schema.Result, reason string) Result {
	e.p.state.Transition(kernelstate.TriggerFatalError)

	if validation.RiskClass == schema.RiskReversible {
		call := compensation.Call{
			Tool: e.call.Tool, Params: validation.ValidatedParams,
			Result: e.evidence.ExecutionResult, RequestID: e.requestID,
		}
		outcome, cerr := e.p.compensation.Compensate(e.ctx, call)
		e.evidence.Compensation = &outcome
		e.p.publish(e.ctx, bus.TopicCompensationAttempted, map[string]any{
			"request_id": e.requestID, "success": outcome.Success,
		})
		e.append(eventstore.TypeCompensated, map[string]any{"success": outcome.Success, "detail": outcome.Detail})

		if cerr != nil || !outcome.Success {
			incident := e.p.incidents.Open(e.requestID, e.call.Tool, string(validation.RiskClass), reason, &outcome)
			e.evidence.Incident = &incident
			e.incidentStatuses = append(e.incidentStatuses, string(incident.Status))
			e.append(eventstore.TypeCompensationIncidentOpened, map[string]any{"incident_id": incident.ID, "status": string(incident.Status)})
			e.p.publish(e.ctx, bus.TopicCompensationIncidentOpened, map[string]any{"incident_id": incident.ID})
		}
	} else if validation.RiskClass == schema.RiskIrreversible {
		incident := e.p.incidents.Open(e.requestID, e.call.Tool, string(validation.RiskClass), reason, nil)
		e.evidence.Incident = &incident
		e.incidentStatuses = append(e.incidentStatuses, string(incident.Status))
		e.append(eventstore.TypeCompensationIncidentOpened, map[string]any{"incident_id": incident.ID, "status": string(incident.Status)})
	}

	e.p.state.Transition(kernelstate.TriggerRecover)

	invReport := e.runInvariants(validation)
	e.evidence.Invariants = &invReport
	e.append(eventstore.TypeInvariantsChecked, map[string]any{"has_critical_violation": invReport.HasCriticalViolation})
	e.p.publish(e.ctx, bus.TopicInvariantsChecked, map[string]any{
		"request_id": e.requestID, "correlation_id": e.correlationID, "has_critical_violation": invReport.HasCriticalViolation,
	})

	return e.fail(reason)
}
