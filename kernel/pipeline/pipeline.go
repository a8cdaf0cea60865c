// Package pipeline implements the ToolExecutionPipeline (component C12) of
// SPEC_FULL.md §4.10: the orchestrator driving a single proposed tool call
// through validation, safe-mode gating, approval routing, execution,
// verification, invariant checking, and compensation, appending an event at
// every stage under a shared correlationId.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/autonomy-kernel/kernel/internal/bus"
	"github.com/autonomy-kernel/kernel/internal/telemetry"
	"github.com/autonomy-kernel/kernel/kernel/actionhandler"
	"github.com/autonomy-kernel/kernel/kernel/approval"
	"github.com/autonomy-kernel/kernel/kernel/compensation"
	"github.com/autonomy-kernel/kernel/kernel/eventstore"
	"github.com/autonomy-kernel/kernel/kernel/invariant"
	"github.com/autonomy-kernel/kernel/kernel/kernelerr"
	"github.com/autonomy-kernel/kernel/kernel/kernelstate"
	"github.com/autonomy-kernel/kernel/kernel/schema"
	"github.com/autonomy-kernel/kernel/kernel/verifier"
)

// Config is the pipeline's RunPolicy-equivalent, per SPEC_FULL.md §4.10.
type Config struct {
	AutoApproveReadOnly bool
	AutoApproveSources  []schema.Source
	MaxConcurrent       int           // default 1
	DefaultTimeout      time.Duration // per-tool fallback when the contract sets none; default 30s
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 1
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	return c
}

func (c Config) autoApproveSource(s schema.Source) bool {
	for _, src := range c.AutoApproveSources {
		if src == s {
			return true
		}
	}
	return false
}

// StageEvidence is the per-call evidence object of DESIGN NOTES §9's
// replacement for a global "captured action" side channel: populated
// stage-by-stage and returned as Result.Evidence, never stored on the
// Pipeline itself.
type StageEvidence struct {
	Validation    *schema.Result
	ApprovalID    string
	Approval      *approval.Result
	ExecutionResult any
	Verification  *verifier.Report
	Invariants    *invariant.Report
	Compensation  *compensation.Outcome
	Incident      *compensation.Incident
}

// Result is the outcome of a single pipeline execution.
type Result struct {
	Success       bool
	CorrelationID string
	RequestID     string
	FailureReason string
	FinalState    kernelstate.State
	Evidence      StageEvidence
}

// Pipeline is the ToolExecutionPipeline (C12). All collaborators are
// supplied at construction time (interface-and-injection, per §9); no
// collaborator holds a back-reference to the Pipeline.
type Pipeline struct {
	events       eventstore.Store
	validator    schema.Validator
	approvals    approval.Gate
	actions      *actionhandler.Registry
	verifier     *verifier.Verifier
	invariants   *invariant.Checker
	compensation *compensation.Registry
	incidents    *compensation.IncidentManager
	state        *kernelstate.Machine
	bus          bus.Bus

	cfg     Config
	logger  telemetry.Logger
	metrics telemetry.Metrics
	sem     chan struct{}
}

// Deps bundles every collaborator the Pipeline consumes.
type Deps struct {
	Events       eventstore.Store
	Validator    schema.Validator
	Approvals    approval.Gate
	Actions      *actionhandler.Registry
	Verifier     *verifier.Verifier
	Invariants   *invariant.Checker
	Compensation *compensation.Registry
	Incidents    *compensation.IncidentManager
	State        *kernelstate.Machine
	Bus          bus.Bus
	Logger       telemetry.Logger
	Metrics      telemetry.Metrics
}

// New constructs a Pipeline.
func New(deps Deps, cfg Config) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	cfg = cfg.withDefaults()
	return &Pipeline{
		events:       deps.Events,
		validator:    deps.Validator,
		approvals:    deps.Approvals,
		actions:      deps.Actions,
		verifier:     deps.Verifier,
		invariants:   deps.Invariants,
		compensation: deps.Compensation,
		incidents:    deps.Incidents,
		state:        deps.State,
		bus:          deps.Bus,
		cfg:          cfg,
		logger:       logger,
		metrics:      metrics,
		sem:          make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Execute is the single entry point driving call through the eight
// pseudo-stages of SPEC_FULL.md §4.10. Backpressure: when MaxConcurrent
// concurrent executions are already running, Execute blocks (FIFO via the
// channel semaphore) until a slot frees up or ctx is canceled.
func (p *Pipeline) Execute(ctx context.Context, call schema.ProposedToolCall) (Result, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	defer func() { <-p.sem }()

	requestID := call.RequestID
	if requestID == "" {
		requestID = eventstore.NewRequestID()
	}
	correlationID := uuid.NewString()

	p.publish(ctx, bus.TopicPipelineStarted, map[string]any{
		"request_id": requestID, "correlation_id": correlationID, "tool": call.Tool,
	})

	run := &execution{
		p:             p,
		ctx:           ctx,
		call:          call,
		requestID:     requestID,
		correlationID: correlationID,
		evidence:      StageEvidence{},
	}
	result, err := run.run()

	p.publish(ctx, bus.TopicPipelineCompleted, map[string]any{
		"request_id": requestID, "correlation_id": correlationID, "tool": call.Tool,
		"success": result.Success, "final_state": string(result.FinalState),
	})
	return result, err
}

func (p *Pipeline) publish(ctx context.Context, topic string, payload map[string]any) {
	if p.bus == nil {
		return
	}
	_ = p.bus.Publish(ctx, bus.Event{Topic: topic, Payload: payload})
}

// kernelErrorFor maps a pipeline failure reason to its kernelerr Kind.
func kernelErrorFor(reason string) *kernelerr.KernelError {
	switch reason {
	case "validation_failed":
		return kernelerr.New(kernelerr.KindValidation, reason)
	case "safe_mode_restricted":
		return kernelerr.New(kernelerr.KindSafeModeRestriction, reason)
	case "approval_denied":
		return kernelerr.New(kernelerr.KindApprovalDenied, reason)
	case "approval_expired":
		return kernelerr.New(kernelerr.KindApprovalExpired, reason)
	case "execution_error":
		return kernelerr.New(kernelerr.KindExecutionError, reason)
	case "critical_verification_failure":
		return kernelerr.New(kernelerr.KindCriticalVerificationFailure, reason)
	case "critical_invariant_violation":
		return kernelerr.New(kernelerr.KindCriticalInvariantViolation, reason)
	default:
		return kernelerr.New(kernelerr.KindExecutionError, reason)
	}
}
