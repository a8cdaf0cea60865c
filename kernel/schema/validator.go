package schema

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/time/rate"

	"github.com/autonomy-kernel/kernel/internal/telemetry"
)

// Validator is the SchemaValidator (C2) contract of SPEC_FULL.md §4.2:
// compiled schemas are registered once, then every ProposedToolCall is
// validated against its tool's compiled input schema.
type Validator interface {
	// Register compiles contract.InputSchema/OutputSchema and stores the
	// contract under contract.Name, replacing any previous registration.
	Register(contract ToolContract) error
	// Contract returns the registered contract for name, if any.
	Contract(name string) (ToolContract, bool)
	// Validate checks call against its tool's compiled input schema and
	// applies schema defaults, producing ValidatedParams.
	Validate(ctx context.Context, call ProposedToolCall) Result
}

type compiledContract struct {
	contract ToolContract
	input    *jsonschema.Schema
	output   *jsonschema.Schema
	limiter  *rate.Limiter
}

// newRateLimiter builds a token-bucket limiter enforcing contract's
// RateLimit.Max invocations per RateLimit.WindowMs, grounded on the
// teacher's AdaptiveRateLimiter construction (features/model/middleware/
// ratelimit.go's rate.NewLimiter(rate.Limit(tpm/60.0), int(tpm))): burst
// equals the window's full allowance, refill rate spreads that allowance
// evenly across the window.
func newRateLimiter(rl *RateLimit) *rate.Limiter {
	if rl == nil || rl.Max <= 0 || rl.WindowMs <= 0 {
		return nil
	}
	windowSeconds := float64(rl.WindowMs) / 1000.0
	if windowSeconds <= 0 {
		return nil
	}
	perSecond := float64(rl.Max) / windowSeconds
	return rate.NewLimiter(rate.Limit(perSecond), rl.Max)
}

// InMemory is a Validator backed by a map of pre-compiled contracts,
// grounded on the registry.Service pattern of compiling jsonschema.Schema
// values once at registration time rather than per-call.
type InMemory struct {
	mu        sync.RWMutex
	contracts map[string]compiledContract
	logger    telemetry.Logger
	metrics   telemetry.Metrics
}

// Options configures an InMemory validator.
type Options struct {
	Logger  telemetry.Logger
	Metrics telemetry.Metrics
}

// New constructs an InMemory Validator.
func New(opts Options) *InMemory {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &InMemory{
		contracts: make(map[string]compiledContract),
		logger:    logger,
		metrics:   metrics,
	}
}

// Register implements Validator.
func (v *InMemory) Register(contract ToolContract) error {
	cc := compiledContract{contract: contract, limiter: newRateLimiter(contract.RateLimit)}

	if len(contract.InputSchema) > 0 {
		sch, err := compile(contract.Name+"#input", contract.InputSchema)
		if err != nil {
			return fmt.Errorf("schema: compile input schema for %q: %w", contract.Name, err)
		}
		cc.input = sch
	}
	if len(contract.OutputSchema) > 0 {
		sch, err := compile(contract.Name+"#output", contract.OutputSchema)
		if err != nil {
			return fmt.Errorf("schema: compile output schema for %q: %w", contract.Name, err)
		}
		cc.output = sch
	}

	v.mu.Lock()
	v.contracts[contract.Name] = cc
	v.mu.Unlock()
	return nil
}

func compile(resourceName string, doc []byte) (*jsonschema.Schema, error) {
	var decoded any
	if err := json.Unmarshal(doc, &decoded); err != nil {
		return nil, fmt.Errorf("decode schema document: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(resourceName, decoded); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile(resourceName)
}

// Contract implements Validator.
func (v *InMemory) Contract(name string) (ToolContract, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	cc, ok := v.contracts[name]
	if !ok {
		return ToolContract{}, false
	}
	return cc.contract, true
}

// Validate implements Validator. Unknown tools produce a single
// "unknown_tool" FieldIssue per SPEC_FULL.md §4.2; otherwise the call's
// params are validated against the compiled input schema and InputSchema
// defaults are merged into ValidatedParams.
func (v *InMemory) Validate(ctx context.Context, call ProposedToolCall) Result {
	v.mu.RLock()
	cc, ok := v.contracts[call.Tool]
	v.mu.RUnlock()

	if !ok {
		v.metrics.IncCounter("autonomy_schema_unknown_tool_total", 1, "tool", call.Tool)
		return Result{
			Valid: false,
			Errors: []FieldIssue{{
				Field:      "tool",
				Message:    fmt.Sprintf("unknown tool %q", call.Tool),
				Constraint: "unknown_tool",
			}},
		}
	}

	if cc.limiter != nil && !cc.limiter.Allow() {
		v.metrics.IncCounter("autonomy_schema_rate_limited_total", 1, "tool", call.Tool)
		return Result{
			Valid: false,
			Errors: []FieldIssue{{
				Field:      "tool",
				Message:    fmt.Sprintf("tool %q exceeded its configured rate limit", call.Tool),
				Constraint: "rate_limit_exceeded",
			}},
			RiskClass: cc.contract.RiskClass,
		}
	}

	params := call.Params
	if params == nil {
		params = map[string]any{}
	}

	if cc.input == nil {
		return Result{
			Valid:            true,
			ValidatedParams:  params,
			RiskClass:        cc.contract.RiskClass,
			RequiresApproval: cc.contract.RequiresApproval,
		}
	}

	// jsonschema validates through the standard decoded-JSON representation
	// (map[string]any / []any / float64 / string / bool / nil), so round-trip
	// params through JSON to normalize numeric and nested types first.
	normalized, err := roundTrip(params)
	if err != nil {
		return Result{
			Valid: false,
			Errors: []FieldIssue{{
				Field:      "params",
				Message:    err.Error(),
				Constraint: "invalid_json",
			}},
		}
	}

	if err := cc.input.Validate(normalized); err != nil {
		v.metrics.IncCounter("autonomy_schema_validation_failed_total", 1, "tool", call.Tool)
		return Result{
			Valid:     false,
			Errors:    toFieldIssues(err),
			RiskClass: cc.contract.RiskClass,
		}
	}

	validated, _ := normalized.(map[string]any)
	if validated == nil {
		validated = map[string]any{}
	}
	applyDefaults(cc.contract.InputSchema, validated)

	return Result{
		Valid:            true,
		ValidatedParams:  validated,
		RiskClass:        cc.contract.RiskClass,
		RequiresApproval: cc.contract.RequiresApproval,
	}
}

func roundTrip(v map[string]any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// toFieldIssues translates a *jsonschema.ValidationError tree into the flat
// FieldIssue shape used throughout the kernel, adapted from the teacher's
// tools.FieldIssue (runtime/agent/tools/issue.go).
func toFieldIssues(err error) []FieldIssue {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []FieldIssue{{Field: "", Message: err.Error(), Constraint: "schema_validation"}}
	}
	var issues []FieldIssue
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			field := "/"
			if len(e.InstanceLocation) > 0 {
				field = "/" + joinPointer(e.InstanceLocation)
			}
			issues = append(issues, FieldIssue{
				Field:      field,
				Message:    e.Error(),
				Constraint: constraintName(e),
			})
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return issues
}

func joinPointer(segments []string) string {
	out := ""
	for i, s := range segments {
		if i > 0 {
			out += "/"
		}
		out += s
	}
	return out
}

// constraintName maps a validation error's failing keyword to the kernel's
// semantic constraint vocabulary by the concrete ErrorKind type, per the
// jsonschema/v6 kind package's typed-kind design.
func constraintName(e *jsonschema.ValidationError) string {
	switch e.Kind.(type) {
	case *kind.Required:
		return "missing_field"
	case *kind.Enum:
		return "invalid_enum_value"
	case *kind.Minimum, *kind.Maximum, *kind.ExclusiveMinimum, *kind.ExclusiveMaximum,
		*kind.MinLength, *kind.MaxLength, *kind.MinItems, *kind.MaxItems,
		*kind.MinProperties, *kind.MaxProperties:
		return "invalid_range"
	case *kind.Type:
		return "invalid_type"
	case *kind.Pattern:
		return "invalid_pattern"
	default:
		return "schema_validation"
	}
}

// applyDefaults merges top-level "default" values from a JSON Schema
// document's "properties" into validated, for any property absent from the
// call's params. Nested defaults are the responsibility of nested schemas
// and are not applied: only top-level defaults are.
func applyDefaults(schemaDoc []byte, validated map[string]any) {
	var doc struct {
		Properties map[string]struct {
			Default any `json:"default"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(schemaDoc, &doc); err != nil {
		return
	}
	for name, prop := range doc.Properties {
		if _, present := validated[name]; present {
			continue
		}
		if prop.Default != nil {
			validated[name] = prop.Default
		}
	}
}
