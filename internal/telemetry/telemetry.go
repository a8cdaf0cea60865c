// Package telemetry defines the logging, metrics, and tracing interfaces
// shared by every kernel component. Components never import an
// observability backend directly; they accept Logger/Metrics/Tracer at
// construction time so a caller can wire noop implementations in tests and
// OpenTelemetry/Clue-backed implementations in production.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Logger emits structured log messages. Key-value pairs follow the
	// conventional alternating key/value variadic shape.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics records counters, timers, and gauges. tags are flattened
	// key/value pairs appended to the metric's attribute set.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, d time.Duration, tags ...string)
		RecordGauge(name string, value float64, tags ...string)
	}

	// Tracer starts spans for kernel operations.
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
		Span(ctx context.Context) Span
	}

	// Span is the minimal span surface kernel components rely on.
	Span interface {
		End(opts ...trace.SpanEndOption)
		AddEvent(name string, keyvals ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error, opts ...trace.EventOption)
	}
)
