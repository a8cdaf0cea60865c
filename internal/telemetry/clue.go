package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"
)

type (
	// ClueLogger delegates to goa.design/clue/log. Formatting and debug
	// settings are read from the context via log.Context/log.WithFormat.
	ClueLogger struct{}

	// ClueMetrics delegates to the global OTEL MeterProvider.
	ClueMetrics struct {
		meter metric.Meter
	}

	// ClueTracer delegates to the global OTEL TracerProvider.
	ClueTracer struct {
		tracer trace.Tracer
	}

	clueSpan struct {
		span trace.Span
	}
)

// NewClueLogger constructs a Logger backed by goa.design/clue/log.
func NewClueLogger() Logger { return ClueLogger{} }

// NewClueMetrics constructs a Metrics recorder backed by OTEL metrics.
// Configure the MeterProvider via otel.SetMeterProvider before use.
func NewClueMetrics() Metrics {
	return &ClueMetrics{meter: otel.Meter("github.com/autonomy-kernel/kernel")}
}

// NewClueTracer constructs a Tracer backed by OTEL tracing.
// Configure the TracerProvider via otel.SetTracerProvider before use.
func NewClueTracer() Tracer {
	return &ClueTracer{tracer: otel.Tracer("github.com/autonomy-kernel/kernel")}
}

// Debug emits a debug-level log message.
func (ClueLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	log.Debug(ctx, append([]log.Fielder{log.KV{K: "msg", V: msg}}, kvSliceToClue(keyvals)...)...)
}

// Info emits an info-level log message.
func (ClueLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	log.Info(ctx, append([]log.Fielder{log.KV{K: "msg", V: msg}}, kvSliceToClue(keyvals)...)...)
}

// Warn emits a warning-level log message.
func (ClueLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	fielders := []log.Fielder{log.KV{K: "msg", V: msg}, log.KV{K: "severity", V: "warning"}}
	log.Warn(ctx, append(fielders, kvSliceToClue(keyvals)...)...)
}

// Error emits an error-level log message.
func (ClueLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	log.Error(ctx, nil, append([]log.Fielder{log.KV{K: "msg", V: msg}}, kvSliceToClue(keyvals)...)...)
}

// IncCounter increments a counter metric.
func (m *ClueMetrics) IncCounter(name string, value float64, tags ...string) {
	counter, err := m.meter.Float64Counter(name)
	if err != nil {
		return
	}
	counter.Add(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

// RecordTimer records a duration as a histogram, in seconds.
func (m *ClueMetrics) RecordTimer(name string, d time.Duration, tags ...string) {
	h, err := m.meter.Float64Histogram(name)
	if err != nil {
		return
	}
	h.Record(context.Background(), d.Seconds(), metric.WithAttributes(tagsToAttrs(tags)...))
}

// RecordGauge records a gauge value. OTEL has no synchronous gauge
// instrument, so the value is recorded on a histogram suffixed "_gauge".
func (m *ClueMetrics) RecordGauge(name string, value float64, tags ...string) {
	h, err := m.meter.Float64Histogram(name + "_gauge")
	if err != nil {
		return
	}
	h.Record(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

// Start creates a new span and returns the span-carrying context.
func (t *ClueTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	newCtx, span := t.tracer.Start(ctx, name, opts...)
	return newCtx, &clueSpan{span: span}
}

// Span retrieves the current span from the context.
func (t *ClueTracer) Span(ctx context.Context) Span {
	return &clueSpan{span: trace.SpanFromContext(ctx)}
}

// End finalizes the span.
func (s *clueSpan) End(opts ...trace.SpanEndOption) { s.span.End(opts...) }

// AddEvent records a span event.
func (s *clueSpan) AddEvent(name string, attrs ...any) {
	s.span.AddEvent(name, trace.WithAttributes(kvSliceToAttrs(attrs)...))
}

// SetStatus sets the span status code and description.
func (s *clueSpan) SetStatus(code codes.Code, description string) { s.span.SetStatus(code, description) }

// RecordError records an error on the span.
func (s *clueSpan) RecordError(err error, opts ...trace.EventOption) { s.span.RecordError(err, opts...) }

// kvSliceToClue converts alternating key/value pairs into Clue fielders.
// Non-string keys are skipped; a dangling final key pairs with nil.
func kvSliceToClue(keyvals []any) []log.Fielder {
	var fielders []log.Fielder
	for i := 0; i < len(keyvals); i += 2 {
		k, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		fielders = append(fielders, log.KV{K: k, V: v})
	}
	return fielders
}

// tagsToAttrs converts alternating tag key/value strings into OTEL attributes.
func tagsToAttrs(tags []string) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for i := 0; i < len(tags); i += 2 {
		v := ""
		if i+1 < len(tags) {
			v = tags[i+1]
		}
		attrs = append(attrs, attribute.String(tags[i], v))
	}
	return attrs
}

// kvSliceToAttrs converts alternating key/value pairs into OTEL span-event attributes.
func kvSliceToAttrs(keyvals []any) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for i := 0; i < len(keyvals); i += 2 {
		keyStr, _ := keyvals[i].(string)
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(keyStr, val))
		case int:
			attrs = append(attrs, attribute.Int(keyStr, val))
		case int64:
			attrs = append(attrs, attribute.Int64(keyStr, val))
		case float64:
			attrs = append(attrs, attribute.Float64(keyStr, val))
		case bool:
			attrs = append(attrs, attribute.Bool(keyStr, val))
		default:
			attrs = append(attrs, attribute.String(keyStr, ""))
		}
	}
	return attrs
}
