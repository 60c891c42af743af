package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"
)

// instrumentationName names this module's OTEL instrumentation scope.
const instrumentationName = "github.com/brianchuang/agent-sub000/runtime"

// ClueLogger backs Logger with goa.design/clue/log, reading the active
// format and debug settings from ctx the way Clue's log.Context wiring
// expects. Selected by cmd/worker's TELEMETRY_BACKEND=clue option in
// place of NoopLogger.
type ClueLogger struct{}

// NewClueLogger constructs a Logger that delegates to goa.design/clue/log.
func NewClueLogger() Logger { return ClueLogger{} }

func (ClueLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	log.Debug(ctx, fields(msg, "", keyvals)...)
}

func (ClueLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	log.Info(ctx, fields(msg, "", keyvals)...)
}

func (ClueLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	log.Warn(ctx, fields(msg, "warning", keyvals)...)
}

func (ClueLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	log.Error(ctx, nil, fields(msg, "", keyvals)...)
}

// fields assembles the Clue field list shared by all four log levels:
// the message, an optional severity override, then the caller's
// key-value pairs.
func fields(msg, severity string, keyvals []any) []log.Fielder {
	out := make([]log.Fielder, 0, 2+len(keyvals)/2)
	out = append(out, log.KV{K: "msg", V: msg})
	if severity != "" {
		out = append(out, log.KV{K: "severity", V: severity})
	}
	for i := 0; i < len(keyvals); i += 2 {
		k := keyString(keyvals[i])
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		out = append(out, log.KV{K: k, V: v})
	}
	return out
}

// ClueMetrics backs Metrics with OTEL instruments pulled from the
// process-global MeterProvider; callers configure that provider (e.g.
// via clue.ConfigureOpenTelemetry) before any runtime operation runs.
type ClueMetrics struct {
	meter metric.Meter
}

// NewClueMetrics constructs a Metrics recorder backed by OTEL metrics.
func NewClueMetrics() Metrics {
	return &ClueMetrics{meter: otel.Meter(instrumentationName)}
}

func (m *ClueMetrics) IncCounter(name string, value float64, tags ...string) {
	counter, err := m.meter.Float64Counter(name)
	if err != nil {
		return
	}
	counter.Add(context.Background(), value, metric.WithAttributes(attrPairs(tags)...))
}

func (m *ClueMetrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	histogram, err := m.meter.Float64Histogram(name)
	if err != nil {
		return
	}
	histogram.Record(context.Background(), duration.Seconds(), metric.WithAttributes(attrPairs(tags)...))
}

// RecordGauge approximates a point-in-time gauge with a histogram
// recording, since the OTEL metric SDK exposes no synchronous gauge
// instrument; the "_gauge" suffix keeps it distinct from any timer
// recorded under the same base name.
func (m *ClueMetrics) RecordGauge(name string, value float64, tags ...string) {
	histogram, err := m.meter.Float64Histogram(name + "_gauge")
	if err != nil {
		return
	}
	histogram.Record(context.Background(), value, metric.WithAttributes(attrPairs(tags)...))
}

// ClueTracer backs Tracer with OTEL spans from the process-global
// TracerProvider.
type ClueTracer struct {
	tracer trace.Tracer
}

// NewClueTracer constructs a Tracer backed by OTEL tracing.
func NewClueTracer() Tracer {
	return &ClueTracer{tracer: otel.Tracer(instrumentationName)}
}

func (t *ClueTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	newCtx, span := t.tracer.Start(ctx, name, opts...)
	return newCtx, clueSpan{span: span}
}

func (t *ClueTracer) Span(ctx context.Context) Span {
	return clueSpan{span: trace.SpanFromContext(ctx)}
}

type clueSpan struct {
	span trace.Span
}

func (s clueSpan) End(opts ...trace.SpanEndOption) { s.span.End(opts...) }

func (s clueSpan) AddEvent(name string, attrs ...any) {
	s.span.AddEvent(name, trace.WithAttributes(kvAttrs(attrs)...))
}

func (s clueSpan) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}

func (s clueSpan) RecordError(err error, opts ...trace.EventOption) {
	s.span.RecordError(err, opts...)
}

// kvAttrs converts a variadic key/value event-attribute list (odd
// entries drop their trailing key) into OTEL attributes, stringifying
// non-string values.
func kvAttrs(kv []any) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, attribute.String(keyString(kv[i]), valueString(kv[i+1])))
	}
	return out
}

// attrPairs converts Metrics' flat tags list ("k1", "v1", "k2", "v2",
// ...) into OTEL attributes.
func attrPairs(tags []string) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		out = append(out, attribute.String(tags[i], tags[i+1]))
	}
	return out
}

func keyString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return "key"
}

func valueString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
