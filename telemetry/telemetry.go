// Package telemetry integrates the planner loop and queue runner with
// structured logging, metrics, and tracing.
// Grounded on goa.design/goa-ai's runtime/agents/telemetry/telemetry.go:
// the same small Logger/Metrics/Tracer interfaces, kept intentionally
// narrow so tests can supply lightweight stubs instead of a real Clue
// or OTEL backend.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger captures structured logging used throughout the runtime.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes counter and histogram helpers for runtime
// instrumentation. The planner loop records workflow_steps_total and
// policy_decisions_total, and the queue runner records
// queue_jobs_claimed_total, through this interface.
// MetricSignalsIngestedTotal is declared below but no package records it.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer abstracts span creation so runtime code stays agnostic of the
// underlying OpenTelemetry provider.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	Span(ctx context.Context) Span
}

// Span represents an in-flight tracing span.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}

// Metric name constants shared by the planner loop and queue runner, per
// SPEC_FULL.md's Ambient Stack metrics list.
const (
	MetricWorkflowStepsTotal    = "workflow_steps_total"
	MetricPolicyDecisionsTotal  = "policy_decisions_total"
	MetricQueueJobsClaimedTotal = "queue_jobs_claimed_total"
	MetricSignalsIngestedTotal  = "signals_ingested_total"
)
