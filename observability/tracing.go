// Package observability provides ExecutionCallbacks implementations that
// export node executions as OpenTelemetry spans and Prometheus metrics. Both
// are opt-in: wire them through the engine's Callbacks option, chained if
// you want both.
package observability

import (
	"context"

	"github.com/storyloom-ai/storyloom"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/storyloom-ai/storyloom"

// TracingCallbacks records one span per node dispatch unit. Spans carry
// explicit timestamps from the event, so no per-unit bookkeeping is needed
// between the before/after hooks.
type TracingCallbacks struct {
	storyloom.BaseExecutionCallbacks
	tracer trace.Tracer
}

// NewTracingCallbacks uses the given tracer provider, or the global one when
// nil.
func NewTracingCallbacks(provider trace.TracerProvider) *TracingCallbacks {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &TracingCallbacks{tracer: provider.Tracer(tracerName)}
}

func (t *TracingCallbacks) AfterNodeExecution(ctx context.Context, event *storyloom.NodeEvent) {
	_, span := t.tracer.Start(ctx, "node."+event.Node,
		trace.WithTimestamp(event.StartTime),
		trace.WithAttributes(
			attribute.String("storyloom.thread_id", event.ThreadID),
			attribute.String("storyloom.node", event.Node),
			attribute.Int("storyloom.unit_index", event.UnitIndex),
		))
	if event.Err != nil {
		if _, suspended := storyloom.AsSuspend(event.Err); suspended {
			span.SetAttributes(attribute.Bool("storyloom.suspended", true))
		} else {
			span.RecordError(event.Err)
			span.SetStatus(codes.Error, event.Err.Error())
		}
	}
	span.End(trace.WithTimestamp(event.EndTime))
}
