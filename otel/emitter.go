package otel

import (
	"github.com/petal-labs/petaltask/runtime"
)

// EnrichEmitter wraps an EventEmitter with OpenTelemetry trace context.
// Task-level events take the task span's IDs when one is active and fall
// back to the run span. Events pass through unchanged when no span is active.
func EnrichEmitter(emit runtime.EventEmitter, tracing *TracingHandler) runtime.EventEmitter {
	return func(e runtime.Event) {
		if e.Task != "" {
			sc := tracing.ActiveSpanContext(e.RunID, e.Task)
			if sc.IsValid() {
				e.TraceID = sc.TraceID().String()
				e.SpanID = sc.SpanID().String()
			}
		}
		if e.TraceID == "" && e.RunID != "" {
			sc := tracing.ActiveRunSpanContext(e.RunID)
			if sc.IsValid() {
				e.TraceID = sc.TraceID().String()
				e.SpanID = sc.SpanID().String()
			}
		}
		emit(e)
	}
}

// Decorator returns EnrichEmitter as a runtime.EventEmitterDecorator.
func Decorator(tracing *TracingHandler) runtime.EventEmitterDecorator {
	return func(emit runtime.EventEmitter) runtime.EventEmitter {
		return EnrichEmitter(emit, tracing)
	}
}
