// Package otel provides OpenTelemetry integration for petaltask runtime events.
package otel

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/petaltask/runtime"
)

// TracingHandler translates runtime events into OpenTelemetry spans: one
// root span per run and one child span per executed task.
type TracingHandler struct {
	tracer trace.Tracer

	mu        sync.RWMutex
	runSpans  map[string]trace.Span      // runID -> span
	runCtxs   map[string]context.Context // runID -> context (for child spans)
	taskSpans map[string]trace.Span      // runID:task -> span
}

// NewTracingHandler creates a new TracingHandler that uses the given tracer
// to create spans from runtime events.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer:    tracer,
		runSpans:  make(map[string]trace.Span),
		runCtxs:   make(map[string]context.Context),
		taskSpans: make(map[string]trace.Span),
	}
}

// Handle processes a runtime event and creates or ends spans accordingly.
// It implements runtime.EventHandler semantics.
func (h *TracingHandler) Handle(e runtime.Event) {
	switch e.Kind {
	case runtime.EventRunStarted:
		h.handleRunStarted(e)
	case runtime.EventTaskStarted:
		h.handleTaskStarted(e)
	case runtime.EventTaskFinished:
		h.endTaskSpan(e, codes.Ok, "")
	case runtime.EventTaskSkipped:
		h.handleTaskSkipped(e)
	case runtime.EventTaskFailed:
		h.handleTaskFailed(e)
	case runtime.EventRunFinished:
		h.handleRunFinished(e)
	default:
		h.handleCustomEvent(e)
	}
}

func taskKey(runID, task string) string {
	return runID + ":" + task
}

// handleRunStarted creates a root span for the run, named after the
// requested tasks.
func (h *TracingHandler) handleRunStarted(e runtime.Event) {
	tasks, _ := e.Payload["tasks"].([]string)
	spanName := "run:" + e.RunID
	if len(tasks) > 0 {
		spanName = "run:" + strings.Join(tasks, ",")
	}

	ctx, span := h.tracer.Start(context.Background(), spanName,
		trace.WithAttributes(
			attribute.String("petaltask.run_id", e.RunID),
			attribute.StringSlice("petaltask.tasks", tasks),
		),
		trace.WithTimestamp(e.Time),
	)
	if steps, ok := e.Payload["steps"].(int); ok {
		span.SetAttributes(attribute.Int("petaltask.steps", steps))
	}
	if dryRun, ok := e.Payload["dry_run"].(bool); ok && dryRun {
		span.SetAttributes(attribute.Bool("petaltask.dry_run", true))
	}

	h.mu.Lock()
	h.runSpans[e.RunID] = span
	h.runCtxs[e.RunID] = ctx
	h.mu.Unlock()
}

// handleTaskStarted creates a child span under the run span.
func (h *TracingHandler) handleTaskStarted(e runtime.Event) {
	h.mu.RLock()
	parentCtx, ok := h.runCtxs[e.RunID]
	h.mu.RUnlock()

	if !ok {
		// No parent run span; start from background context.
		parentCtx = context.Background()
	}

	attrs := []attribute.KeyValue{
		attribute.String("petaltask.run_id", e.RunID),
		attribute.String("petaltask.task", e.Task),
		attribute.String("petaltask.tool", e.Tool),
	}
	if path, ok := e.Payload["path"].(string); ok && path != "" {
		attrs = append(attrs, attribute.String("petaltask.path", path))
	}
	_, span := h.tracer.Start(parentCtx, "task:"+e.Task,
		trace.WithAttributes(attrs...),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	h.taskSpans[taskKey(e.RunID, e.Task)] = span
	h.mu.Unlock()
}

func (h *TracingHandler) takeTaskSpan(e runtime.Event) (trace.Span, bool) {
	key := taskKey(e.RunID, e.Task)
	h.mu.Lock()
	defer h.mu.Unlock()
	span, ok := h.taskSpans[key]
	if ok {
		delete(h.taskSpans, key)
	}
	return span, ok
}

func (h *TracingHandler) endTaskSpan(e runtime.Event, code codes.Code, description string) {
	span, ok := h.takeTaskSpan(e)
	if !ok {
		return
	}
	span.SetAttributes(attribute.String("petaltask.duration", e.Elapsed.String()))
	if files, ok := e.Payload["files"].(int); ok {
		span.SetAttributes(attribute.Int("petaltask.files", files))
	}
	span.SetStatus(code, description)
	span.End(trace.WithTimestamp(e.Time))
}

// handleTaskSkipped ends the task span when the task started and had nothing
// to do. Dry-run skips never start a span and are recorded on the run span.
func (h *TracingHandler) handleTaskSkipped(e runtime.Event) {
	if span, ok := h.takeTaskSpan(e); ok {
		span.SetAttributes(attribute.Bool("petaltask.skipped", true))
		span.End(trace.WithTimestamp(e.Time))
		return
	}

	h.mu.RLock()
	span, ok := h.runSpans[e.RunID]
	h.mu.RUnlock()
	if ok {
		span.AddEvent(string(e.Kind), trace.WithTimestamp(e.Time), trace.WithAttributes(
			attribute.String("petaltask.task", e.Task),
			attribute.String("petaltask.tool", e.Tool),
		))
	}
}

// handleTaskFailed ends the task span with error status.
func (h *TracingHandler) handleTaskFailed(e runtime.Event) {
	span, ok := h.takeTaskSpan(e)
	if !ok {
		return
	}
	errMsg := "unknown error"
	if msg, ok := e.Payload["error"].(string); ok {
		errMsg = msg
	}
	if code, ok := e.Payload["exit_code"].(int); ok {
		span.SetAttributes(attribute.Int("petaltask.exit_code", code))
	}
	span.SetStatus(codes.Error, errMsg)
	span.RecordError(spanError(errMsg), trace.WithTimestamp(e.Time))
	span.End(trace.WithTimestamp(e.Time))
}

// handleCustomEvent adds events emitted by actions to the active task span.
func (h *TracingHandler) handleCustomEvent(e runtime.Event) {
	if e.Task == "" {
		return
	}
	h.mu.RLock()
	span, ok := h.taskSpans[taskKey(e.RunID, e.Task)]
	h.mu.RUnlock()
	if !ok {
		return
	}
	span.AddEvent(string(e.Kind), trace.WithTimestamp(e.Time), trace.WithAttributes(
		attribute.String("petaltask.event_kind", string(e.Kind)),
	))
}

// handleRunFinished ends the root run span.
func (h *TracingHandler) handleRunFinished(e runtime.Event) {
	h.mu.Lock()
	span, ok := h.runSpans[e.RunID]
	if ok {
		delete(h.runSpans, e.RunID)
		delete(h.runCtxs, e.RunID)
	}
	h.mu.Unlock()

	if !ok {
		return
	}
	status, _ := e.Payload["status"].(string)
	span.SetAttributes(
		attribute.String("petaltask.duration", e.Elapsed.String()),
		attribute.String("petaltask.status", status),
	)

	switch status {
	case string(runtime.RunStatusFailed):
		errMsg := "run failed"
		if msg, ok := e.Payload["error"].(string); ok {
			errMsg = msg
		}
		span.SetStatus(codes.Error, errMsg)
	case string(runtime.RunStatusCanceled):
		span.SetStatus(codes.Error, "canceled")
	default:
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Time))
}

// ActiveSpanContext returns the SpanContext for the active task span
// identified by runID and task. Returns an empty SpanContext if not found.
func (h *TracingHandler) ActiveSpanContext(runID, task string) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.taskSpans[taskKey(runID, task)]
	h.mu.RUnlock()

	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

// ActiveRunSpanContext returns the SpanContext for the active run span
// identified by runID. Returns an empty SpanContext if not found.
func (h *TracingHandler) ActiveRunSpanContext(runID string) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.runSpans[runID]
	h.mu.RUnlock()

	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

// spanError is a simple error type for recording span errors.
type spanError string

func (e spanError) Error() string { return string(e) }
