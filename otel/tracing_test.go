package otel_test

import (
	"context"
	"errors"
	"testing"
	"time"

	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/petal-labs/petaltask/core"
	petalotel "github.com/petal-labs/petaltask/otel"
	"github.com/petal-labs/petaltask/registry"
	"github.com/petal-labs/petaltask/runtime"
)

// newTestTracer returns a tracer backed by an in-memory span exporter.
func newTestTracer() (*tracetest.InMemoryExporter, *sdktrace.TracerProvider) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)
	return exporter, tp
}

func findSpan(spans tracetest.SpanStubs, name string) *tracetest.SpanStub {
	for i := range spans {
		if spans[i].Name == name {
			return &spans[i]
		}
	}
	return nil
}

func spanAttr(s *tracetest.SpanStub, key string) (string, bool) {
	for _, attr := range s.Attributes {
		if string(attr.Key) == key {
			return attr.Value.Emit(), true
		}
	}
	return "", false
}

func TestTracingHandler_RunSpanNamedAfterTasks(t *testing.T) {
	exporter, tp := newTestTracer()
	h := petalotel.NewTracingHandler(tp.Tracer("test"))
	now := time.Now()

	h.Handle(runtime.Event{
		Kind:    runtime.EventRunStarted,
		RunID:   "run-1",
		Time:    now,
		Payload: map[string]any{"tasks": []string{"test", "lint"}, "steps": 2},
	})
	if !h.ActiveRunSpanContext("run-1").IsValid() {
		t.Fatal("expected valid run span context after run.started")
	}
	h.Handle(runtime.Event{
		Kind:    runtime.EventRunFinished,
		RunID:   "run-1",
		Time:    now.Add(100 * time.Millisecond),
		Elapsed: 100 * time.Millisecond,
		Payload: map[string]any{"status": "completed"},
	})

	spans := exporter.GetSpans()
	run := findSpan(spans, "run:test,lint")
	if run == nil {
		t.Fatalf("run span not found in %d spans", len(spans))
	}
	if v, _ := spanAttr(run, "petaltask.run_id"); v != "run-1" {
		t.Errorf("petaltask.run_id = %q", v)
	}
	if v, _ := spanAttr(run, "petaltask.steps"); v != "2" {
		t.Errorf("petaltask.steps = %q", v)
	}
	if run.Status.Code != otelcodes.Ok {
		t.Errorf("status = %v, want Ok", run.Status.Code)
	}
	if h.ActiveRunSpanContext("run-1").IsValid() {
		t.Error("run span should be released after run.finished")
	}
}

func TestTracingHandler_RunSpanFallsBackToRunID(t *testing.T) {
	exporter, tp := newTestTracer()
	h := petalotel.NewTracingHandler(tp.Tracer("test"))

	h.Handle(runtime.Event{Kind: runtime.EventRunStarted, RunID: "abc", Time: time.Now()})
	h.Handle(runtime.Event{Kind: runtime.EventRunFinished, RunID: "abc", Time: time.Now()})

	if findSpan(exporter.GetSpans(), "run:abc") == nil {
		t.Error("expected span named run:abc")
	}
}

func TestTracingHandler_TaskSpans(t *testing.T) {
	exporter, tp := newTestTracer()
	h := petalotel.NewTracingHandler(tp.Tracer("test"))
	now := time.Now()

	h.Handle(runtime.Event{Kind: runtime.EventRunStarted, RunID: "r", Time: now, Payload: map[string]any{"tasks": []string{"default"}}})
	h.Handle(runtime.Event{Kind: runtime.EventTaskStarted, RunID: "r", Task: "run-tests", Tool: "mocha", Time: now, Payload: map[string]any{"path": "default > test"}})
	h.Handle(runtime.Event{Kind: "tool.progress", RunID: "r", Task: "run-tests", Time: now})
	h.Handle(runtime.Event{Kind: runtime.EventTaskFinished, RunID: "r", Task: "run-tests", Tool: "mocha", Time: now, Payload: map[string]any{"files": 3}})
	h.Handle(runtime.Event{Kind: runtime.EventTaskStarted, RunID: "r", Task: "run-lint", Tool: "coffeelint", Time: now})
	h.Handle(runtime.Event{Kind: runtime.EventTaskFailed, RunID: "r", Task: "run-lint", Tool: "coffeelint", Time: now, Payload: map[string]any{"error": "lint failed", "exit_code": 1}})
	h.Handle(runtime.Event{Kind: runtime.EventRunFinished, RunID: "r", Time: now, Payload: map[string]any{"status": "failed", "error": "lint failed"}})

	spans := exporter.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("got %d spans, want 3", len(spans))
	}
	run := findSpan(spans, "run:default")
	tests := findSpan(spans, "task:run-tests")
	lint := findSpan(spans, "task:run-lint")
	if run == nil || tests == nil || lint == nil {
		t.Fatalf("missing spans: %v", spans)
	}

	if tests.Parent.SpanID() != run.SpanContext.SpanID() {
		t.Error("task span should be a child of the run span")
	}
	if v, _ := spanAttr(tests, "petaltask.path"); v != "default > test" {
		t.Errorf("petaltask.path = %q", v)
	}
	if v, _ := spanAttr(tests, "petaltask.files"); v != "3" {
		t.Errorf("petaltask.files = %q", v)
	}
	if len(tests.Events) != 1 || tests.Events[0].Name != "tool.progress" {
		t.Errorf("custom events = %+v", tests.Events)
	}

	if lint.Status.Code != otelcodes.Error || lint.Status.Description != "lint failed" {
		t.Errorf("lint status = %+v", lint.Status)
	}
	if v, _ := spanAttr(lint, "petaltask.exit_code"); v != "1" {
		t.Errorf("petaltask.exit_code = %q", v)
	}
	if run.Status.Code != otelcodes.Error {
		t.Errorf("run status = %v, want Error", run.Status.Code)
	}
}

func TestTracingHandler_DryRunSkipsRecordedOnRun(t *testing.T) {
	exporter, tp := newTestTracer()
	h := petalotel.NewTracingHandler(tp.Tracer("test"))
	now := time.Now()

	h.Handle(runtime.Event{Kind: runtime.EventRunStarted, RunID: "r", Time: now, Payload: map[string]any{"tasks": []string{"lint"}, "dry_run": true}})
	h.Handle(runtime.Event{Kind: runtime.EventTaskSkipped, RunID: "r", Task: "run-lint", Tool: "coffeelint", Time: now})
	h.Handle(runtime.Event{Kind: runtime.EventRunFinished, RunID: "r", Time: now, Payload: map[string]any{"status": "completed"}})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want only the run span", len(spans))
	}
	if len(spans[0].Events) != 1 || spans[0].Events[0].Name != string(runtime.EventTaskSkipped) {
		t.Errorf("run span events = %+v", spans[0].Events)
	}
}

// fakeTools is a runtime.ToolLookup backed by a map.
type fakeTools map[string]core.Action

func (f fakeTools) Action(name string) (core.Action, bool) {
	a, ok := f[name]
	return a, ok
}

func newRunner(t *testing.T, lintErr error) *runtime.Runner {
	t.Helper()
	cfg := core.NewConfig("1", "", map[string]core.ToolDef{
		"mocha":      {Adapter: "test"},
		"coffeelint": {Adapter: "lint"},
	}, map[string]core.TaskDef{
		"run-tests": {Tool: "mocha"},
		"run-lint":  {Tool: "coffeelint"},
		"default":   {Tasks: []string{"run-tests", "run-lint"}},
	})
	reg, err := registry.New(cfg)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	ok := core.ActionFunc(func(context.Context, core.OptionSet) (core.Result, error) { return core.Result{}, nil })
	lint := core.ActionFunc(func(context.Context, core.OptionSet) (core.Result, error) { return core.Result{}, lintErr })
	return runtime.NewRunner(reg, fakeTools{"mocha": ok, "coffeelint": lint})
}

func TestTracingHandler_WithRunner(t *testing.T) {
	exporter, tp := newTestTracer()
	h := petalotel.NewTracingHandler(tp.Tracer("test"))

	var events []runtime.Event
	_, err := newRunner(t, errors.New("3 problems")).Run(context.Background(), []string{"default"}, runtime.RunOptions{
		EventHandler: runtime.MultiEventHandler(h.Handle, func(e runtime.Event) {
			events = append(events, e)
		}),
		EventEmitterDecorator: petalotel.Decorator(h),
	})
	if !core.IsToolFailure(err) {
		t.Fatalf("expected ToolFailureError, got %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("got %d spans, want 3", len(spans))
	}
	run := findSpan(spans, "run:default")
	if run == nil {
		t.Fatal("run span missing")
	}
	for _, e := range events {
		if e.Kind == runtime.EventRunStarted {
			// Enrichment runs before the handler opens the run span.
			continue
		}
		if e.TraceID != run.SpanContext.TraceID().String() {
			t.Errorf("%s TraceID = %q, want run trace", e.Kind, e.TraceID)
		}
	}
}
