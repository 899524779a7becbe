package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/petal-labs/petaltask/core"
	"github.com/petal-labs/petaltask/registry"
)

// fakeTools is a ToolLookup backed by a map.
type fakeTools map[string]core.Action

func (f fakeTools) Action(name string) (core.Action, bool) {
	a, ok := f[name]
	return a, ok
}

// recorder collects events and executed tool names.
type recorder struct {
	mu     sync.Mutex
	events []Event
	ran    []string
}

func (r *recorder) handle(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

func (r *recorder) action(name string, err error) core.Action {
	return core.ActionFunc(func(ctx context.Context, opts core.OptionSet) (core.Result, error) {
		r.mu.Lock()
		r.ran = append(r.ran, name)
		r.mu.Unlock()
		return core.Result{Tool: name}, err
	})
}

func gruntRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	cfg := core.NewConfig("1", "", map[string]core.ToolDef{
		"mocha":      {Adapter: "test", Options: core.NewOptionSet(map[string]any{"reporter": "spec"})},
		"coffeelint": {Adapter: "lint"},
	}, map[string]core.TaskDef{
		"run-tests": {Tool: "mocha"},
		"run-lint":  {Tool: "coffeelint"},
		"test":      {Tasks: []string{"run-tests"}},
		"lint":      {Tasks: []string{"run-lint"}},
		"default":   {Tasks: []string{"test", "lint"}},
	})
	reg, err := registry.New(cfg)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	return reg
}

func equalKinds(a, b []EventKind) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRunner_Run_Sequential(t *testing.T) {
	rec := &recorder{}
	runner := NewRunner(gruntRegistry(t), fakeTools{
		"mocha":      rec.action("mocha", nil),
		"coffeelint": rec.action("coffeelint", nil),
	})

	report, err := runner.Run(context.Background(), []string{"default"}, RunOptions{EventHandler: rec.handle})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(rec.ran) != 2 || rec.ran[0] != "mocha" || rec.ran[1] != "coffeelint" {
		t.Errorf("ran = %v, want [mocha coffeelint]", rec.ran)
	}

	want := []EventKind{
		EventRunStarted,
		EventTaskStarted, EventTaskFinished,
		EventTaskStarted, EventTaskFinished,
		EventRunFinished,
	}
	if got := rec.kinds(); !equalKinds(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	for i, e := range rec.events {
		if e.Seq != uint64(i+1) {
			t.Errorf("event %d Seq = %d", i, e.Seq)
		}
		if e.RunID != report.RunID || e.RunID == "" {
			t.Errorf("event %d RunID = %q, want %q", i, e.RunID, report.RunID)
		}
	}
	if rec.events[1].Task != "run-tests" || rec.events[1].Tool != "mocha" {
		t.Errorf("task.started = %+v", rec.events[1])
	}
	if rec.events[1].Payload["path"] != "default > test" {
		t.Errorf("path payload = %v", rec.events[1].Payload["path"])
	}

	if report.Status != RunStatusCompleted || len(report.Steps) != 2 {
		t.Errorf("report = %+v", report)
	}
	if report.Steps[1].Task != "run-lint" || report.Steps[1].Status != StepStatusFinished {
		t.Errorf("step[1] = %+v", report.Steps[1])
	}
}

func TestRunner_Run_FailFast(t *testing.T) {
	rec := &recorder{}
	failure := core.NewToolFailure("mocha", 1, "2 failing", nil)
	runner := NewRunner(gruntRegistry(t), fakeTools{
		"mocha":      rec.action("mocha", failure),
		"coffeelint": rec.action("coffeelint", nil),
	})

	report, err := runner.Run(context.Background(), []string{"default"}, RunOptions{EventHandler: rec.handle})
	var toolErr *core.ToolFailureError
	if !errors.As(err, &toolErr) {
		t.Fatalf("expected ToolFailureError, got %v", err)
	}
	if toolErr.Task != "run-tests" {
		t.Errorf("Task = %q, want run-tests", toolErr.Task)
	}
	if len(rec.ran) != 1 {
		t.Errorf("ran = %v, lint must not run after a failure", rec.ran)
	}
	if report.Status != RunStatusFailed || len(report.Steps) != 1 || report.Steps[0].Status != StepStatusFailed {
		t.Errorf("report = %+v", report)
	}

	want := []EventKind{EventRunStarted, EventTaskStarted, EventTaskFailed, EventRunFinished}
	if got := rec.kinds(); !equalKinds(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	if status := rec.events[3].Payload["status"]; status != "failed" {
		t.Errorf("run.finished status = %v", status)
	}
}

func TestRunner_Run_PlainErrorBecomesToolFailure(t *testing.T) {
	rec := &recorder{}
	runner := NewRunner(gruntRegistry(t), fakeTools{
		"mocha":      rec.action("mocha", errors.New("disk full")),
		"coffeelint": rec.action("coffeelint", nil),
	})

	_, err := runner.Run(context.Background(), []string{"test"}, RunOptions{})
	var toolErr *core.ToolFailureError
	if !errors.As(err, &toolErr) {
		t.Fatalf("expected ToolFailureError, got %v", err)
	}
	if toolErr.Tool != "mocha" || toolErr.Task != "run-tests" || toolErr.Message != "disk full" {
		t.Errorf("toolErr = %+v", toolErr)
	}
}

func TestRunner_Run_ConfigurationErrorBeforeExecution(t *testing.T) {
	tests := []struct {
		name  string
		tools fakeTools
		tasks []string
		code  string
	}{
		{
			name:  "unknown task after a valid one",
			tools: fakeTools{"mocha": nil, "coffeelint": nil},
			tasks: []string{"test", "deploy"},
			code:  core.ErrCodeUnknownTask,
		},
		{
			name:  "tool without action",
			tools: fakeTools{"mocha": nil},
			tasks: []string{"default"},
			code:  core.ErrCodeUnknownTool,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			for name := range tt.tools {
				tt.tools[name] = rec.action(name, nil)
			}
			runner := NewRunner(gruntRegistry(t), tt.tools)

			report, err := runner.Run(context.Background(), tt.tasks, RunOptions{EventHandler: rec.handle})
			var cfgErr *core.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
			if cfgErr.Code != tt.code {
				t.Errorf("Code = %q, want %q", cfgErr.Code, tt.code)
			}
			if report != nil || len(rec.ran) != 0 || len(rec.events) != 0 {
				t.Errorf("nothing may run: report=%v ran=%v events=%d", report, rec.ran, len(rec.events))
			}
		})
	}
}

func TestRunner_Run_PassesStoredOptions(t *testing.T) {
	reg := gruntRegistry(t)
	reg.SetOptions("mocha", map[string]any{"reporter": "dot"})

	var got string
	runner := NewRunner(reg, fakeTools{
		"mocha": core.ActionFunc(func(_ context.Context, opts core.OptionSet) (core.Result, error) {
			got = opts.String("reporter", "")
			return core.Result{}, nil
		}),
	})
	if _, err := runner.Run(context.Background(), []string{"test"}, RunOptions{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got != "dot" {
		t.Errorf("reporter = %q, want dot", got)
	}
}

func TestRunner_Run_DryRun(t *testing.T) {
	rec := &recorder{}
	runner := NewRunner(gruntRegistry(t), fakeTools{
		"mocha":      rec.action("mocha", nil),
		"coffeelint": rec.action("coffeelint", nil),
	})

	report, err := runner.Run(context.Background(), []string{"default"}, RunOptions{EventHandler: rec.handle, DryRun: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(rec.ran) != 0 {
		t.Errorf("dry run executed %v", rec.ran)
	}
	want := []EventKind{EventRunStarted, EventTaskSkipped, EventTaskSkipped, EventRunFinished}
	if got := rec.kinds(); !equalKinds(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	if len(report.Steps) != 2 || report.Steps[0].Status != StepStatusSkipped {
		t.Errorf("report = %+v", report)
	}
}

func TestRunner_Run_SkippedResult(t *testing.T) {
	rec := &recorder{}
	runner := NewRunner(gruntRegistry(t), fakeTools{
		"coffeelint": core.ActionFunc(func(context.Context, core.OptionSet) (core.Result, error) {
			return core.Result{Skipped: true}, nil
		}),
	})
	report, err := runner.Run(context.Background(), []string{"lint"}, RunOptions{EventHandler: rec.handle})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if rec.kinds()[2] != EventTaskSkipped {
		t.Errorf("events = %v, want task.skipped", rec.kinds())
	}
	if report.Steps[0].Status != StepStatusSkipped || report.Status != RunStatusCompleted {
		t.Errorf("report = %+v", report)
	}
}

func TestRunner_Run_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recorder{}
	runner := NewRunner(gruntRegistry(t), fakeTools{
		"mocha": core.ActionFunc(func(ctx context.Context, _ core.OptionSet) (core.Result, error) {
			cancel()
			<-ctx.Done()
			return core.Result{}, ctx.Err()
		}),
		"coffeelint": rec.action("coffeelint", nil),
	})

	report, err := runner.Run(ctx, []string{"default"}, RunOptions{EventHandler: rec.handle})
	if !errors.Is(err, ErrRunCanceled) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected ErrRunCanceled wrapping context.Canceled, got %v", err)
	}
	if core.IsToolFailure(err) {
		t.Error("cancellation must not be reported as a tool failure")
	}
	if len(rec.ran) != 0 {
		t.Errorf("lint ran after cancellation")
	}
	if report.Status != RunStatusCanceled {
		t.Errorf("Status = %q, want canceled", report.Status)
	}
}

func TestRunner_Run_LastStepReturnsCleanlyOnTimeout(t *testing.T) {
	cfg := core.NewConfig("1", "", map[string]core.ToolDef{
		"watch": {Adapter: "watch"},
	}, map[string]core.TaskDef{
		"watch-and-rerun": {Tool: "watch"},
		"test:watch":      {Tasks: []string{"watch-and-rerun"}},
		"default":         {Tasks: []string{"test:watch"}},
	})
	reg, err := registry.New(cfg)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	runner := NewRunner(reg, fakeTools{
		"watch": core.ActionFunc(func(ctx context.Context, _ core.OptionSet) (core.Result, error) {
			<-ctx.Done()
			return core.Result{}, nil
		}),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	report, err := runner.Run(ctx, []string{"test:watch"}, RunOptions{})
	if !errors.Is(err, ErrRunCanceled) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected ErrRunCanceled wrapping context.DeadlineExceeded, got %v", err)
	}
	if report.Status != RunStatusCanceled {
		t.Errorf("Status = %q, want canceled", report.Status)
	}
	if len(report.Steps) != 1 || report.Steps[0].Status != StepStatusFinished {
		t.Errorf("Steps = %+v", report.Steps)
	}
}

func TestRunner_Run_CanceledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := &recorder{}
	runner := NewRunner(gruntRegistry(t), fakeTools{
		"mocha":      rec.action("mocha", nil),
		"coffeelint": rec.action("coffeelint", nil),
	})
	_, err := runner.Run(ctx, []string{"default"}, RunOptions{})
	if !errors.Is(err, ErrRunCanceled) {
		t.Fatalf("expected ErrRunCanceled, got %v", err)
	}
	if len(rec.ran) != 0 {
		t.Errorf("ran = %v", rec.ran)
	}
}

func TestRunner_Run_ContextCarriesEmitterAndRunID(t *testing.T) {
	rec := &recorder{}
	var runID string
	runner := NewRunner(gruntRegistry(t), fakeTools{
		"mocha": core.ActionFunc(func(ctx context.Context, _ core.OptionSet) (core.Result, error) {
			runID = RunIDFromContext(ctx)
			if task := TaskFromContext(ctx); task != "run-tests" {
				t.Errorf("TaskFromContext = %q, want run-tests", task)
			}
			EmitterFromContext(ctx)(NewEvent("tool.progress", runID).WithPayload("pct", 50))
			return core.Result{}, nil
		}),
	})

	report, err := runner.Run(context.Background(), []string{"test"}, RunOptions{EventHandler: rec.handle})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if runID != report.RunID {
		t.Errorf("RunIDFromContext = %q, want %q", runID, report.RunID)
	}
	kinds := rec.kinds()
	if kinds[2] != "tool.progress" || rec.events[2].Seq != 3 {
		t.Errorf("custom event not routed through run emitter: %v", kinds)
	}
}

func TestRunner_Run_DecoratorAndClock(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var ticks int
	now := func() time.Time {
		ticks++
		return base.Add(time.Duration(ticks) * time.Second)
	}

	rec := &recorder{}
	decorator := func(next EventEmitter) EventEmitter {
		return func(e Event) {
			e.TraceID = "trace-1"
			next(e)
		}
	}
	runner := NewRunner(gruntRegistry(t), fakeTools{"mocha": rec.action("mocha", nil)})

	report, err := runner.Run(context.Background(), []string{"test"}, RunOptions{
		EventHandler:          rec.handle,
		EventEmitterDecorator: decorator,
		Now:                   now,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for _, e := range rec.events {
		if e.TraceID != "trace-1" {
			t.Errorf("%s not decorated", e.Kind)
		}
	}
	if report.Elapsed <= 0 || report.Steps[0].Elapsed != time.Second {
		t.Errorf("elapsed = %v / %v", report.Elapsed, report.Steps[0].Elapsed)
	}
}

func TestMultiEventHandler(t *testing.T) {
	var a, b int
	h := MultiEventHandler(func(Event) { a++ }, nil, func(Event) { b++ })
	h(Event{})
	h(Event{})
	if a != 2 || b != 2 {
		t.Errorf("a=%d b=%d, want 2 each", a, b)
	}
}

func TestChannelEventHandler_DropsWhenFull(t *testing.T) {
	ch := make(chan Event, 1)
	h := ChannelEventHandler(ch)
	h(NewEvent(EventRunStarted, "r"))
	h(NewEvent(EventRunFinished, "r"))
	if got := <-ch; got.Kind != EventRunStarted {
		t.Errorf("got %s, want first event kept", got.Kind)
	}
	select {
	case e := <-ch:
		t.Errorf("unexpected second event %s", e.Kind)
	default:
	}
}
