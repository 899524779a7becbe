// Package runtime runs resolved task sequences and emits events.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/petal-labs/petaltask/core"
	"github.com/petal-labs/petaltask/registry"
)

// ErrRunCanceled is returned, wrapping the context error, when a run stops
// because its context was canceled.
var ErrRunCanceled = errors.New("run was canceled")

// RunStatus is the final state of a run.
type RunStatus string

const (
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// StepStatus is the final state of one step.
type StepStatus string

const (
	StepStatusFinished StepStatus = "finished"
	StepStatusSkipped  StepStatus = "skipped"
	StepStatusFailed   StepStatus = "failed"
)

// ToolLookup resolves a tool name to its action. *tool.Set satisfies it.
type ToolLookup interface {
	Action(name string) (core.Action, bool)
}

// RunOptions controls execution behavior.
type RunOptions struct {
	// Now provides the current time (for testing). If nil, uses time.Now.
	Now func() time.Time

	// EventHandler receives events during execution.
	EventHandler EventHandler

	// EventEmitterDecorator wraps the internal event emitter.
	// If nil, events are emitted without decoration.
	EventEmitterDecorator EventEmitterDecorator

	// DryRun resolves and reports every step without executing any.
	DryRun bool
}

// StepReport describes one executed (or skipped) leaf step.
type StepReport struct {
	registry.Step
	Status  StepStatus    `json:"status"`
	Result  core.Result   `json:"-"`
	Error   string        `json:"error,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// Report summarizes a run.
type Report struct {
	RunID   string        `json:"run_id"`
	Tasks   []string      `json:"tasks"`
	Steps   []StepReport  `json:"steps"`
	Status  RunStatus     `json:"status"`
	Elapsed time.Duration `json:"elapsed"`
}

// Runner executes tasks from a registry, one leaf step at a time.
type Runner struct {
	registry *registry.Registry
	tools    ToolLookup
}

// NewRunner creates a runner over reg using tools to find each step's action.
func NewRunner(reg *registry.Registry, tools ToolLookup) *Runner {
	return &Runner{registry: reg, tools: tools}
}

// Plan resolves tasks into the ordered steps Run would execute and checks
// that every step's tool can be found.
func (r *Runner) Plan(tasks ...string) ([]registry.Step, error) {
	steps, err := r.registry.Resolve(tasks...)
	if err != nil {
		return nil, err
	}
	for _, step := range steps {
		if _, ok := r.tools.Action(step.Tool); !ok {
			err := core.NewConfigurationError(core.ErrCodeUnknownTool, step.Task,
				"task %q uses undefined tool %q", step.Task, step.Tool)
			err.Path = step.Path
			return nil, err
		}
	}
	return steps, nil
}

// Run resolves tasks and executes the resulting steps in order. The first
// failing step stops the run. Resolution errors are returned before anything
// runs and without a report.
func (r *Runner) Run(ctx context.Context, tasks []string, opts RunOptions) (*Report, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	steps, err := r.Plan(tasks...)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	var seq atomic.Uint64
	emit := func(e Event) {
		e.Seq = seq.Add(1)
		if opts.EventHandler != nil {
			opts.EventHandler(e)
		}
	}
	var emitter EventEmitter = emit
	if opts.EventEmitterDecorator != nil {
		emitter = opts.EventEmitterDecorator(emitter)
	}

	report := &Report{
		RunID: runID,
		Tasks: append([]string(nil), tasks...),
		Steps: make([]StepReport, 0, len(steps)),
	}

	runStart := opts.Now()
	emitter(NewEvent(EventRunStarted, runID).
		WithPayload("tasks", report.Tasks).
		WithPayload("steps", len(steps)).
		WithPayload("dry_run", opts.DryRun))

	err = r.execute(ContextWithRunID(ctx, runID), steps, opts, emitter, runID, runStart, report)

	report.Elapsed = opts.Now().Sub(runStart)
	switch {
	case err == nil:
		report.Status = RunStatusCompleted
	case errors.Is(err, ErrRunCanceled):
		report.Status = RunStatusCanceled
	default:
		report.Status = RunStatusFailed
	}

	finishEvent := NewEvent(EventRunFinished, runID).
		WithElapsed(report.Elapsed).
		WithPayload("status", string(report.Status)).
		WithPayload("steps", len(report.Steps))
	if err != nil {
		finishEvent = finishEvent.WithPayload("error", err.Error())
	}
	emitter(finishEvent)

	return report, err
}

func (r *Runner) execute(
	ctx context.Context,
	steps []registry.Step,
	opts RunOptions,
	emit EventEmitter,
	runID string,
	runStart time.Time,
	report *Report,
) error {
	for i, step := range steps {
		if err := checkRunContext(ctx); err != nil {
			return err
		}

		if opts.DryRun {
			emit(NewEvent(EventTaskSkipped, runID).
				WithTask(step.Task, step.Tool).
				WithElapsed(opts.Now().Sub(runStart)).
				WithPayload("index", i).
				WithPayload("path", step.Via()).
				WithPayload("reason", "dry run"))
			report.Steps = append(report.Steps, StepReport{Step: step, Status: StepStatusSkipped})
			continue
		}

		stepReport, err := r.executeStep(ctx, i, step, opts, emit, runID)
		report.Steps = append(report.Steps, stepReport)
		if err != nil {
			return err
		}
	}
	// A step may return cleanly because it was canceled (watch does).
	return checkRunContext(ctx)
}

func checkRunContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrRunCanceled, err)
	}
	return nil
}

// executeStep runs one leaf with event emission.
func (r *Runner) executeStep(
	ctx context.Context,
	index int,
	step registry.Step,
	opts RunOptions,
	emit EventEmitter,
	runID string,
) (StepReport, error) {
	stepReport := StepReport{Step: step}
	action, _ := r.tools.Action(step.Tool)
	options, _ := r.registry.Options(step.Tool)

	stepStart := opts.Now()
	emit(NewEvent(EventTaskStarted, runID).
		WithTask(step.Task, step.Tool).
		WithPayload("index", index).
		WithPayload("path", step.Via()))

	result, err := action.Execute(ContextWithEmitter(ContextWithTask(ctx, step.Task), emit), options)
	if result.Tool == "" {
		result.Tool = step.Tool
	}
	stepReport.Result = result
	stepReport.Elapsed = opts.Now().Sub(stepStart)

	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", ErrRunCanceled, ctx.Err())
		} else {
			err = stepError(step, err)
		}
		stepReport.Status = StepStatusFailed
		stepReport.Error = err.Error()
		failed := NewEvent(EventTaskFailed, runID).
			WithTask(step.Task, step.Tool).
			WithElapsed(stepReport.Elapsed).
			WithPayload("error", err.Error()).
			WithPayload("canceled", errors.Is(err, ErrRunCanceled))
		if result.ExitCode != 0 {
			failed = failed.WithPayload("exit_code", result.ExitCode)
		}
		emit(failed)
		return stepReport, err
	}

	if result.Skipped {
		stepReport.Status = StepStatusSkipped
		emit(NewEvent(EventTaskSkipped, runID).
			WithTask(step.Task, step.Tool).
			WithElapsed(stepReport.Elapsed).
			WithPayload("index", index).
			WithPayload("reason", "nothing to do"))
		return stepReport, nil
	}

	stepReport.Status = StepStatusFinished
	emit(NewEvent(EventTaskFinished, runID).
		WithTask(step.Task, step.Tool).
		WithElapsed(stepReport.Elapsed).
		WithPayload("index", index).
		WithPayload("files", len(result.Files)))
	return stepReport, nil
}

// stepError attributes err to the step. Typed errors pass through; anything
// else becomes a ToolFailureError.
func stepError(step registry.Step, err error) error {
	var toolErr *core.ToolFailureError
	if errors.As(err, &toolErr) {
		if toolErr.Task == "" {
			toolErr.Task = step.Task
		}
		return err
	}
	var cfgErr *core.ConfigurationError
	if errors.As(err, &cfgErr) {
		if cfgErr.Task == "" {
			cfgErr.Task = step.Task
		}
		return err
	}
	failure := core.NewToolFailure(step.Tool, 0, strings.TrimSpace(err.Error()), err)
	failure.Task = step.Task
	return failure
}
