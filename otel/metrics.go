package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petal-labs/petaltask/runtime"
)

// MetricsHandler translates runtime events into OpenTelemetry metrics.
// It records counters and histograms for task executions, failures, and run
// durations.
type MetricsHandler struct {
	taskExecutions metric.Int64Counter
	taskFailures   metric.Int64Counter
	taskDuration   metric.Float64Histogram
	runDuration    metric.Float64Histogram
}

// NewMetricsHandler creates a MetricsHandler that uses the given meter to
// create its instruments.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	taskExec, err := meter.Int64Counter("petaltask.task.executions",
		metric.WithDescription("Number of completed task executions"),
	)
	if err != nil {
		return nil, err
	}

	taskFail, err := meter.Int64Counter("petaltask.task.failures",
		metric.WithDescription("Number of task failures"),
	)
	if err != nil {
		return nil, err
	}

	taskDur, err := meter.Float64Histogram("petaltask.task.duration",
		metric.WithDescription("Duration of task execution in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	runDur, err := meter.Float64Histogram("petaltask.run.duration",
		metric.WithDescription("Duration of a run in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		taskExecutions: taskExec,
		taskFailures:   taskFail,
		taskDuration:   taskDur,
		runDuration:    runDur,
	}, nil
}

// Handle processes a runtime event and records the appropriate metrics.
// It implements runtime.EventHandler semantics.
func (h *MetricsHandler) Handle(e runtime.Event) {
	switch e.Kind {
	case runtime.EventTaskFinished:
		h.handleTaskFinished(e)
	case runtime.EventTaskFailed:
		h.handleTaskFailed(e)
	case runtime.EventRunFinished:
		h.handleRunFinished(e)
	}
}

func taskAttrs(e runtime.Event) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("task", e.Task),
		attribute.String("tool", e.Tool),
	)
}

// handleTaskFinished increments the execution counter and records duration.
func (h *MetricsHandler) handleTaskFinished(e runtime.Event) {
	ctx := context.Background()
	attrs := taskAttrs(e)
	h.taskExecutions.Add(ctx, 1, attrs)
	h.taskDuration.Record(ctx, e.Elapsed.Seconds(), attrs)
}

// handleTaskFailed increments the failure counter. Canceled tasks are not
// counted as failures.
func (h *MetricsHandler) handleTaskFailed(e runtime.Event) {
	if canceled, _ := e.Payload["canceled"].(bool); canceled {
		return
	}
	h.taskFailures.Add(context.Background(), 1, taskAttrs(e))
}

// handleRunFinished records the run duration by final status.
func (h *MetricsHandler) handleRunFinished(e runtime.Event) {
	status, _ := e.Payload["status"].(string)
	h.runDuration.Record(context.Background(), e.Elapsed.Seconds(), metric.WithAttributes(
		attribute.String("status", status),
	))
}
