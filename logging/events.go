package logging

import (
	"log/slog"

	"github.com/petal-labs/petaltask/runtime"
)

// EventLogger writes runtime events to a logger. Starts are logged at debug,
// completions at info and failures at error.
// It implements runtime.EventHandler semantics.
type EventLogger struct {
	logger *slog.Logger
}

// NewEventLogger creates a new EventLogger.
func NewEventLogger(logger *slog.Logger) *EventLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventLogger{logger: logger}
}

// Handle logs a single event.
func (l *EventLogger) Handle(e runtime.Event) {
	switch e.Kind {
	case runtime.EventRunStarted:
		l.logger.Debug("run started",
			"run_id", e.RunID,
			"tasks", e.Payload["tasks"],
			"steps", e.Payload["steps"],
		)
	case runtime.EventTaskStarted:
		l.logger.Debug("task started",
			"task", e.Task,
			"tool", e.Tool,
			"via", e.Payload["path"],
		)
	case runtime.EventTaskFinished:
		l.logger.Info("task finished",
			"task", e.Task,
			"tool", e.Tool,
			"elapsed", e.Elapsed.Round(1e6),
		)
	case runtime.EventTaskSkipped:
		l.logger.Info("task skipped",
			"task", e.Task,
			"tool", e.Tool,
			"reason", e.Payload["reason"],
		)
	case runtime.EventTaskFailed:
		if canceled, _ := e.Payload["canceled"].(bool); canceled {
			l.logger.Warn("task interrupted", "task", e.Task, "tool", e.Tool)
			return
		}
		l.logger.Error("task failed",
			"task", e.Task,
			"tool", e.Tool,
			"error", e.Payload["error"],
		)
	case runtime.EventRunFinished:
		status, _ := e.Payload["status"].(string)
		attrs := []any{"run_id", e.RunID, "status", status, "elapsed", e.Elapsed.Round(1e6)}
		if status == string(runtime.RunStatusCompleted) {
			l.logger.Info("run finished", attrs...)
			return
		}
		l.logger.Debug("run finished", append(attrs, "error", e.Payload["error"])...)
	default:
		l.logger.Debug(string(e.Kind), "task", e.Task, "payload", e.Payload)
	}
}
