package runtime

import (
	"time"
)

// EventKind identifies the type of event emitted by the runner.
type EventKind string

const (
	// EventRunStarted is emitted once the requested tasks have been resolved
	// and before the first step runs.
	EventRunStarted EventKind = "run.started"

	// EventTaskStarted is emitted when a leaf task begins execution.
	EventTaskStarted EventKind = "task.started"

	// EventTaskFinished is emitted when a leaf task completes successfully.
	EventTaskFinished EventKind = "task.finished"

	// EventTaskSkipped is emitted when a leaf task had nothing to do, or
	// when the run is a dry run.
	EventTaskSkipped EventKind = "task.skipped"

	// EventTaskFailed is emitted when a leaf task returns an error.
	EventTaskFailed EventKind = "task.failed"

	// EventRunFinished is emitted when the run ends, successfully or not.
	EventRunFinished EventKind = "run.finished"
)

// String returns the string representation of the EventKind.
func (k EventKind) String() string {
	return string(k)
}

// Event is a structured record of what happened during a run.
type Event struct {
	// Kind identifies the event type.
	Kind EventKind

	// RunID is the unique identifier for this run.
	RunID string

	// Task is the leaf task that produced this event (empty for run-level events).
	Task string

	// Tool is the tool the task is bound to (empty for run-level events).
	Tool string

	// Time is when the event occurred.
	Time time.Time

	// Elapsed is the duration since the run or task started.
	Elapsed time.Duration

	// Payload contains event-specific data.
	Payload map[string]any

	// Seq is a monotonic sequence number per run (1-indexed).
	Seq uint64

	// TraceID is the OpenTelemetry trace ID (hex-encoded, empty when OTel inactive).
	TraceID string

	// SpanID is the OpenTelemetry span ID (hex-encoded, empty when OTel inactive).
	SpanID string
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(kind EventKind, runID string) Event {
	return Event{
		Kind:    kind,
		RunID:   runID,
		Time:    time.Now(),
		Payload: make(map[string]any),
	}
}

// WithTask sets the task information on the event.
func (e Event) WithTask(task, tool string) Event {
	e.Task = task
	e.Tool = tool
	return e
}

// WithElapsed sets the elapsed duration on the event.
func (e Event) WithElapsed(elapsed time.Duration) Event {
	e.Elapsed = elapsed
	return e
}

// WithPayload adds a key-value pair to the event payload.
func (e Event) WithPayload(key string, value any) Event {
	if e.Payload == nil {
		e.Payload = make(map[string]any)
	}
	e.Payload[key] = value
	return e
}

// EventEmitter is a function type for emitting events.
// The runner places its emitter in the context handed to each action.
type EventEmitter func(Event)

// EventEmitterDecorator wraps an emitter to add cross-cutting behavior.
// Typical uses include enriching emitted events (for example with trace metadata).
type EventEmitterDecorator func(EventEmitter) EventEmitter

// EventHandler is a function type for handling events.
// Implementations can log, trace, or count events as needed.
type EventHandler func(Event)

// MultiEventHandler combines multiple handlers into one. Handlers run in
// order on the emitting goroutine.
func MultiEventHandler(handlers ...EventHandler) EventHandler {
	return func(e Event) {
		for _, h := range handlers {
			if h != nil {
				h(e)
			}
		}
	}
}

// ChannelEventHandler returns a handler that sends events to a channel.
// The channel should have sufficient buffer to avoid blocking.
// Events are dropped if the channel is full.
func ChannelEventHandler(ch chan<- Event) EventHandler {
	return func(e Event) {
		select {
		case ch <- e:
		default:
			// Drop event if channel is full
		}
	}
}
