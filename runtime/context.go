package runtime

import "context"

type (
	emitterKey struct{}
	runIDKey   struct{}
	taskKey    struct{}
)

// ContextWithEmitter attaches an event emitter to the context.
func ContextWithEmitter(ctx context.Context, emit EventEmitter) context.Context {
	return context.WithValue(ctx, emitterKey{}, emit)
}

// EmitterFromContext retrieves the event emitter from the context.
// Returns a no-op emitter if none is set.
func EmitterFromContext(ctx context.Context) EventEmitter {
	if emit, ok := ctx.Value(emitterKey{}).(EventEmitter); ok && emit != nil {
		return emit
	}
	return func(Event) {}
}

// ContextWithRunID records the ID of the run a step belongs to.
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext returns the current run ID, or "" outside a run.
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// ContextWithTask records the leaf task a step is running.
func ContextWithTask(ctx context.Context, task string) context.Context {
	return context.WithValue(ctx, taskKey{}, task)
}

// TaskFromContext returns the running leaf task, or "" outside a step.
func TaskFromContext(ctx context.Context) string {
	task, _ := ctx.Value(taskKey{}).(string)
	return task
}
