package tasknode

import "context"

type taskIDKey struct{}

// TaskIDFromContext returns the task_id a handler is currently executing
// under. It is always present inside a Handler invoked through
// runHandler, mirroring the tasknode_task.id contract the source exposes
// to task bodies.
func TaskIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(taskIDKey{}).(string)
	return id, ok
}

func withTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskIDKey{}, taskID)
}
