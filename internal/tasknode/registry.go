package tasknode

import (
	"context"
	"fmt"
)

// Handler is the uniform signature every registered task body satisfies:
// it receives a copy of the caller-supplied meta, positional args, and
// keyword args, and returns a JSON-marshalable result or an error.
type Handler func(ctx context.Context, meta map[string]any, args []any, kwargs map[string]any) (any, error)

// RegisterTask inserts or overwrites the registry entry for name. Unlike
// the dynamic-language source, a Go closure carries no recoverable name,
// so name is mandatory here; an empty name is InvalidArgument.
func (n *Node) RegisterTask(name string, fn Handler) error {
	if name == "" || fn == nil {
		return fmt.Errorf("%w: task name must be non-empty", ErrInvalidArgument)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.registry[name] = fn
	return nil
}

// UnregisterTask removes name from the registry; it is not an error if
// name was never registered.
func (n *Node) UnregisterTask(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.registry, name)
}

// hasCapacityLocked reports whether this node can accept one more concurrent
// task given its configured task limit, and must be called with the
// node lock held.
func (n *Node) hasCapacityLocked() bool {
	if n.cfg.TaskLimitUnlimited {
		return true
	}
	return len(n.runningTasks) < n.cfg.TaskLimit
}

func (n *Node) isRegisteredLocked(name string) bool {
	_, ok := n.registry[name]
	return ok
}
