// Package bus defines the publish/subscribe transport contract the task
// node is built against, and two implementations of it.
package bus

import (
	"context"
	"errors"
)

// HandlerFunc receives a topic's payload, already decoded into a generic
// map. Handlers must be idempotent: the bus gives reliable-enough
// in-order delivery per topic but does not guarantee exactly-once.
type HandlerFunc func(ctx context.Context, topic string, payload map[string]any)

// Subscription identifies one Subscribe registration. It is the only
// reliable way to remove a specific registration later: a HandlerFunc
// bound as a method value carries no caller identity a bus can compare
// by (two different receivers' method values of the same method report
// the same reflected code pointer), so Unsubscribe is keyed by this
// token instead of by the handler value.
type Subscription uint64

// ErrNotCloneable is returned by CloneConfig implementations that have no
// meaningful snapshot to hand to a child process (for example, an
// in-process bus with no external endpoint).
var ErrNotCloneable = errors.New("bus: not cloneable across process boundary")

// Config is an opaque, serializable snapshot sufficient to construct an
// equivalent client of the same bus inside a freshly spawned child
// process. Concrete bus implementations define their own concrete type
// and type-assert it back out of this interface on the consuming side.
type Config interface {
	// Dial constructs a fresh, unstarted Bus from this snapshot.
	Dial() (Bus, error)
}

// Bus is the capability contract the task node core consumes. It never
// assumes a particular transport; RedisBus and MemoryBus both satisfy it.
type Bus interface {
	Emit(ctx context.Context, topic string, payload map[string]any) error
	Subscribe(topic string, handler HandlerFunc) (Subscription, error)
	Unsubscribe(topic string, sub Subscription) error
	Start(ctx context.Context) error
	Stop() error
	Started() bool
	CloneConfig() (Config, error)
}
