// Package tasknode implements the peer-to-peer task fabric: discovery,
// election, replicated task state, child-process execution, and the
// three interchangeable result transports, all talking through a
// bus.Bus the node itself never constructs unless asked to.
package tasknode

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/carrier-io/tasknode/internal/bus"
	"github.com/carrier-io/tasknode/internal/config"
	"github.com/carrier-io/tasknode/internal/logger"
	"github.com/carrier-io/tasknode/internal/task"
	"github.com/rs/zerolog"
)

// StatusHandler is invoked on every task_status_change event this node
// observes, after subscribe_to_task_statuses.
type StatusHandler func(taskID string, status task.Status)

// completionLatch is the one-shot signal set exactly once, the moment a
// task's globally observed status becomes stopped.
type completionLatch struct {
	mu   sync.Mutex
	ch   chan struct{}
	done bool
}

func newCompletionLatch() *completionLatch {
	return &completionLatch{ch: make(chan struct{})}
}

func (l *completionLatch) Set() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.done {
		l.done = true
		close(l.ch)
	}
}

func (l *completionLatch) Done() <-chan struct{} { return l.ch }

func (l *completionLatch) IsSet() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

// election is the requestor-side pair of sync inboxes for one in-flight
// start_task call.
type election struct {
	candidates chan string // volunteering candidate idents, buffered
	acks       chan struct{}
}

func newElection() *election {
	return &election{
		candidates: make(chan string, 32),
		acks:       make(chan struct{}, 1),
	}
}

// Node is the task node controller: the public API surface plus the
// background state every component in this package shares. The node
// lock (mu) is the only mutex and guards every field below it.
type Node struct {
	cfg  config.NodeConfig
	ourBus bool // true if this node started busRef itself
	busRef bus.Bus

	ident string
	log   zerolog.Logger

	mu sync.Mutex

	registry map[string]Handler

	poolState map[string]map[string]*task.PoolInfo // pool -> ident -> info
	taskState map[string]*task.Record
	knownTaskIDs map[string]struct{}

	runningTasks map[string]*runningTask // local-only: task_id -> entry
	elections    map[string]*election     // task_id -> requestor-side inbox pair

	completionLatches map[string]*completionLatch
	lastStateUpdate   map[string]time.Time

	statusSubscribers []StatusHandler

	runningWake chan struct{} // replaced (closed+remade) whenever runningTasks mutates

	started  bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	watcher     *watcher
	housekeeper *housekeeper

	persistentSubs []subBinding
}

// subBinding ties a persistent subscription's bus.Subscription token to
// the topic it was registered on, so unsubscribeAll can tear down
// exactly this node's own registrations.
type subBinding struct {
	topic string
	sub   bus.Subscription
}

// New constructs a Node bound to busRef. ourBus indicates whether Start
// should call busRef.Start/Stop itself (true) or treat it as externally
// managed (false) — mirroring the source's distinction between a bus the
// node owns and one handed to it already running.
func New(cfg config.NodeConfig, busRef bus.Bus, ourBus bool) *Node {
	ident := task.GenerateIdent(cfg.IdentPrefix)
	return &Node{
		cfg:               cfg,
		busRef:            busRef,
		ourBus:            ourBus,
		ident:             ident,
		log:               logger.WithNode(ident),
		registry:          make(map[string]Handler),
		poolState:         make(map[string]map[string]*task.PoolInfo),
		taskState:         make(map[string]*task.Record),
		knownTaskIDs:      make(map[string]struct{}),
		runningTasks:      make(map[string]*runningTask),
		elections:         make(map[string]*election),
		completionLatches: make(map[string]*completionLatch),
		lastStateUpdate:   make(map[string]time.Time),
		runningWake:       make(chan struct{}),
	}
}

func (n *Node) Ident() string { return n.ident }
func (n *Node) Pool() string  { return n.cfg.Pool }

// Start subscribes all handlers, spawns the watcher and housekeeper, and
// announces self. It is idempotent. If block is true, it blocks until
// Stop is called from another goroutine.
func (n *Node) Start(ctx context.Context, block bool) error {
	n.mu.Lock()
	if n.started {
		n.mu.Unlock()
		return nil
	}
	n.started = true
	n.stopCh = make(chan struct{})
	n.mu.Unlock()

	if n.cfg.ResultTransport == "files" {
		if err := os.MkdirAll(n.cfg.TmpPath, 0o700); err != nil {
			return fmt.Errorf("tasknode: creating tmp_path: %w", err)
		}
	}

	if n.ourBus && !n.busRef.Started() {
		if err := n.busRef.Start(ctx); err != nil {
			return fmt.Errorf("tasknode: starting bus: %w", err)
		}
	}

	n.subscribeAll()

	n.watcher = newWatcher(n)
	n.housekeeper = newHousekeeper(n)
	n.wg.Add(2)
	go func() { defer n.wg.Done(); n.watcher.run(n.stopCh) }()
	go func() { defer n.wg.Done(); n.housekeeper.run(n.stopCh) }()

	n.announceSelf(ctx, "")

	n.log.Info().Str("pool", n.cfg.Pool).Msg("task node started")

	if block {
		<-n.stopCh
	}
	return nil
}

// Stop announces withhold, unsubscribes all handlers, stops every local
// task, releases status subscribers, and stops the bus if this node
// started it.
func (n *Node) Stop(ctx context.Context, block bool) error {
	n.mu.Lock()
	if !n.started {
		n.mu.Unlock()
		return nil
	}
	n.started = false
	local := make([]*runningTask, 0, len(n.runningTasks))
	for _, rt := range n.runningTasks {
		local = append(local, rt)
	}
	n.mu.Unlock()

	_ = n.busRef.Emit(ctx, topicNodeWithhold, map[string]any{"ident": n.ident})

	n.unsubscribeAll()

	// This node's own onStopRequest handler is gone now, so its local
	// tasks are stopped directly rather than through a task_stop_request.
	for _, rt := range local {
		rt.stop(n.cfg.KillOnStop)
	}
	if block {
		deadline := time.After(n.cfg.StopNodeTaskWait)
	waitLoop:
		for {
			n.mu.Lock()
			remaining := len(n.runningTasks)
			n.mu.Unlock()
			if remaining == 0 {
				break
			}
			select {
			case <-deadline:
				break waitLoop
			case <-time.After(25 * time.Millisecond):
			}
		}
	}

	n.mu.Lock()
	n.statusSubscribers = nil
	n.mu.Unlock()

	n.stopOnce.Do(func() { close(n.stopCh) })
	n.wg.Wait()

	if n.ourBus {
		return n.busRef.Stop()
	}
	return nil
}

// announceSelf emits a task_node_announce reflecting current capacity.
// forRequestor, when non-empty, targets the announce at one requestor
// (used when replying to a pool/state query); empty means a broadcast.
func (n *Node) announceSelf(ctx context.Context, forRequestor string) {
	n.mu.Lock()
	running := len(n.runningTasks)
	payload := map[string]any{
		"ident":         n.ident,
		"pool":          n.cfg.Pool,
		"running_tasks": running,
	}
	if n.cfg.TaskLimitUnlimited {
		payload["task_limit"] = nil
	} else {
		payload["task_limit"] = n.cfg.TaskLimit
	}
	if forRequestor != "" {
		payload["for_requestor"] = forRequestor
	}
	n.mu.Unlock()

	if err := n.busRef.Emit(ctx, topicNodeAnnounce, payload); err != nil {
		n.log.Warn().Err(err).Msg("failed to announce node state")
	}
}

func (n *Node) emitStatusChange(ctx context.Context, taskID string, status task.Status) {
	if err := n.busRef.Emit(ctx, topicStatusChange, map[string]any{
		"task_id": taskID,
		"status":  status.String(),
	}); err != nil {
		n.log.Warn().Err(err).Str("task_id", taskID).Msg("failed to emit status change")
	}
}

// SubscribeToTaskStatuses subscribes fn to task_status_change and
// records it so Stop can release it later.
func (n *Node) SubscribeToTaskStatuses(fn StatusHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statusSubscribers = append(n.statusSubscribers, fn)
}

func (n *Node) notifyStatusSubscribers(taskID string, status task.Status) {
	n.mu.Lock()
	subs := append([]StatusHandler(nil), n.statusSubscribers...)
	n.mu.Unlock()
	for _, fn := range subs {
		fn(taskID, status)
	}
}

// CountFreeWorkers issues a task_pool_query for pool, waits query_wait
// for replies to refresh the locally cached pool state (matching
// count_free_workers' call to query_pool_state before it sums), then
// sums (task_limit - running_tasks) across every node known in pool. If
// any node in the pool advertises unlimited capacity, the second return
// value is false (meaning "unlimited").
func (n *Node) CountFreeWorkers(ctx context.Context, pool string) (count int, bounded bool) {
	_ = n.busRef.Emit(ctx, topicPoolQuery, map[string]any{
		"pool":      pool,
		"requestor": n.ident,
	})

	select {
	case <-time.After(n.cfg.QueryWait):
	case <-ctx.Done():
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	bounded = true
	for _, info := range n.poolState[pool] {
		free, ok := info.FreeCapacity()
		if !ok {
			return 0, false
		}
		count += free
	}
	return count, bounded
}

func (n *Node) getLatch(taskID string) *completionLatch {
	n.mu.Lock()
	defer n.mu.Unlock()
	l, ok := n.completionLatches[taskID]
	if !ok {
		l = newCompletionLatch()
		n.completionLatches[taskID] = l
	}
	return l
}

func (n *Node) recordLocked(taskID string) (*task.Record, bool) {
	r, ok := n.taskState[taskID]
	return r, ok
}

// ensureKnown issues a task_state_query and waits query_wait if taskID
// is not yet known locally, per the shared lookup policy of
// wait_for_task/get_task_status/get_task_meta/get_task_result.
func (n *Node) ensureKnown(ctx context.Context, taskID string) error {
	n.mu.Lock()
	_, known := n.taskState[taskID]
	n.mu.Unlock()
	if known {
		return nil
	}

	_ = n.busRef.Emit(ctx, topicStateQuery, map[string]any{
		"task_id":   taskID,
		"requestor": n.ident,
	})

	select {
	case <-time.After(n.cfg.QueryWait):
	case <-ctx.Done():
		return ctx.Err()
	}

	n.mu.Lock()
	_, known = n.taskState[taskID]
	n.mu.Unlock()
	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	return nil
}

// WaitForTask blocks until taskID's completion latch fires, first
// resolving an unknown task via ensureKnown.
func (n *Node) WaitForTask(ctx context.Context, taskID string, timeout time.Duration) error {
	if err := n.ensureKnown(ctx, taskID); err != nil {
		return err
	}
	latch := n.getLatch(taskID)

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-latch.Done():
		return nil
	case <-timeoutCh:
		return fmt.Errorf("tasknode: timed out waiting for task %s", taskID)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// JoinTask waits for completion then returns the result.
func (n *Node) JoinTask(ctx context.Context, taskID string, timeout time.Duration) (*task.Result, error) {
	if err := n.WaitForTask(ctx, taskID, timeout); err != nil {
		return nil, err
	}
	return n.GetTaskResult(ctx, taskID)
}

func (n *Node) GetTaskStatus(ctx context.Context, taskID string) (task.Status, error) {
	if err := n.ensureKnown(ctx, taskID); err != nil {
		return task.StatusUnknown, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	r := n.taskState[taskID]
	return r.Status, nil
}

func (n *Node) GetTaskMeta(ctx context.Context, taskID string) (map[string]any, error) {
	if err := n.ensureKnown(ctx, taskID); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.taskState[taskID].Meta, nil
}

// GetTaskResult returns ErrNoResult when the stored result is absent or
// malformed, the stored Result on success, and ErrTaskRaised
// (wrapping the child's traceback text) on a raise outcome.
func (n *Node) GetTaskResult(ctx context.Context, taskID string) (*task.Result, error) {
	if err := n.ensureKnown(ctx, taskID); err != nil {
		return nil, err
	}
	n.mu.Lock()
	r := n.taskState[taskID]
	n.mu.Unlock()

	if r.Result == nil {
		return nil, ErrNoResult
	}
	if r.Result.IsRaise() {
		return nil, fmt.Errorf("%w: %s", ErrTaskRaised, r.Result.Raise)
	}
	return r.Result, nil
}

// StopTask issues an advisory task_stop_request; the owning runner, if
// any receiver is one, terminates or kills its child process.
func (n *Node) StopTask(ctx context.Context, taskID string) error {
	return n.busRef.Emit(ctx, topicStopRequest, map[string]any{
		"task_id":   taskID,
		"requestor": n.ident,
	})
}

func (n *Node) signalRunningChangedLocked() {
	close(n.runningWake)
	n.runningWake = make(chan struct{})
}
