package tasknode

import (
	"context"
	"fmt"
	"time"

	"github.com/carrier-io/tasknode/internal/metrics"
	"github.com/carrier-io/tasknode/internal/task"
)

// StartTask runs the four-message election protocol: announce a pending
// task, broadcast a start_query, wait for a volunteering candidate, send
// it a targeted start_request, and wait for its ack. A candidate whose
// ack never arrives is discarded and the next queued candidate is tried
// instead; start_query is not re-emitted, so once no further candidate
// arrives within start_max_wait the election times out.
func (n *Node) StartTask(ctx context.Context, name string, args []any, kwargs map[string]any, pool string, meta map[string]any) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: task name must be non-empty", ErrInvalidArgument)
	}
	if pool == "" {
		pool = n.cfg.Pool
	}

	taskID := task.GenerateTaskID()
	start := time.Now()
	metrics.RecordElectionStarted(name, pool)

	rec := &task.Record{TaskID: taskID, Requestor: n.ident, Status: task.StatusPending, Meta: meta}
	n.mu.Lock()
	n.taskState[taskID] = rec
	n.knownTaskIDs[taskID] = struct{}{}
	n.lastStateUpdate[taskID] = time.Now()
	n.mu.Unlock()
	n.emitStateAnnounce(ctx, rec, "")
	n.emitStatusChange(ctx, taskID, task.StatusPending)

	el := newElection()
	n.mu.Lock()
	n.elections[taskID] = el
	n.mu.Unlock()

	queryTopic := syncQueryTopic(taskID)
	ackTopic := syncAckTopic(taskID)
	onCandidate := func(ctx context.Context, topic string, payload map[string]any) {
		if payloadString(payload, "for_requestor") != n.ident {
			return
		}
		ident := payloadString(payload, "ident")
		select {
		case el.candidates <- ident:
		default:
		}
	}
	onAck := func(ctx context.Context, topic string, payload map[string]any) {
		if payloadString(payload, "for_requestor") != n.ident {
			return
		}
		select {
		case el.acks <- struct{}{}:
		default:
		}
	}
	candidateSub, _ := n.busRef.Subscribe(queryTopic, onCandidate)
	ackSub, _ := n.busRef.Subscribe(ackTopic, onAck)
	defer func() {
		_ = n.busRef.Unsubscribe(queryTopic, candidateSub)
		_ = n.busRef.Unsubscribe(ackTopic, ackSub)
		n.mu.Lock()
		delete(n.elections, taskID)
		n.mu.Unlock()
	}()

	if err := n.busRef.Emit(ctx, topicStartQuery, map[string]any{
		"name":       name,
		"pool":       pool,
		"task_id":    taskID,
		"requestor":  n.ident,
		"sync_queue": queryTopic,
	}); err != nil {
		return "", fmt.Errorf("tasknode: emitting start_query: %w", err)
	}

	for {
		candidate, err := n.waitForCandidate(ctx, el)
		if err != nil {
			metrics.RecordElectionTimeout(name, pool)
			n.abandonTask(ctx, taskID)
			return "", err
		}

		if err := n.busRef.Emit(ctx, topicStartRequest, map[string]any{
			"name":       name,
			"meta":       meta,
			"args":       args,
			"kwargs":     kwargs,
			"pool":       pool,
			"task_id":    taskID,
			"runner":     candidate,
			"requestor":  n.ident,
			"sync_queue": ackTopic,
		}); err != nil {
			n.log.Warn().Err(err).Str("task_id", taskID).Msg("failed to emit start_request")
			continue
		}

		if n.waitForAck(ctx, el) {
			metrics.RecordElectionWon(name, pool)
			metrics.RecordElectionDuration(name, time.Since(start).Seconds())
			return taskID, nil
		}
		// Ack timed out; loop back for another candidate.
	}
}

func (n *Node) waitForCandidate(ctx context.Context, el *election) (string, error) {
	timer := time.NewTimer(n.cfg.StartMaxWait)
	defer timer.Stop()
	select {
	case ident := <-el.candidates:
		return ident, nil
	case <-timer.C:
		return "", ErrElectionTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (n *Node) waitForAck(ctx context.Context, el *election) bool {
	timer := time.NewTimer(n.cfg.StartMaxWait)
	defer timer.Stop()
	select {
	case <-el.acks:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (n *Node) abandonTask(ctx context.Context, taskID string) {
	n.mu.Lock()
	rec, ok := n.taskState[taskID]
	if ok {
		rec.Status = task.StatusStopped
		rec.Result = task.NewRaise("no candidate accepted this task before start_max_wait elapsed")
	}
	n.mu.Unlock()
	if ok {
		n.emitStateAnnounce(ctx, rec, "")
		n.emitStatusChange(ctx, taskID, task.StatusStopped)
		n.getLatch(taskID).Set()
	}
}

// onStartQueryGlobal is the runner-side reaction to a broadcast
// start_query: volunteer with a start_candidate iff the task name is
// registered here, the pool matches, and there is spare capacity.
func (n *Node) onStartQueryGlobal(ctx context.Context, topic string, payload map[string]any) {
	name := payloadString(payload, "name")
	pool := payloadString(payload, "pool")
	taskID := payloadString(payload, "task_id")
	requestor := payloadString(payload, "requestor")
	syncQueue := payloadString(payload, "sync_queue")

	n.mu.Lock()
	ok := n.isRegisteredLocked(name) && pool == n.cfg.Pool && n.hasCapacityLocked()
	n.mu.Unlock()
	if !ok {
		return
	}

	_ = n.busRef.Emit(ctx, syncQueue, map[string]any{
		"ident":         n.ident,
		"for_requestor": requestor,
		"sync_queue":    syncAckTopic(taskID),
	})
}

// onStartRequestGlobal is the runner-side reaction to a start_request
// targeted at this node's ident: re-check eligibility (capacity may
// have been consumed by another election since the candidate reply),
// ack, take over the task as runner, and spawn it.
func (n *Node) onStartRequestGlobal(ctx context.Context, topic string, payload map[string]any) {
	if payloadString(payload, "runner") != n.ident {
		return
	}
	name := payloadString(payload, "name")
	pool := payloadString(payload, "pool")
	taskID := payloadString(payload, "task_id")
	requestor := payloadString(payload, "requestor")
	meta := payloadMap(payload, "meta")
	args := payloadSlice(payload, "args")
	kwargs := payloadMap(payload, "kwargs")
	syncQueue := payloadString(payload, "sync_queue")

	n.mu.Lock()
	ok := n.isRegisteredLocked(name) && pool == n.cfg.Pool && n.hasCapacityLocked()
	n.mu.Unlock()
	if !ok {
		return
	}

	if err := n.busRef.Emit(ctx, syncQueue, map[string]any{"for_requestor": requestor}); err != nil {
		n.log.Warn().Err(err).Str("task_id", taskID).Msg("failed to emit start_ack")
		return
	}

	rec := &task.Record{TaskID: taskID, Requestor: requestor, Runner: n.ident, Status: task.StatusRunning, Meta: meta}
	n.mu.Lock()
	n.taskState[taskID] = rec
	n.knownTaskIDs[taskID] = struct{}{}
	n.lastStateUpdate[taskID] = time.Now()
	n.mu.Unlock()

	n.emitStateAnnounce(ctx, rec, "")
	n.emitStatusChange(ctx, taskID, task.StatusRunning)

	n.executeLocalTask(ctx, taskID, name, meta, args, kwargs)
}
