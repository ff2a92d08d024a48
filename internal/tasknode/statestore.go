package tasknode

import (
	"context"
	"encoding/json"
	"time"

	"github.com/carrier-io/tasknode/internal/bus"
	"github.com/carrier-io/tasknode/internal/task"
)

// subscribeAll wires every persistent (non-election) handler. Election
// sync-inbox topics are subscribed/unsubscribed dynamically per in-flight
// start_task call; see election.go. Each registration's Subscription
// token is kept so unsubscribeAll removes exactly this node's handlers —
// on a MemoryBus shared by several *Node instances in tests, two nodes'
// method values for the same handler report the same reflected code
// pointer, so only a per-registration token can tell them apart.
func (n *Node) subscribeAll() {
	subs := []struct {
		topic   string
		handler bus.HandlerFunc
	}{
		{topicNodeAnnounce, n.onNodeAnnounce},
		{topicNodeWithhold, n.onNodeWithhold},
		{topicStateAnnounce, n.onStateAnnounce},
		{topicStateQuery, n.onStateQuery},
		{topicStateReply, n.onStateReply},
		{topicPoolQuery, n.onPoolQuery},
		{topicPoolReply, n.onPoolReply},
		{topicStatusChange, n.onStatusChange},
		{topicResultPayload, n.onResultPayload},
		{topicStopRequest, n.onStopRequest},
		{topicStartQuery, n.onStartQueryGlobal},
		{topicStartRequest, n.onStartRequestGlobal},
	}
	n.persistentSubs = n.persistentSubs[:0]
	for _, s := range subs {
		sub, err := n.busRef.Subscribe(s.topic, s.handler)
		if err != nil {
			n.log.Warn().Err(err).Str("topic", s.topic).Msg("failed to subscribe")
			continue
		}
		n.persistentSubs = append(n.persistentSubs, subBinding{topic: s.topic, sub: sub})
	}
}

func (n *Node) unsubscribeAll() {
	for _, b := range n.persistentSubs {
		_ = n.busRef.Unsubscribe(b.topic, b.sub)
	}
	n.persistentSubs = nil
}

// onNodeAnnounce inserts/overwrites pool_state[pool][ident]. A targeted
// announce (for_requestor set and not us) is ignored.
func (n *Node) onNodeAnnounce(ctx context.Context, topic string, payload map[string]any) {
	if fr := payloadString(payload, "for_requestor"); fr != "" && fr != n.ident {
		return
	}
	ident := payloadString(payload, "ident")
	pool := payloadString(payload, "pool")
	running, _ := payloadInt(payload, "running_tasks")

	info := &task.PoolInfo{Ident: ident, Pool: pool, RunningTasks: running}
	if limit, ok := payloadInt(payload, "task_limit"); ok {
		info.TaskLimit = &limit
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.poolState[pool] == nil {
		n.poolState[pool] = make(map[string]*task.PoolInfo)
	}
	n.poolState[pool][ident] = info
}

// onNodeWithhold removes ident from every pool bucket.
func (n *Node) onNodeWithhold(ctx context.Context, topic string, payload map[string]any) {
	ident := payloadString(payload, "ident")
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, bucket := range n.poolState {
		delete(bucket, ident)
	}
}

// onStateAnnounce overwrites task_state[task_id], refreshes the
// timestamp, and sets the completion latch when status becomes stopped.
func (n *Node) onStateAnnounce(ctx context.Context, topic string, payload map[string]any) {
	if fr := payloadString(payload, "for_requestor"); fr != "" && fr != n.ident {
		return
	}
	taskID := payloadString(payload, "task_id")
	if taskID == "" {
		return
	}
	rec := &task.Record{
		TaskID:    taskID,
		Requestor: payloadString(payload, "requestor"),
		Runner:    payloadString(payload, "runner"),
		Status:    task.ParseStatus(payloadString(payload, "status")),
		Meta:      payloadMap(payload, "meta"),
	}
	rec.Result = payloadToResult(payloadMap(payload, "result"))

	n.mu.Lock()
	n.taskState[taskID] = rec
	n.knownTaskIDs[taskID] = struct{}{}
	n.lastStateUpdate[taskID] = time.Now()
	n.mu.Unlock()

	if rec.Status == task.StatusStopped {
		n.getLatch(taskID).Set()
	}
}

// onStateQuery replies with a targeted announce for a known task_id, or
// the entire local store otherwise. Self-originated queries are ignored.
func (n *Node) onStateQuery(ctx context.Context, topic string, payload map[string]any) {
	requestor := payloadString(payload, "requestor")
	if requestor == n.ident {
		return
	}
	taskID := payloadString(payload, "task_id")

	n.mu.Lock()
	if taskID != "" {
		if rec, ok := n.taskState[taskID]; ok {
			n.mu.Unlock()
			n.emitStateAnnounce(ctx, rec, requestor)
			return
		}
	}
	snapshot := make(map[string]any, len(n.taskState))
	for id, rec := range n.taskState {
		snapshot[id] = recordToPayload(rec)
	}
	n.mu.Unlock()

	_ = n.busRef.Emit(ctx, topicStateReply, map[string]any{
		"for_requestor":     requestor,
		"global_task_state": snapshot,
	})
}

// onStateReply applies the merge rule: tasks we run ourselves are never
// overwritten by an incoming reply; tasks we merely track locally defer
// entirely to the remote snapshot.
func (n *Node) onStateReply(ctx context.Context, topic string, payload map[string]any) {
	if payloadString(payload, "for_requestor") != n.ident {
		return
	}
	snapshot := payloadMap(payload, "global_task_state")

	n.mu.Lock()
	defer n.mu.Unlock()
	for id := range n.taskState {
		if _, running := n.runningTasks[id]; running {
			delete(snapshot, id)
			continue
		}
		delete(n.taskState, id)
	}
	for id, raw := range snapshot {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		rec := payloadToRecord(id, m)
		n.taskState[id] = rec
		n.knownTaskIDs[id] = struct{}{}
		n.lastStateUpdate[id] = time.Now()
	}
}

func (n *Node) onPoolQuery(ctx context.Context, topic string, payload map[string]any) {
	requestor := payloadString(payload, "requestor")
	if requestor == n.ident {
		return
	}
	pool := payloadString(payload, "pool")

	n.mu.Lock()
	snapshot := make(map[string]any)
	if pool != "" {
		for ident, info := range n.poolState[pool] {
			snapshot[ident] = poolInfoToPayload(info)
		}
	} else {
		for p, bucket := range n.poolState {
			b := make(map[string]any, len(bucket))
			for ident, info := range bucket {
				b[ident] = poolInfoToPayload(info)
			}
			snapshot[p] = b
		}
	}
	n.mu.Unlock()

	_ = n.busRef.Emit(ctx, topicPoolReply, map[string]any{
		"for_requestor":    requestor,
		"pool":             pool,
		"global_pool_state": snapshot,
	})
}

func (n *Node) onPoolReply(ctx context.Context, topic string, payload map[string]any) {
	if payloadString(payload, "for_requestor") != n.ident {
		return
	}
	pool := payloadString(payload, "pool")
	snapshot := payloadMap(payload, "global_pool_state")

	n.mu.Lock()
	defer n.mu.Unlock()
	if pool != "" {
		bucket := n.poolState[pool]
		if bucket == nil {
			bucket = make(map[string]*task.PoolInfo)
			n.poolState[pool] = bucket
		}
		for ident, raw := range snapshot {
			if m, ok := raw.(map[string]any); ok {
				bucket[ident] = payloadToPoolInfo(ident, pool, m)
			}
		}
		return
	}
	for p, raw := range snapshot {
		bucket, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if n.poolState[p] == nil {
			n.poolState[p] = make(map[string]*task.PoolInfo)
		}
		for ident, infoRaw := range bucket {
			if m, ok := infoRaw.(map[string]any); ok {
				n.poolState[p][ident] = payloadToPoolInfo(ident, p, m)
			}
		}
	}
}

func (n *Node) onStatusChange(ctx context.Context, topic string, payload map[string]any) {
	taskID := payloadString(payload, "task_id")
	status := task.ParseStatus(payloadString(payload, "status"))
	n.notifyStatusSubscribers(taskID, status)
}

// onResultPayload stashes a result blob delivered over the events
// transport; the watcher drains pendingResult on its next pass.
func (n *Node) onResultPayload(ctx context.Context, topic string, payload map[string]any) {
	taskID := payloadString(payload, "task_id")
	if taskID == "" {
		return
	}
	blob, _ := payload["payload"].(string)

	n.mu.Lock()
	rt, ok := n.runningTasks[taskID]
	n.mu.Unlock()
	if ok {
		rt.setPendingResult([]byte(blob))
	}
}

// onStopRequest terminates (or kills) the child process of a task this
// node happens to be running; a no-op if the task is not local here.
func (n *Node) onStopRequest(ctx context.Context, topic string, payload map[string]any) {
	taskID := payloadString(payload, "task_id")
	n.mu.Lock()
	rt, ok := n.runningTasks[taskID]
	n.mu.Unlock()
	if !ok {
		return
	}
	rt.stop(n.cfg.KillOnStop)
}

func (n *Node) emitStateAnnounce(ctx context.Context, rec *task.Record, forRequestor string) {
	payload := recordToPayload(rec)
	if forRequestor != "" {
		payload["for_requestor"] = forRequestor
	}
	_ = n.busRef.Emit(ctx, topicStateAnnounce, payload)
}

func recordToPayload(rec *task.Record) map[string]any {
	p := map[string]any{
		"task_id":   rec.TaskID,
		"requestor": rec.Requestor,
		"runner":    rec.Runner,
		"status":    rec.Status.String(),
		"meta":      rec.Meta,
	}
	if rec.Result != nil {
		resultPayload := map[string]any{"raise": rec.Result.Raise}
		if len(rec.Result.Return) > 0 {
			var v any
			if err := json.Unmarshal(rec.Result.Return, &v); err == nil {
				resultPayload["return"] = v
			}
		}
		p["result"] = resultPayload
	}
	return p
}

func payloadToRecord(taskID string, m map[string]any) *task.Record {
	return &task.Record{
		TaskID:    taskID,
		Requestor: payloadString(m, "requestor"),
		Runner:    payloadString(m, "runner"),
		Status:    task.ParseStatus(payloadString(m, "status")),
		Meta:      payloadMap(m, "meta"),
		Result:    payloadToResult(payloadMap(m, "result")),
	}
}

// payloadToResult reconstructs a task.Result from its wire form. The
// returned value, if any, is re-marshaled back into json.RawMessage
// since the bus round-trip (or MemoryBus's pass-by-reference map)
// leaves it as a plain decoded Go value rather than raw JSON bytes.
func payloadToResult(m map[string]any) *task.Result {
	if m == nil {
		return nil
	}
	r := &task.Result{}
	if raise, ok := m["raise"].(string); ok {
		r.Raise = raise
	}
	if v, ok := m["return"]; ok {
		if raw, err := json.Marshal(v); err == nil {
			r.Return = raw
		}
	}
	return r
}

func poolInfoToPayload(info *task.PoolInfo) map[string]any {
	p := map[string]any{
		"ident":         info.Ident,
		"pool":          info.Pool,
		"running_tasks": info.RunningTasks,
	}
	if info.TaskLimit == nil {
		p["task_limit"] = nil
	} else {
		p["task_limit"] = *info.TaskLimit
	}
	return p
}

func payloadToPoolInfo(ident, pool string, m map[string]any) *task.PoolInfo {
	info := &task.PoolInfo{Ident: ident, Pool: pool}
	if running, ok := payloadInt(m, "running_tasks"); ok {
		info.RunningTasks = running
	}
	if limit, ok := payloadInt(m, "task_limit"); ok {
		info.TaskLimit = &limit
	}
	return info
}
