package tasknode

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carrier-io/tasknode/internal/bus"
	"github.com/carrier-io/tasknode/internal/config"
	"github.com/carrier-io/tasknode/internal/task"
)

func newBareNode() *Node {
	return New(config.NodeConfig{Pool: "default", TaskLimitUnlimited: true}, bus.NewMemoryBus(), false)
}

func TestOnStateReply_DefersToRemoteExceptForOwnRunningTasks(t *testing.T) {
	n := newBareNode()
	n.ident = "self"

	// "locally-running" is a task this node runs itself; it must never
	// be clobbered by an incoming reply, even if the reply disagrees.
	n.runningTasks["locally-running"] = &runningTask{taskID: "locally-running"}
	n.taskState["locally-running"] = &task.Record{TaskID: "locally-running", Status: task.StatusRunning}

	// "stale-remote" is a task we merely observed before; it must be
	// fully replaced (or dropped) by the incoming snapshot.
	n.taskState["stale-remote"] = &task.Record{TaskID: "stale-remote", Status: task.StatusPending}

	snapshot := map[string]any{
		"locally-running": map[string]any{"task_id": "locally-running", "status": "stopped"},
		"fresh-remote":     map[string]any{"task_id": "fresh-remote", "status": "running", "runner": "other"},
	}

	n.onStateReply(context.Background(), topicStateReply, map[string]any{
		"for_requestor":     "self",
		"global_task_state": snapshot,
	})

	assert.Equal(t, task.StatusRunning, n.taskState["locally-running"].Status, "own running task must not be overwritten by a remote reply")
	_, stillThere := n.taskState["stale-remote"]
	assert.False(t, stillThere, "a task no longer in the remote snapshot must be dropped")
	require.Contains(t, n.taskState, "fresh-remote")
	assert.Equal(t, "other", n.taskState["fresh-remote"].Runner)
}

func TestOnStateReply_IgnoresRepliesNotAddressedToUs(t *testing.T) {
	n := newBareNode()
	n.ident = "self"
	n.taskState["existing"] = &task.Record{TaskID: "existing", Status: task.StatusPending}

	n.onStateReply(context.Background(), topicStateReply, map[string]any{
		"for_requestor": "someone-else",
		"global_task_state": map[string]any{
			"existing": map[string]any{"task_id": "existing", "status": "stopped"},
		},
	})

	assert.Equal(t, task.StatusPending, n.taskState["existing"].Status)
}

func TestOnNodeAnnounce_UpsertsPoolState(t *testing.T) {
	n := newBareNode()

	n.onNodeAnnounce(context.Background(), topicNodeAnnounce, map[string]any{
		"ident":         "peer-1",
		"pool":          "default",
		"running_tasks": 2,
		"task_limit":    5,
	})

	info, ok := n.poolState["default"]["peer-1"]
	require.True(t, ok)
	assert.Equal(t, 2, info.RunningTasks)
	require.NotNil(t, info.TaskLimit)
	assert.Equal(t, 5, *info.TaskLimit)
}

func TestOnNodeAnnounce_IgnoresTargetedAnnounceForSomeoneElse(t *testing.T) {
	n := newBareNode()
	n.ident = "self"

	n.onNodeAnnounce(context.Background(), topicNodeAnnounce, map[string]any{
		"ident":         "peer-1",
		"pool":          "default",
		"for_requestor": "someone-else",
	})

	_, ok := n.poolState["default"]["peer-1"]
	assert.False(t, ok)
}

func TestOnNodeWithhold_RemovesFromEveryPool(t *testing.T) {
	n := newBareNode()
	n.poolState["default"] = map[string]*task.PoolInfo{"peer-1": {Ident: "peer-1", Pool: "default"}}
	n.poolState["other"] = map[string]*task.PoolInfo{"peer-1": {Ident: "peer-1", Pool: "other"}}

	n.onNodeWithhold(context.Background(), topicNodeWithhold, map[string]any{"ident": "peer-1"})

	_, ok1 := n.poolState["default"]["peer-1"]
	_, ok2 := n.poolState["other"]["peer-1"]
	assert.False(t, ok1)
	assert.False(t, ok2)
}

func TestOnStateAnnounce_SetsLatchOnStopped(t *testing.T) {
	n := newBareNode()

	n.onStateAnnounce(context.Background(), topicStateAnnounce, map[string]any{
		"task_id": "t1",
		"status":  "stopped",
	})

	assert.True(t, n.getLatch("t1").IsSet())
	assert.Equal(t, task.StatusStopped, n.taskState["t1"].Status)
}

func TestRecordToPayload_RoundTripsReturnValue(t *testing.T) {
	result, err := task.NewReturn(map[string]any{"ok": true})
	require.NoError(t, err)
	rec := &task.Record{TaskID: "t1", Status: task.StatusStopped, Result: result}

	payload := recordToPayload(rec)
	rebuilt := payloadToRecord("t1", payload)

	require.NotNil(t, rebuilt.Result)
	assert.False(t, rebuilt.Result.IsRaise())
	assert.Contains(t, string(rebuilt.Result.Return), "ok")
}

func TestRecordToPayload_RoundTripsRaise(t *testing.T) {
	rec := &task.Record{TaskID: "t1", Status: task.StatusStopped, Result: task.NewRaise("boom")}

	payload := recordToPayload(rec)
	rebuilt := payloadToRecord("t1", payload)

	require.NotNil(t, rebuilt.Result)
	assert.True(t, rebuilt.Result.IsRaise())
	assert.Equal(t, "boom", rebuilt.Result.Raise)
}

func TestOnResultPayload_DeliversToRunningTask(t *testing.T) {
	n := newBareNode()
	rt := &runningTask{taskID: "t1", done: make(chan struct{})}
	n.runningTasks["t1"] = rt

	n.onResultPayload(context.Background(), topicResultPayload, map[string]any{
		"task_id": "t1",
		"payload": "some-blob",
	})

	blob, ok := rt.takePendingResult()
	require.True(t, ok)
	assert.Equal(t, "some-blob", string(blob))
}
