package tasknode

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carrier-io/tasknode/internal/bus"
	"github.com/carrier-io/tasknode/internal/config"
	"github.com/carrier-io/tasknode/internal/task"
)

// newFleet wires n nodes onto one shared MemoryBus (MemoryBus has no
// presence outside the current process, so simulating peers means
// handing every node the same instance and letting the test own its
// Start/Stop lifecycle instead of any one node).
func newFleet(t *testing.T, n int, cfg config.NodeConfig) ([]*Node, *bus.MemoryBus) {
	t.Helper()
	b := bus.NewMemoryBus()
	require.NoError(t, b.Start(context.Background()))

	nodes := make([]*Node, n)
	for i := range nodes {
		nodes[i] = New(cfg, b, false)
	}
	return nodes, b
}

func testCfg() config.NodeConfig {
	return config.NodeConfig{
		Pool:                 "default",
		TaskLimitUnlimited:   true,
		IdentPrefix:          "test-",
		StartMaxWait:         500 * time.Millisecond,
		QueryWait:            200 * time.Millisecond,
		WatcherMaxWait:       30 * time.Millisecond,
		HousekeepingInterval: 50 * time.Millisecond,
		TaskRetentionPeriod:  30 * time.Millisecond,
		ResultMaxWait:        200 * time.Millisecond,
		ResultTransport:      "memory",
	}
}

func startAll(t *testing.T, ctx context.Context, nodes []*Node) {
	t.Helper()
	for _, n := range nodes {
		require.NoError(t, n.Start(ctx, false))
	}
	// Let each node's announce propagate before the test drives elections.
	time.Sleep(50 * time.Millisecond)
}

func stopAll(nodes []*Node, b *bus.MemoryBus) {
	ctx := context.Background()
	for _, n := range nodes {
		_ = n.Stop(ctx, true)
	}
	_ = b.Stop()
}

func TestStartTask_SingleRunnerElectedAndCompletes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fleet, b := newFleet(t, 2, testCfg())
	req, run := fleet[0], fleet[1]

	require.NoError(t, run.RegisterTask("echo", func(ctx context.Context, meta map[string]any, args []any, kwargs map[string]any) (any, error) {
		return map[string]any{"echoed": args}, nil
	}))

	startAll(t, ctx, fleet)
	defer stopAll(fleet, b)

	taskID, err := req.StartTask(ctx, "echo", []any{"hello"}, nil, "default", nil)
	require.NoError(t, err)
	require.NotEmpty(t, taskID)

	require.NoError(t, req.WaitForTask(ctx, taskID, 3*time.Second))

	result, err := req.GetTaskResult(ctx, taskID)
	require.NoError(t, err)
	assert.False(t, result.IsRaise())
	assert.Contains(t, string(result.Return), "hello")

	status, err := req.GetTaskStatus(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusStopped, status)
}

func TestStartTask_NoCandidate_TimesOut(t *testing.T) {
	cfg := testCfg()
	cfg.StartMaxWait = 80 * time.Millisecond
	fleet, b := newFleet(t, 1, cfg)
	defer stopAll(fleet, b)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	startAll(t, ctx, fleet)

	_, err := fleet[0].StartTask(ctx, "nonexistent", nil, nil, "default", nil)
	assert.ErrorIs(t, err, ErrElectionTimeout)
}

func TestStartTask_HandlerRaises(t *testing.T) {
	fleet, b := newFleet(t, 2, testCfg())
	defer stopAll(fleet, b)
	req, run := fleet[0], fleet[1]

	require.NoError(t, run.RegisterTask("fail", func(ctx context.Context, meta map[string]any, args []any, kwargs map[string]any) (any, error) {
		return nil, assertErr("boom")
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	startAll(t, ctx, fleet)

	taskID, err := req.StartTask(ctx, "fail", nil, nil, "default", nil)
	require.NoError(t, err)
	require.NoError(t, req.WaitForTask(ctx, taskID, 3*time.Second))

	_, err = req.GetTaskResult(ctx, taskID)
	assert.ErrorIs(t, err, ErrTaskRaised)
}

func TestStartTask_CapacityRespected(t *testing.T) {
	cfg := testCfg()
	cfg.TaskLimitUnlimited = false
	cfg.TaskLimit = 1
	fleet, b := newFleet(t, 2, cfg)
	defer stopAll(fleet, b)
	req, run := fleet[0], fleet[1]

	block := make(chan struct{})
	require.NoError(t, run.RegisterTask("block", func(ctx context.Context, meta map[string]any, args []any, kwargs map[string]any) (any, error) {
		<-block
		return "done", nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	startAll(t, ctx, fleet)

	first, err := req.StartTask(ctx, "block", nil, nil, "default", nil)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	secondCtx, secondCancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer secondCancel()
	_, err = req.StartTask(secondCtx, "block", nil, nil, "default", nil)
	assert.Error(t, err)

	close(block)
}

func TestNode_PoolsAndHealthIntrospection(t *testing.T) {
	fleet, b := newFleet(t, 2, testCfg())
	defer stopAll(fleet, b)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	startAll(t, ctx, fleet)

	pools := fleet[0].Pools()
	bucket, ok := pools["default"]
	require.True(t, ok)
	assert.Len(t, bucket, 2)

	assert.True(t, fleet[0].Healthy())
}

func TestNode_CountFreeWorkers_QueriesBeforeSumming(t *testing.T) {
	cfg := testCfg()
	cfg.TaskLimitUnlimited = false
	cfg.TaskLimit = 3
	fleet, b := newFleet(t, 2, cfg)
	defer stopAll(fleet, b)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	// Start the second node first; the first node then only holds its
	// own announce and learns of the second node through
	// CountFreeWorkers' own task_pool_query round-trip, which is exactly
	// the behavior under test.
	require.NoError(t, fleet[1].Start(ctx, false))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, fleet[0].Start(ctx, false))

	count, bounded := fleet[0].CountFreeWorkers(ctx, "default")
	assert.True(t, bounded)
	assert.Equal(t, 6, count) // two nodes, task_limit=3, nothing running
}

// assertErr is a minimal error type to avoid importing errors just for
// a single Sprintf-free constant error in these tests.
type assertErr string

func (e assertErr) Error() string { return string(e) }
