package tasknode

import "github.com/carrier-io/tasknode/internal/task"

// Pools returns a deep-enough snapshot of every pool this node has
// observed, keyed by pool name then by node ident. Safe for concurrent
// use; the returned maps are copies.
func (n *Node) Pools() map[string]map[string]*task.PoolInfo {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[string]map[string]*task.PoolInfo, len(n.poolState))
	for pool, bucket := range n.poolState {
		b := make(map[string]*task.PoolInfo, len(bucket))
		for ident, info := range bucket {
			b[ident] = info
		}
		out[pool] = b
	}
	return out
}

// PoolState returns the snapshot for a single pool name.
func (n *Node) PoolState(pool string) (map[string]*task.PoolInfo, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	bucket, ok := n.poolState[pool]
	if !ok {
		return nil, false
	}
	out := make(map[string]*task.PoolInfo, len(bucket))
	for ident, info := range bucket {
		out[ident] = info
	}
	return out, true
}

// TaskSnapshot returns a clone of the locally-known record for taskID.
func (n *Node) TaskSnapshot(taskID string) (*task.Record, bool) {
	n.mu.Lock()
	rec, ok := n.taskState[taskID]
	n.mu.Unlock()
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Healthy reports whether this node's bus connection is up.
func (n *Node) Healthy() bool {
	return n.busRef.Started()
}
