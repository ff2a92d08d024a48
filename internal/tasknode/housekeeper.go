package tasknode

import (
	"context"
	"time"

	"github.com/carrier-io/tasknode/internal/metrics"
	"github.com/carrier-io/tasknode/internal/task"
)

// housekeeper prunes terminal task state once it has sat untouched for
// longer than task_retention_period. A task whose completion latch was
// never set (still pending/running, here or anywhere else in the pool)
// is never pruned, however old its last update.
type housekeeper struct {
	n *Node
}

func newHousekeeper(n *Node) *housekeeper { return &housekeeper{n: n} }

func (h *housekeeper) run(stopCh <-chan struct{}) {
	n := h.n
	ticker := time.NewTicker(n.cfg.HousekeepingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			h.pass()
		}
	}
}

func (h *housekeeper) pass() {
	n := h.n
	now := time.Now()

	n.mu.Lock()
	var pruneIDs []string
	for taskID, updatedAt := range n.lastStateUpdate {
		latch, hasLatch := n.completionLatches[taskID]
		if !hasLatch || !latch.IsSet() {
			continue
		}
		if now.Sub(updatedAt) < n.cfg.TaskRetentionPeriod {
			continue
		}
		pruneIDs = append(pruneIDs, taskID)
	}
	for _, taskID := range pruneIDs {
		delete(n.completionLatches, taskID)
		delete(n.taskState, taskID)
		delete(n.knownTaskIDs, taskID)
		delete(n.lastStateUpdate, taskID)
	}
	n.mu.Unlock()

	if len(pruneIDs) == 0 {
		return
	}

	metrics.RecordHousekeeperBatch(float64(len(pruneIDs)))
	metrics.RecordTasksPruned(n.cfg.Pool, float64(len(pruneIDs)))

	ctx := context.Background()
	for _, taskID := range pruneIDs {
		n.emitStatusChange(ctx, taskID, task.StatusPruned)
		n.log.Debug().Str("task_id", taskID).Msg("pruned task record")
	}
}
