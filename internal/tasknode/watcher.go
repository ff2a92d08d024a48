package tasknode

import (
	"context"
	"time"

	"github.com/carrier-io/tasknode/internal/metrics"
	"github.com/carrier-io/tasknode/internal/task"
)

// watcher reaps finished local tasks: it waits for the running set to
// become non-empty, polls each child for exit, collects its result
// through whichever transport this node is configured for, and
// publishes the stopped state. It never exits on error — every
// failure is logged and the loop continues.
type watcher struct {
	n *Node
}

func newWatcher(n *Node) *watcher { return &watcher{n: n} }

func (w *watcher) run(stopCh <-chan struct{}) {
	n := w.n
	for {
		n.mu.Lock()
		wake := n.runningWake
		hasWork := len(n.runningTasks) > 0
		n.mu.Unlock()

		if !hasWork {
			select {
			case <-stopCh:
				return
			case <-wake:
				continue
			case <-time.After(n.cfg.WatcherMaxWait):
				continue
			}
		}

		start := time.Now()
		w.pass()
		metrics.RecordWatcherLoop(time.Since(start).Seconds())

		select {
		case <-stopCh:
			return
		case <-wake:
		case <-time.After(n.cfg.WatcherMaxWait):
		}
	}
}

// pass checks every currently-running local task for a finished child.
// A task whose child has exited but whose events-transport result has
// not yet shown up is retried on a later pass, up to result_max_wait
// past exit, before being declared no_result.
func (w *watcher) pass() {
	n := w.n
	n.mu.Lock()
	snapshot := make(map[string]*runningTask, len(n.runningTasks))
	for id, rt := range n.runningTasks {
		snapshot[id] = rt
	}
	n.mu.Unlock()

	for taskID, rt := range snapshot {
		select {
		case <-rt.done:
		default:
			continue // still running
		}

		blob, ok := n.collectResult(rt)
		if !ok && rt.transport == "events" {
			rt.mu.Lock()
			stale := time.Since(rt.exitedAt) >= n.cfg.ResultMaxWait
			rt.mu.Unlock()
			if !stale {
				continue // give the result event more time to arrive
			}
		}
		w.reap(taskID, rt, blob, ok)
	}
}

func (w *watcher) reap(taskID string, rt *runningTask, blob []byte, haveResult bool) {
	n := w.n

	var result *task.Result
	outcome := "no_result"
	switch {
	case haveResult:
		r, err := task.Unpack(blob)
		if err != nil {
			// A malformed payload is treated as no result at all.
			n.log.Warn().Err(err).Str("task_id", taskID).Msg("malformed result payload")
		} else {
			result = r
			if r.IsRaise() {
				outcome = "raise"
			} else {
				outcome = "return"
			}
		}
	default:
		// Child exited (or the transport's wait window expired) without
		// producing a payload. A non-zero exit is not itself a raise: it
		// may just mean kill_on_stop terminated the child before it could
		// write a result. Leave result nil, matching tasknode.py's
		// _announce_task_stopped no-result path.
	}

	n.mu.Lock()
	delete(n.runningTasks, taskID)
	n.signalRunningChangedLocked()
	running := len(n.runningTasks)
	rec, known := n.taskState[taskID]
	if known {
		rec.Status = task.StatusStopped
		rec.Result = result
	} else {
		rec = &task.Record{TaskID: taskID, Runner: n.ident, Status: task.StatusStopped, Result: result}
		n.taskState[taskID] = rec
		n.knownTaskIDs[taskID] = struct{}{}
	}
	n.lastStateUpdate[taskID] = time.Now()
	n.mu.Unlock()

	metrics.RecordTaskStopped(rt.name, outcome)
	metrics.SetTasksRunning(n.cfg.Pool, float64(running))

	ctx := context.Background()
	n.announceSelf(ctx, "")
	n.emitStateAnnounce(ctx, rec, "")
	n.emitStatusChange(ctx, taskID, task.StatusStopped)
	n.getLatch(taskID).Set()

	n.log.Info().Str("task_id", taskID).Str("outcome", outcome).Dur("duration", time.Since(rt.startedAt)).Msg("task stopped")
}
