package tasknode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"os/exec"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/carrier-io/tasknode/internal/metrics"
	"github.com/carrier-io/tasknode/internal/task"
)

// runningTask is the local-only bookkeeping entry for a task this node
// is currently running as runner: either a genuine child OS process
// (when the bus can hand out an independent connection) or an
// in-process goroutine (when it cannot, e.g. MemoryBus, which has no
// meaning outside the process that created it).
type runningTask struct {
	taskID    string
	name      string
	startedAt time.Time
	transport string

	cmd         *exec.Cmd
	resultPipeR *os.File // set only for the "memory" transport over a real child

	done chan struct{}

	mu            sync.Mutex
	pendingResult []byte
	exitErr       error
	exitedAt      time.Time
}

func (rt *runningTask) setPendingResult(b []byte) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.pendingResult == nil {
		rt.pendingResult = b
	}
}

func (rt *runningTask) takePendingResult() ([]byte, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.pendingResult == nil {
		return nil, false
	}
	return rt.pendingResult, true
}

// stop terminates the child: a SIGTERM-equivalent interrupt normally,
// or an immediate kill when the node is configured to kill on stop.
func (rt *runningTask) stop(kill bool) {
	if rt.cmd == nil || rt.cmd.Process == nil {
		return
	}
	if kill {
		_ = rt.cmd.Process.Kill()
		return
	}
	_ = rt.cmd.Process.Signal(syscall.SIGTERM)
}

// childPayload is the JSON envelope written to a child's stdin.
type childPayload struct {
	TaskID string         `json:"task_id"`
	Name   string         `json:"name"`
	Meta   map[string]any `json:"meta"`
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
}

// executeLocalTask is called once this node has committed, as runner,
// to execute taskID. It spawns a genuine child process when the bus
// can clone an independent connection, and falls back to an
// in-process goroutine otherwise.
func (n *Node) executeLocalTask(ctx context.Context, taskID, name string, meta map[string]any, args []any, kwargs map[string]any) {
	n.mu.Lock()
	handler, ok := n.registry[name]
	n.mu.Unlock()
	if !ok {
		n.failTask(ctx, taskID, fmt.Sprintf("no handler registered for %q on this runner", name))
		return
	}

	rt := &runningTask{taskID: taskID, name: name, startedAt: time.Now(), transport: n.cfg.ResultTransport, done: make(chan struct{})}

	n.mu.Lock()
	n.runningTasks[taskID] = rt
	n.signalRunningChangedLocked()
	running := len(n.runningTasks)
	n.mu.Unlock()

	metrics.SetTasksRunning(n.cfg.Pool, float64(running))
	n.announceSelf(ctx, "")

	if _, err := n.busRef.CloneConfig(); err == nil {
		n.spawnChildProcess(ctx, rt, childPayload{TaskID: taskID, Name: name, Meta: meta, Args: args, Kwargs: kwargs})
		return
	}
	n.runInProcess(ctx, rt, handler, meta, args, kwargs)
}

func (n *Node) spawnChildProcess(ctx context.Context, rt *runningTask, payload childPayload) {
	exe, err := os.Executable()
	if err != nil {
		n.log.Error().Err(err).Str("task_id", rt.taskID).Msg("cannot resolve executable path for child spawn")
		n.failTask(ctx, rt.taskID, err.Error())
		n.finishRunningTaskLocked(rt.taskID)
		return
	}

	cmd := exec.Command(exe, "--tasknode-child")
	cmd.Env = append(os.Environ(),
		"TASKNODE_CHILD_TRANSPORT="+rt.transport,
		"TASKNODE_CHILD_TMP_PATH="+n.cfg.TmpPath,
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		n.failTask(ctx, rt.taskID, err.Error())
		n.finishRunningTaskLocked(rt.taskID)
		return
	}

	var resultR, resultW *os.File
	if rt.transport == "memory" {
		r, w, perr := os.Pipe()
		if perr != nil {
			n.failTask(ctx, rt.taskID, perr.Error())
			n.finishRunningTaskLocked(rt.taskID)
			return
		}
		cmd.ExtraFiles = []*os.File{w}
		resultR, resultW = r, w
		rt.resultPipeR = r
	}

	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		n.failTask(ctx, rt.taskID, err.Error())
		n.finishRunningTaskLocked(rt.taskID)
		return
	}
	rt.cmd = cmd
	if resultW != nil {
		// The child holds its own copy; closing ours lets the reader see EOF.
		resultW.Close()
	}

	body, _ := json.Marshal(payload)
	go func() {
		defer stdin.Close()
		_, _ = stdin.Write(body)
	}()

	resultRead := make(chan struct{})
	if resultR != nil {
		go func() {
			defer close(resultRead)
			blob, _ := io.ReadAll(resultR)
			resultR.Close()
			if len(blob) > 0 {
				rt.setPendingResult(blob)
			}
		}()
	} else {
		close(resultRead)
	}

	go func() {
		waitErr := cmd.Wait()
		<-resultRead
		rt.mu.Lock()
		rt.exitErr = waitErr
		rt.exitedAt = time.Now()
		rt.mu.Unlock()
		close(rt.done)
		n.mu.Lock()
		n.signalRunningChangedLocked()
		n.mu.Unlock()
	}()
}

// runInProcess executes handler directly, without a child OS process,
// for buses (like MemoryBus) that cannot hand an independent
// connection to a separate process.
func (n *Node) runInProcess(ctx context.Context, rt *runningTask, handler Handler, meta map[string]any, args []any, kwargs map[string]any) {
	go func() {
		result := runHandler(ctx, rt.taskID, handler, meta, args, kwargs)
		blob, err := task.Pack(result)
		if err != nil {
			n.log.Error().Err(err).Str("task_id", rt.taskID).Msg("failed to pack in-process result")
		} else {
			n.shipResult(ctx, rt, blob)
		}
		rt.mu.Lock()
		rt.exitedAt = time.Now()
		rt.mu.Unlock()
		close(rt.done)
		n.mu.Lock()
		n.signalRunningChangedLocked()
		n.mu.Unlock()
	}()
}

// runHandler invokes fn with panic recovery, translating either a
// returned error or a recovered panic into a raise-shaped Result. The
// context passed to fn carries taskID, retrievable via
// TaskIDFromContext, so a task body can identify itself the way
// tasknode_task.id does for the source's tasks.
func runHandler(ctx context.Context, taskID string, fn Handler, meta map[string]any, args []any, kwargs map[string]any) *task.Result {
	ctx = withTaskID(ctx, taskID)
	meta = maps.Clone(meta)
	var result *task.Result
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				result = task.NewRaise(fmt.Sprintf("panic: %v\n%s", rec, debug.Stack()))
			}
		}()
		value, err := fn(ctx, meta, args, kwargs)
		if err != nil {
			result = task.NewRaise(err.Error())
			return
		}
		r, merr := task.NewReturn(value)
		if merr != nil {
			result = task.NewRaise(fmt.Sprintf("failed to marshal return value: %v", merr))
			return
		}
		result = r
	}()
	return result
}

// shipResult delivers a packed result via the configured transport.
// The in-process path calls this directly; a real child ships its own
// result from inside RunChild, running in the child's own process.
func (n *Node) shipResult(ctx context.Context, rt *runningTask, blob []byte) {
	switch rt.transport {
	case "files":
		path := n.cfg.TmpPath + "/" + rt.taskID + ".bin"
		if err := os.WriteFile(path, blob, 0o600); err != nil {
			n.log.Error().Err(err).Str("task_id", rt.taskID).Msg("failed to write result file")
		}
	case "events":
		if err := n.busRef.Emit(ctx, topicResultPayload, map[string]any{
			"task_id": rt.taskID,
			"payload": string(blob),
		}); err != nil {
			metrics.RecordBusEmitError(topicResultPayload)
			n.log.Error().Err(err).Str("task_id", rt.taskID).Msg("failed to emit result payload")
		}
	default: // "memory" with no real child: hand the result straight to the entry
		rt.setPendingResult(blob)
	}
}

// collectResult attempts to retrieve a finished task's packed result
// without blocking; ok is false when nothing is available yet (or
// ever will be, for a "files"/"events" task whose payload never showed
// up).
func (n *Node) collectResult(rt *runningTask) ([]byte, bool) {
	switch rt.transport {
	case "files":
		path := n.cfg.TmpPath + "/" + rt.taskID + ".bin"
		blob, err := os.ReadFile(path)
		if err != nil {
			return nil, false
		}
		_ = os.Remove(path)
		return blob, true
	default:
		return rt.takePendingResult()
	}
}

func (n *Node) failTask(ctx context.Context, taskID, reason string) {
	n.mu.Lock()
	rec, ok := n.taskState[taskID]
	if ok {
		rec.Status = task.StatusStopped
		rec.Result = task.NewRaise(reason)
		n.lastStateUpdate[taskID] = time.Now()
	}
	n.mu.Unlock()
	if !ok {
		return
	}
	n.emitStateAnnounce(ctx, rec, "")
	n.emitStatusChange(ctx, taskID, task.StatusStopped)
	n.getLatch(taskID).Set()
}

// finishRunningTaskLocked removes a running-task entry that failed
// before ever producing a child/goroutine for the watcher to reap.
func (n *Node) finishRunningTaskLocked(taskID string) {
	n.mu.Lock()
	delete(n.runningTasks, taskID)
	n.signalRunningChangedLocked()
	running := len(n.runningTasks)
	n.mu.Unlock()
	metrics.SetTasksRunning(n.cfg.Pool, float64(running))
}
