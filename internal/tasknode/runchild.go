package tasknode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/carrier-io/tasknode/internal/task"
)

// RunChild is the entry point a re-exec'd child process calls instead
// of Start. n must already carry the same task registrations as the
// parent (cmd/node wires both paths through the same registration
// code) and an independently-dialed bus connection of its own. The
// task envelope arrives as JSON on stdin; the result is shipped through
// whichever transport the parent selected, communicated via
// TASKNODE_CHILD_TRANSPORT / TASKNODE_CHILD_TMP_PATH.
func RunChild(ctx context.Context, n *Node) error {
	if n.cfg.MultiprocessingContext == "fork" {
		installForkSigtermHandler()
	}

	body, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("tasknode: reading child payload: %w", err)
	}
	var payload childPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("tasknode: decoding child payload: %w", err)
	}

	n.mu.Lock()
	handler, ok := n.registry[payload.Name]
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: no handler registered for %q in child process", ErrInvalidArgument, payload.Name)
	}

	transport := os.Getenv("TASKNODE_CHILD_TRANSPORT")
	if transport == "" {
		transport = n.cfg.ResultTransport
	}
	tmpPath := os.Getenv("TASKNODE_CHILD_TMP_PATH")
	if tmpPath == "" {
		tmpPath = n.cfg.TmpPath
	}

	result := runHandler(ctx, payload.TaskID, handler, payload.Meta, payload.Args, payload.Kwargs)
	blob, err := task.Pack(result)
	if err != nil {
		return fmt.Errorf("tasknode: packing child result: %w", err)
	}

	switch transport {
	case "files":
		path := tmpPath + "/" + payload.TaskID + ".bin"
		return os.WriteFile(path, blob, 0o600)
	case "memory":
		// fd 3 is the parent's result pipe, set up as ExtraFiles[0].
		pipe := os.NewFile(3, "tasknode-result-pipe")
		if pipe == nil {
			return fmt.Errorf("tasknode: memory transport requested but no result pipe is open")
		}
		defer pipe.Close()
		_, err := pipe.Write(blob)
		return err
	case "events":
		if n.busRef == nil {
			return fmt.Errorf("tasknode: events transport requested but child has no bus connection")
		}
		if !n.busRef.Started() {
			if err := n.busRef.Start(ctx); err != nil {
				return fmt.Errorf("tasknode: starting child bus: %w", err)
			}
		}
		return n.busRef.Emit(ctx, topicResultPayload, map[string]any{
			"task_id": payload.TaskID,
			"payload": string(blob),
		})
	default:
		return fmt.Errorf("%w: unknown result transport %q", ErrInvalidArgument, transport)
	}
}

// installForkSigtermHandler installs the fast-exit SIGTERM handler the
// "fork" multiprocessing context calls for: since os/exec always execs a
// fresh process image regardless of context, "fork" differs from
// "spawn" only in this one pre-registration-lookup signal handler,
// preserved for config-surface compatibility with the source's two
// contexts rather than for any behavioral need of its own.
func installForkSigtermHandler() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM)
	go func() {
		<-sigCh
		os.Exit(143) // 128 + SIGTERM, matching the shell's own convention
	}()
}
