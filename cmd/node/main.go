// Command node runs a single task-node fleet member. It can operate in
// two modes: the normal parent mode (discovers peers, runs elections,
// spawns child processes for the tasks it wins) and a hidden child mode
// entered via --tasknode-child, used when a parent re-execs this same
// binary to run one task in isolation.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carrier-io/tasknode/internal/bus"
	"github.com/carrier-io/tasknode/internal/config"
	"github.com/carrier-io/tasknode/internal/logger"
	"github.com/carrier-io/tasknode/internal/tasknode"
)

func main() {
	childMode := flag.Bool("tasknode-child", false, "run as a re-exec'd child executing a single task")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, os.Getenv("ENV") != "production")
	log := logger.Get()

	n, busRef, err := buildNode(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build task node")
	}
	registerHandlers(n)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *childMode {
		if err := busRef.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("child: failed to start bus connection")
		}
		defer busRef.Stop()
		if err := tasknode.RunChild(ctx, n); err != nil {
			log.Fatal().Err(err).Msg("child task execution failed")
			os.Exit(1)
		}
		return
	}

	log.Info().Str("ident", n.Ident()).Str("pool", n.Pool()).Msg("starting task node")

	go func() {
		if err := n.Start(ctx, true); err != nil {
			log.Error().Err(err).Msg("task node stopped with error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down task node...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Node.StopNodeTaskWait+5*time.Second)
	defer stopCancel()

	if err := n.Stop(stopCtx, true); err != nil {
		log.Error().Err(err).Msg("task node shutdown error")
	}

	log.Info().Msg("task node stopped")
}

// registerHandlers installs the sample task bodies this node can run.
// A real deployment would register its own application tasks here
// instead; the point is that child mode and parent mode share the same
// registration code path so a re-exec'd child sees an identical
// registry to the parent that elected it.
func registerHandlers(n *tasknode.Node) {
	_ = n.RegisterTask("echo", echoHandler)
	_ = n.RegisterTask("sleep", sleepHandler)
	_ = n.RegisterTask("compute", computeHandler)
	_ = n.RegisterTask("fail", failHandler)
}

func echoHandler(ctx context.Context, meta map[string]any, args []any, kwargs map[string]any) (any, error) {
	return map[string]any{"args": args, "kwargs": kwargs}, nil
}

func sleepHandler(ctx context.Context, meta map[string]any, args []any, kwargs map[string]any) (any, error) {
	duration := time.Second
	if d, ok := kwargs["duration_ms"].(float64); ok {
		duration = time.Duration(d) * time.Millisecond
	}
	select {
	case <-time.After(duration):
		return map[string]any{"slept_for": duration.String()}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func computeHandler(ctx context.Context, meta map[string]any, args []any, kwargs map[string]any) (any, error) {
	iterations := 1_000_000
	if i, ok := kwargs["iterations"].(float64); ok {
		iterations = int(i)
	}
	sum := 0
	for i := 0; i < iterations; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
			sum += i
		}
	}
	return map[string]any{"result": sum}, nil
}

func failHandler(ctx context.Context, meta map[string]any, args []any, kwargs map[string]any) (any, error) {
	return nil, fmt.Errorf("intentional failure for testing")
}

// buildNode dials the configured bus and constructs a Node around it.
// The child-mode re-exec relies on this producing an independently
// dialed connection every time it's called, mirroring what
// bus.Bus.CloneConfig hands back for a real RedisBus.
func buildNode(cfg *config.Config) (*tasknode.Node, bus.Bus, error) {
	rc := bus.RedisConfig{
		Addr:     cfg.Bus.Addr,
		Password: cfg.Bus.Password,
		DB:       cfg.Bus.DB,
	}
	busRef, err := rc.Dial()
	if err != nil {
		return nil, nil, fmt.Errorf("dialing bus: %w", err)
	}
	n := tasknode.New(cfg.Node, busRef, true)
	return n, busRef, nil
}
