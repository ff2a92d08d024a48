// Command admin runs the read-only HTTP/WebSocket observability surface
// for a task-node fleet: pool and task introspection, health, metrics,
// and a live feed of task status changes. It joins the fleet as a node
// of its own (so it observes the same replicated state every other
// member does) but never registers any task handlers, so it is never
// elected to run one.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carrier-io/tasknode/internal/api"
	"github.com/carrier-io/tasknode/internal/bus"
	"github.com/carrier-io/tasknode/internal/config"
	"github.com/carrier-io/tasknode/internal/logger"
	"github.com/carrier-io/tasknode/internal/tasknode"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, os.Getenv("ENV") != "production")
	log := logger.Get()

	rc := bus.RedisConfig{
		Addr:     cfg.Bus.Addr,
		Password: cfg.Bus.Password,
		DB:       cfg.Bus.DB,
	}
	busIface, err := rc.Dial()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to dial bus")
	}

	nodeCfg := cfg.Node
	nodeCfg.IdentPrefix = "tasknode-admin-"
	n := tasknode.New(nodeCfg, busIface, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := n.Start(ctx, true); err != nil {
			log.Error().Err(err).Msg("observer node stopped with error")
		}
	}()

	server := api.NewServer(cfg, n)
	server.Start()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("admin server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("admin server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down admin server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("admin server shutdown error")
	}
	server.Stop()

	if err := n.Stop(shutdownCtx, true); err != nil {
		log.Error().Err(err).Msg("observer node shutdown error")
	}

	log.Info().Msg("admin server stopped")
}
