package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/flowgrid/flowgrid/internal/agent"
	"github.com/flowgrid/flowgrid/internal/engine"
	"github.com/flowgrid/flowgrid/internal/expressions"
	"github.com/flowgrid/flowgrid/internal/logging"
	"github.com/flowgrid/flowgrid/internal/scheduler"
	"github.com/flowgrid/flowgrid/internal/service"
	"github.com/flowgrid/flowgrid/internal/store"
	"github.com/flowgrid/flowgrid/internal/streaming"
	"github.com/flowgrid/flowgrid/internal/validation"
	"github.com/flowgrid/flowgrid/pkg/mcp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "flowgrid:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	validator, err := validation.NewWorkflowValidator()
	if err != nil {
		return fmt.Errorf("build validator: %w", err)
	}

	registry, err := expressions.NewRegistry()
	if err != nil {
		return fmt.Errorf("build expression registry: %w", err)
	}

	hub := streaming.NewMemoryHub()
	client := agent.NewClient(cfg.OllamaURL)

	executor := engine.NewExecutor(st, hub, client, registry, logger, engine.Config{
		Workers:      cfg.Workers,
		AgentTimeout: time.Duration(cfg.AgentTimeout) * time.Second,
	})
	defer executor.Shutdown()

	svc := service.New(st, validator, executor, hub, client, logger)

	var sched *scheduler.Scheduler
	if cfg.Scheduler {
		sched = scheduler.NewScheduler(st, svc, logger)
		if err := sched.RecoverMissed(ctx); err != nil {
			logger.Warn("missed run recovery failed", slog.String("error", err.Error()))
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer func() { _ = sched.Stop() }()
	}

	srv := mcp.NewFlowgridServer(mcp.FlowgridServerDeps{
		Service:   svc,
		Scheduler: sched,
		Logger:    logger,
	})

	logger.Info("flowgrid ready", slog.String("db", cfg.DBPath), slog.String("ollama", cfg.OllamaURL))
	return srv.Serve(ctx)
}

// newLogger builds the process logger. Logs go to stderr; stdout carries the
// MCP stdio transport.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
