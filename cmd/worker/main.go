package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/conversion-sync/internal/app"
	"github.com/ignite/conversion-sync/internal/config"
	"github.com/ignite/conversion-sync/internal/pkg/logger"
	"github.com/ignite/conversion-sync/internal/service/pipeline"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		logger.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}
	logger.Init(cfg.Environment)
	logger.SetLevel(cfg.Level())
	defer logger.Sync()

	if len(cfg.Worker.Targets) == 0 {
		logger.Error("worker has no targets configured")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info("shutting down worker")
		cancel()
	}()

	logger.Info("worker running", "targets", len(cfg.Worker.Targets), "interval", cfg.Worker.Interval().String())
	runAll(ctx, a.Pipeline, cfg.Worker.Targets)

	ticker := time.NewTicker(cfg.Worker.Interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker stopped")
			return
		case <-ticker.C:
			runAll(ctx, a.Pipeline, cfg.Worker.Targets)
		}
	}
}

// runAll syncs each target in turn. A failing target never stops the
// others; a target still running elsewhere is skipped.
func runAll(ctx context.Context, svc *pipeline.Service, targets []config.TargetConfig) {
	for _, t := range targets {
		if ctx.Err() != nil {
			return
		}
		req := t.RunRequest()
		report, err := svc.Run(ctx, req)
		switch {
		case errors.Is(err, pipeline.ErrRunInProgress):
			logger.Info("worker: run already in progress, skipping", "source", req.Source(), "target", req.Identifier())
		case err != nil:
			fields := []interface{}{"source", req.Source(), "target", req.Identifier(), "error", err}
			if report != nil {
				fields = append(fields, "run_id", report.RunID)
			}
			logger.Error("worker: run failed", fields...)
		default:
			logger.Info("worker: run finished",
				"run_id", report.RunID,
				"status", string(report.Status),
				"accepted", report.AcceptedCount,
				"errors", len(report.Errors),
			)
		}
	}
}
