// Heron - Explainable transaction risk scoring for AML teams.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/heron/internal/api"
	"github.com/opensource-finance/heron/internal/app"
	"github.com/opensource-finance/heron/internal/config"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/metrics"
	"github.com/opensource-finance/heron/internal/tracing"
	"github.com/opensource-finance/heron/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel, err := config.ParseLevel(cfg.LoggingLevel)
	if err != nil {
		slog.Warn("falling back to INFO logging", "error", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting heron",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	slog.Info("configuration loaded",
		"env", cfg.Env,
		"tier", cfg.Tier,
		"model_path", cfg.ModelPath,
		"log_path", cfg.LogPath,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, Version, logger)
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	heron, err := app.Open(cfg, app.WithServices(), app.WithLogger(logger))
	if err != nil {
		slog.Error("failed to initialize pipeline", "error", err)
		os.Exit(1)
	}
	defer heron.Close()
	slog.Info("pipeline initialized", "policies", heron.Policies.Count())

	// A missing bundle is not fatal: /explain reports it until training runs.
	if bundle, err := heron.Scorer.Bundle(); err != nil {
		slog.Warn("model bundle not available", "path", cfg.ModelPath, "error", err)
	} else {
		metrics.ModelThreshold.Set(bundle.Threshold)
		slog.Info("model bundle loaded",
			"features", len(bundle.Features),
			"threshold", bundle.Threshold,
			"training_data_version", bundle.TrainingDataVersion,
		)
	}

	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("HERON_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(heron.Bus, heron.Analyzer)

		workerCfg := worker.Config{
			Topic:       domain.TopicTransactionIngested,
			Concurrency: 5,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		} else {
			slog.Info("async worker started", "topic", workerCfg.Topic)
		}
	}

	srv := api.NewServer(cfg.Server, heron.Analyzer, heron.Repo, heron.Cache, heron.Bus, Version)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("heron is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop consuming before the server and backends go away
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("failed to flush traces", "error", err)
	}

	slog.Info("heron shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  +-------------------------------------------+")
	fmt.Println("  |                  HERON                    |")
	fmt.Println("  |   Explainable transaction risk scoring    |")
	fmt.Println("  +-------------------------------------------+")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /explain       - Score and explain a transaction")
	fmt.Println("    POST /feedback      - Record an analyst verdict")
	fmt.Println("    GET  /model         - Model bundle metadata")
	fmt.Println("    GET  /events        - Query the audit mirror")
	fmt.Println("    GET  /events/{id}   - Get one audit event")
	fmt.Println("    GET  /health        - Liveness")
	fmt.Println("    GET  /ready         - Backend readiness")
	fmt.Println("    GET  /metrics       - Prometheus metrics")
	fmt.Println()
}
