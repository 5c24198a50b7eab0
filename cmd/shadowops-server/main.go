// Package main provides the HTTP server for Shadow Ops.
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

	"github.com/raphaelgruber/shadowops/internal/agent"
	"github.com/raphaelgruber/shadowops/internal/api"
	"github.com/raphaelgruber/shadowops/internal/config"
	"github.com/raphaelgruber/shadowops/internal/inference"
	"github.com/raphaelgruber/shadowops/internal/llm"
	"github.com/raphaelgruber/shadowops/internal/metrics"
	"github.com/raphaelgruber/shadowops/internal/server"
	"github.com/raphaelgruber/shadowops/internal/service"
	"github.com/raphaelgruber/shadowops/internal/storage"
	"github.com/raphaelgruber/shadowops/internal/telemetry"
)

// version is set at build time.
var version = "0.1.0"

// runDrainTimeout bounds how long shutdown waits for background runs.
const runDrainTimeout = time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = closeLog() }()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.TracesExporter, version, os.Stderr, logger)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	collector := metrics.NewCollector()

	var model llm.Model
	if cfg.NovaMode == config.ModeReal {
		model, err = llm.NewModel(ctx, cfg, collector, logger)
		if err != nil {
			return fmt.Errorf("create model: %w", err)
		}
		logger.Info("inference model ready", "provider", cfg.LLMProvider, "model", model.Name())
	}

	store := storage.NewStore(cfg.DataDir)
	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		return err
	}

	inf := inference.NewService(cfg.NovaMode, model, collector, logger)
	workflows := service.NewWorkflowService(store, inf, logger)

	var runs *service.RunManager
	if cfg.ActMode == config.ModeReal {
		launch := agent.RodLauncher(agent.RodOptions{
			Headless: cfg.ActHeadless,
			Bin:      cfg.ActBrowserBin,
		})
		runner := agent.NewBrowserRunner(launch, agent.BrowserConfig{
			StartURL:    cfg.ActStartURL,
			StepTimeout: cfg.ActStepTimeout,
			Receipts:    blobs,
		}, collector, logger)
		runs = service.NewRunManager(store, runner, collector, logger)
	}

	agents := service.NewAgentService(service.AgentServiceConfig{
		Store:     store,
		Workflows: workflows,
		Runs:      runs,
		Mock:      agent.NewMockRunner(logger),
		ActMode:   cfg.ActMode,
		Collector: collector,
		Logger:    logger,
	})

	router := api.NewRouter(api.Deps{
		Capture:   service.NewCaptureService(store, blobs, inf, logger),
		Workflows: workflows,
		Agents:    agents,
		Collector: collector,
		Limiter:   server.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		Config:    cfg,
		Version:   version,
		Logger:    logger,
	})

	logger.Info("starting shadowops-server",
		"addr", cfg.Addr(),
		"version", version,
		"mode", cfg.NovaMode,
		"act_mode", cfg.ActMode,
		"data_dir", cfg.DataDir,
		"receipt_store", cfg.ReceiptStore)

	if err := server.New(cfg.Addr(), router, logger).Run(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	if runs != nil {
		logger.Info("waiting for in-flight runs")
		drainCtx, cancel := context.WithTimeout(context.Background(), runDrainTimeout)
		defer cancel()
		if err := runs.Wait(drainCtx); err != nil {
			logger.Warn("runs still in flight at exit", "error", err)
		}
	}

	logger.Info("server stopped")
	return nil
}

func newBlobStore(ctx context.Context, cfg config.Config) (storage.BlobStore, error) {
	if cfg.ReceiptStore == config.ReceiptStoreS3 {
		blobs, err := storage.NewS3BlobStore(ctx, storage.S3Config{
			Bucket:   cfg.ReceiptBucket,
			Region:   cfg.AWSRegion,
			Endpoint: cfg.S3Endpoint,
			Prefix:   cfg.ReceiptPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("create s3 receipt store: %w", err)
		}
		return blobs, nil
	}

	blobs, err := storage.NewFileBlobStore(filepath.Join(cfg.DataDir, "receipts"))
	if err != nil {
		return nil, fmt.Errorf("create receipt store: %w", err)
	}
	return blobs, nil
}
