package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Zikki-Qing/tabmend/internal/async"
	"github.com/Zikki-Qing/tabmend/internal/blob"
	"github.com/Zikki-Qing/tabmend/internal/common"
	"github.com/Zikki-Qing/tabmend/internal/jobs"
	"github.com/Zikki-Qing/tabmend/internal/repository"
	"github.com/Zikki-Qing/tabmend/internal/result"
	"github.com/Zikki-Qing/tabmend/internal/server"
	"github.com/Zikki-Qing/tabmend/internal/tabular"
	"github.com/Zikki-Qing/tabmend/internal/telemetry"
	"github.com/Zikki-Qing/tabmend/internal/transform"
)

func main() {
	configPath := flag.String("config", os.Getenv("TABMEND_CONFIG"), "path to YAML config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repository.Open(ctx, cfg.Storage.DBPath, logger)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.Storage.DBPath, "error", err)
		os.Exit(1)
	}
	defer repository.Close(db, logger)

	blobs, err := blob.NewFSStore(cfg.Storage.BlobDir, logger)
	if err != nil {
		logger.Error("failed to open blob store", "dir", cfg.Storage.BlobDir, "error", err)
		os.Exit(1)
	}

	jobRepo := repository.NewJobRepository(db, logger)
	logRepo := repository.NewLogRepository(db, logger)

	loader := tabular.NewLoader(logger)
	writer := tabular.NewWriter(logger)
	executor := transform.NewExecutor(logger)
	results := result.NewService(blobs, writer, logger)

	// The handler closes over proc so the queue and processor can reference
	// each other; proc is assigned before anything is enqueued.
	var proc *jobs.Processor
	queue := async.NewWorkerQueue(
		func(ctx context.Context, msg async.Message) error { return proc.Process(ctx, msg) },
		logger,
		async.WithWorkers(cfg.Worker.Count),
		async.WithQueueSize(cfg.Worker.QueueSize),
		async.WithProcessTimeout(cfg.Worker.ProcessTimeout),
	)
	proc = jobs.NewProcessor(jobRepo, logRepo, blobs, loader, executor, results, queue, jobs.ProcessorConfig{
		LeaseTTL:          cfg.Worker.LeaseTTL,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		MaxAttempts:       cfg.Worker.MaxAttempts,
		RetryDelay:        cfg.Worker.RetryDelay,
	}, logger)

	svc := jobs.NewService(jobRepo, logRepo, blobs, loader, results, queue, logger)

	// Work that survived a restart goes back on the queue before we accept
	// new submissions.
	if err := svc.Recover(ctx, cfg.Worker.LeaseTTL); err != nil {
		logger.Error("recovery failed", "error", err)
		os.Exit(1)
	}

	go cleanupLoop(ctx, jobRepo, cfg.Cleanup.Interval, cfg.Cleanup.Retention, logger)

	telemetry.Expose(cfg.Server.MetricsAddr)

	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           server.NewServer(svc, int(cfg.Server.MaxUploadMB), logger).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("tabmendd listening", "addr", cfg.Server.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}
	queue.Shutdown(shutdownCtx)
}

// cleanupLoop purges terminal-failed jobs past the retention window.
func cleanupLoop(ctx context.Context, repo repository.JobRepository, interval, retention time.Duration, logger *slog.Logger) {
	if interval <= 0 || retention <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := repo.PurgeFailedBefore(ctx, time.Now().UTC().Add(-retention))
			if err != nil {
				logger.Warn("cleanup pass failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("purged failed jobs", "count", n)
			}
		}
	}
}
