package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/nextconvert/fxengine/internal/modules/jobs"
	"github.com/nextconvert/fxengine/internal/modules/media"
	"github.com/nextconvert/fxengine/internal/shared/config"
	"github.com/nextconvert/fxengine/internal/shared/database"
	"github.com/nextconvert/fxengine/internal/shared/logging"
	"github.com/nextconvert/fxengine/internal/shared/metrics"
	"github.com/nextconvert/fxengine/internal/shared/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := logging.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting fxengine worker",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("environment", cfg.Environment),
	)

	// Initialize Redis
	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	// Initialize storage
	storageService, err := storage.NewService(cfg.Storage)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	workspace, err := storage.NewWorkspace(cfg.ScratchDir)
	if err != nil {
		logger.Fatal("Failed to initialize scratch workspace", zap.Error(err))
	}

	m := metrics.New(nil)

	mediaModule := media.NewModule(media.ConfigFrom(cfg, m), workspace, logger)
	if err := mediaModule.CheckBinaries(context.Background()); err != nil {
		logger.Fatal("Media binaries unavailable", zap.Error(err))
	}

	// Create job handler
	jobHandler := jobs.NewHandler(jobs.HandlerConfig{
		Jobs:          jobs.NewModule(redisClient, nil, logger),
		Media:         mediaModule,
		Storage:       storageService,
		Workspace:     workspace,
		Metrics:       m,
		ScratchMaxAge: cfg.ScratchMaxAge,
		Logger:        logger,
	})

	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisURL}

	// Configure Asynq server
	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.WorkerConcurrency,
			Queues:      jobs.Queues(),
			IsFailure: func(err error) bool {
				// SkipRetry marks classified media failures
				return !jobs.IsFinal(err)
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task failed",
					zap.String("type", task.Type()),
					zap.Bool("final", jobs.IsFinal(err)),
					zap.Error(err),
				)
			}),
		},
	)

	// Register task handlers
	mux := asynq.NewServeMux()
	jobHandler.Register(mux)

	// Periodic scratch sweep
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Location: time.UTC})
	entryID, err := jobs.RegisterSchedules(scheduler, cfg.ScratchMaxAge)
	if err != nil {
		logger.Fatal("Failed to register schedules", zap.Error(err))
	}
	logger.Info("Scratch sweep scheduled", zap.String("entry_id", entryID), zap.Duration("max_age", cfg.ScratchMaxAge))

	// Start worker
	go func() {
		logger.Info("Worker started", zap.Int("concurrency", cfg.WorkerConcurrency))
		if err := srv.Run(mux); err != nil {
			logger.Fatal("Worker failed", zap.Error(err))
		}
	}()

	go func() {
		if err := scheduler.Run(); err != nil {
			logger.Error("Scheduler stopped", zap.Error(err))
		}
	}()

	var metricsServer *http.Server
	if cfg.WorkerMetricsPort > 0 {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.WorkerMetricsPort),
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics listener failed", zap.Error(err))
			}
		}()
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	scheduler.Shutdown()
	srv.Shutdown()
	if metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsServer.Shutdown(ctx)
	}
	logger.Info("Worker stopped")
}
