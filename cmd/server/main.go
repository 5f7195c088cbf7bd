package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nextconvert/fxengine/internal/api"
	"github.com/nextconvert/fxengine/internal/api/websocket"
	"github.com/nextconvert/fxengine/internal/modules/jobs"
	"github.com/nextconvert/fxengine/internal/modules/media"
	"github.com/nextconvert/fxengine/internal/shared/config"
	"github.com/nextconvert/fxengine/internal/shared/database"
	"github.com/nextconvert/fxengine/internal/shared/logging"
	"github.com/nextconvert/fxengine/internal/shared/metrics"
	"github.com/nextconvert/fxengine/internal/shared/storage"
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

	logger.Info("Starting fxengine API server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("environment", cfg.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	// Initialize modules
	mediaModule := media.NewModule(media.ConfigFrom(cfg, m), workspace, logger)
	if err := mediaModule.CheckBinaries(ctx); err != nil {
		// probing needs ffprobe; job creation does not
		logger.Warn("Media binaries unavailable", zap.Error(err))
	}

	jobQueue := jobs.NewQueueClient(cfg.RedisURL, logger)
	defer jobQueue.Close()
	jobsModule := jobs.NewModule(redisClient, jobQueue, logger)

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(cfg.AllowedOrigins, m, logger)
	go wsHub.Run(ctx)

	// Create API server
	server := api.NewServer(api.ServerConfig{
		Config:      cfg,
		Logger:      logger,
		Redis:       redisClient,
		Storage:     storageService,
		Workspace:   workspace,
		WSHub:       wsHub,
		MediaModule: mediaModule,
		Jobs:        jobsModule,
		Metrics:     m,
	})

	go func() {
		if err := server.RelayProgress(ctx, jobs.ProgressChannel); err != nil {
			logger.Error("Progress relay stopped", zap.Error(err))
		}
	}()

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      server.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("API server listening", zap.Int("port", cfg.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}
