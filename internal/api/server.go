package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nextconvert/fxengine/internal/api/handlers"
	"github.com/nextconvert/fxengine/internal/api/middleware"
	"github.com/nextconvert/fxengine/internal/api/websocket"
	"github.com/nextconvert/fxengine/internal/modules/media"
	"github.com/nextconvert/fxengine/internal/shared/config"
	"github.com/nextconvert/fxengine/internal/shared/database"
	"github.com/nextconvert/fxengine/internal/shared/metrics"
	"github.com/nextconvert/fxengine/internal/shared/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ServerConfig holds dependencies for the API server
type ServerConfig struct {
	Config      *config.Config
	Logger      *zap.Logger
	Redis       *database.Redis // optional; enables rate limiting and readiness checks
	Storage     *storage.Service
	Workspace   *storage.Workspace
	WSHub       *websocket.Hub
	MediaModule *media.Module
	Jobs        handlers.JobService
	Metrics     *metrics.Metrics // optional
	Gatherer    prometheus.Gatherer
}

// Server represents the API server
type Server struct {
	config      *config.Config
	logger      *zap.Logger
	redis       *database.Redis
	storage     *storage.Service
	workspace   *storage.Workspace
	wsHub       *websocket.Hub
	mediaModule *media.Module
	jobs        handlers.JobService
	metrics     *metrics.Metrics
	gatherer    prometheus.Gatherer
}

// NewServer creates a new API server
func NewServer(cfg ServerConfig) *Server {
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		config:      cfg.Config,
		logger:      cfg.Logger,
		redis:       cfg.Redis,
		storage:     cfg.Storage,
		workspace:   cfg.Workspace,
		wsHub:       cfg.WSHub,
		mediaModule: cfg.MediaModule,
		jobs:        cfg.Jobs,
		metrics:     cfg.Metrics,
		gatherer:    cfg.Gatherer,
	}
}

// Router returns the configured HTTP router
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.SecurityHeaders)
	if s.metrics != nil {
		r.Use(middleware.MetricsMiddleware(s.metrics))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS", "HEAD"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	limit := func(c middleware.RateLimitConfig) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler { return next }
	}
	if s.redis != nil {
		rateLimiter := middleware.NewRateLimiter(s.redis.Client, s.logger)
		limit = rateLimiter.Limit
		r.Use(rateLimiter.Limit(middleware.GlobalRateLimit))
	}

	// Create handlers
	healthHandler := handlers.NewHealthHandler(s.readinessChecks())
	effectsHandler := handlers.NewEffectsHandler(s.mediaModule, s.logger)
	mediaHandler := handlers.NewMediaHandler(s.mediaModule, s.storage, s.workspace, s.logger)
	fileHandler := handlers.NewFileHandler(s.storage, s.logger)

	var recorder handlers.JobRecorder
	if s.metrics != nil {
		recorder = s.metrics
	}
	jobHandler := handlers.NewJobHandler(s.jobs, s.mediaModule.Parser, s.config.DefaultCeilingBytes, recorder, s.logger)

	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.Health)
		r.Get("/ready", healthHandler.Ready)

		r.Get("/effects", effectsHandler.ListEffects)
		r.With(middleware.ValidateJSONBody).Post("/filters/parse", effectsHandler.Parse)

		r.Route("/media", func(r chi.Router) {
			r.With(middleware.ValidateJSONBody).Post("/probe", mediaHandler.Probe)
			r.Get("/formats", mediaHandler.GetFormats)
		})

		r.With(
			limit(middleware.UploadRateLimit),
			middleware.ValidateFileUpload(middleware.MediaFileValidation.WithMaxSize(s.config.MaxUploadSize)),
		).Post("/files", fileHandler.Upload)

		r.Route("/jobs", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(limit(middleware.JobCreationRateLimit), middleware.ValidateJSONBody)
				r.Post("/transcode", jobHandler.CreateTranscode)
				r.Post("/grid", jobHandler.CreateGrid)
				r.Post("/dj", jobHandler.CreateDJ)
			})
			r.With(middleware.NoCache).Get("/{id}", jobHandler.GetJob)
		})

		if s.wsHub != nil {
			r.Get("/ws", s.wsHub.HandleConnection)
		}
	})

	return r
}

func (s *Server) readinessChecks() map[string]handlers.Checker {
	checks := map[string]handlers.Checker{
		"ffmpeg": s.mediaModule.CheckBinaries,
	}
	if s.redis != nil {
		checks["redis"] = s.redis.HealthCheck
	}
	return checks
}

// RelayProgress forwards job updates published by workers to the websocket
// hub until ctx is done.
func (s *Server) RelayProgress(ctx context.Context, channel string) error {
	if s.redis == nil || s.wsHub == nil {
		<-ctx.Done()
		return nil
	}
	return s.redis.Listen(ctx, channel, s.wsHub.Dispatch)
}
