package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Job metrics
	JobsTotal          *prometheus.CounterVec
	JobDuration        *prometheus.HistogramVec
	JobQueueDepth      prometheus.Gauge
	ActiveJobs         prometheus.Gauge
	JobsProcessedTotal *prometheus.CounterVec

	// FFmpeg pass metrics
	FFmpegOperationsTotal *prometheus.CounterVec
	FFmpegOperationErrors *prometheus.CounterVec
	FFmpegProcessingTime  *prometheus.HistogramVec

	// Size fitting
	LadderAttemptsTotal *prometheus.CounterVec
	OutputBytes         *prometheus.HistogramVec

	// Effects
	EffectsAppliedTotal *prometheus.CounterVec
	EffectsSkippedTotal *prometheus.CounterVec

	// WebSocket metrics
	WebSocketConnections   prometheus.Gauge
	WebSocketMessagesTotal *prometheus.CounterVec

	// Scratch storage
	ScratchDirsRemoved prometheus.Counter
}

// New creates all metrics and registers them with reg.
// A nil reg registers with the default Prometheus registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latencies in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path", "status"},
		),

		// Job metrics
		JobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fx_jobs_total",
				Help: "Total number of jobs by lifecycle status",
			},
			[]string{"status", "type"},
		),
		JobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fx_job_duration_seconds",
				Help:    "Job processing duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
			},
			[]string{"type", "status"},
		),
		JobQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fx_job_queue_depth",
				Help: "Jobs enqueued by this process and not yet started",
			},
		),
		ActiveJobs: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fx_active_jobs",
				Help: "Number of currently processing jobs",
			},
		),
		JobsProcessedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fx_jobs_processed_total",
				Help: "Total number of jobs processed by error code",
			},
			[]string{"code"},
		),

		// FFmpeg metrics
		FFmpegOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ffmpeg_operations_total",
				Help: "Total number of ffmpeg passes",
			},
			[]string{"operation", "status"},
		),
		FFmpegOperationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ffmpeg_operation_errors_total",
				Help: "Total number of failed ffmpeg passes by error type",
			},
			[]string{"operation", "error_type"},
		),
		FFmpegProcessingTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ffmpeg_processing_time_seconds",
				Help:    "ffmpeg pass wall time in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
			},
			[]string{"operation"},
		),

		LadderAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fx_ladder_attempts_total",
				Help: "Size-fitting encode attempts by ladder step and outcome",
			},
			[]string{"step", "outcome"},
		),
		OutputBytes: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fx_output_bytes",
				Help:    "Size of produced outputs in bytes",
				Buckets: prometheus.ExponentialBuckets(64*1024, 2, 12),
			},
			[]string{"container"},
		),

		EffectsAppliedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fx_effects_applied_total",
				Help: "Effects successfully applied by name",
			},
			[]string{"effect"},
		),
		EffectsSkippedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fx_effects_skipped_total",
				Help: "Effects dropped after failed DJ attempts",
			},
			[]string{"effect"},
		),

		// WebSocket metrics
		WebSocketConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "websocket_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WebSocketMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "websocket_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"type"},
		),

		ScratchDirsRemoved: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fx_scratch_dirs_removed_total",
				Help: "Stale scratch directories removed by the sweeper",
			},
		),
	}

	return m
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration, responseSize int64) {
	status := statusCodeToString(statusCode)

	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
	if responseSize > 0 {
		m.HTTPResponseSize.WithLabelValues(method, path, status).Observe(float64(responseSize))
	}
}

// RecordJobCreated records job creation
func (m *Metrics) RecordJobCreated(jobType string) {
	m.JobsTotal.WithLabelValues("created", jobType).Inc()
	m.JobQueueDepth.Inc()
}

// RecordJobStarted records job start
func (m *Metrics) RecordJobStarted(jobType string) {
	m.ActiveJobs.Inc()
	m.JobsTotal.WithLabelValues("started", jobType).Inc()
}

// RecordJobCompleted records job completion. code is the error code, or "OK".
func (m *Metrics) RecordJobCompleted(jobType, code string, duration time.Duration) {
	status := "completed"
	if code != "OK" {
		status = "failed"
	}
	m.ActiveJobs.Dec()
	m.JobDuration.WithLabelValues(jobType, status).Observe(duration.Seconds())
	m.JobsProcessedTotal.WithLabelValues(code).Inc()
	m.JobsTotal.WithLabelValues(status, jobType).Inc()
}

// RecordFFmpegOperation records one ffmpeg pass
func (m *Metrics) RecordFFmpegOperation(operation string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}

	m.FFmpegOperationsTotal.WithLabelValues(operation, status).Inc()
	m.FFmpegProcessingTime.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordFFmpegError records a failed ffmpeg pass
func (m *Metrics) RecordFFmpegError(operation string, errorType string) {
	m.FFmpegOperationErrors.WithLabelValues(operation, errorType).Inc()
}

// RecordLadderAttempt records one size-fitting attempt
func (m *Metrics) RecordLadderAttempt(step, outcome string) {
	m.LadderAttemptsTotal.WithLabelValues(step, outcome).Inc()
}

// RecordOutput records the size of a finished output
func (m *Metrics) RecordOutput(container string, bytes int64) {
	m.OutputBytes.WithLabelValues(container).Observe(float64(bytes))
}

// RecordEffect records an applied or skipped effect
func (m *Metrics) RecordEffect(name string, applied bool) {
	if applied {
		m.EffectsAppliedTotal.WithLabelValues(name).Inc()
		return
	}
	m.EffectsSkippedTotal.WithLabelValues(name).Inc()
}

// RecordWebSocketConnection records WebSocket connection change
func (m *Metrics) RecordWebSocketConnection(connected bool) {
	if connected {
		m.WebSocketConnections.Inc()
	} else {
		m.WebSocketConnections.Dec()
	}
}

// RecordWebSocketMessage records WebSocket message
func (m *Metrics) RecordWebSocketMessage(messageType string) {
	m.WebSocketMessagesTotal.WithLabelValues(messageType).Inc()
}

// RecordScratchSweep records removed scratch directories
func (m *Metrics) RecordScratchSweep(removed int) {
	m.ScratchDirsRemoved.Add(float64(removed))
}

// statusCodeToString converts HTTP status code to category string
func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
