package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/nextconvert/fxengine/internal/modules/effects"
	"github.com/nextconvert/fxengine/internal/modules/jobs"
	"github.com/nextconvert/fxengine/internal/modules/media"
	"go.uber.org/zap"
)

// JobService is the part of *jobs.Module the HTTP layer uses
type JobService interface {
	CreateTranscode(ctx context.Context, payload jobs.TranscodePayload, priority string) (*jobs.Job, error)
	CreateGrid(ctx context.Context, payload jobs.GridPayload, priority string) (*jobs.Job, error)
	CreateDJ(ctx context.Context, payload jobs.DJPayload, priority string) (*jobs.Job, error)
	GetJob(ctx context.Context, jobID string) (*jobs.Job, error)
}

// JobRecorder counts created jobs. *metrics.Metrics implements it.
type JobRecorder interface {
	RecordJobCreated(jobType string)
}

// JobHandler handles job-related endpoints
type JobHandler struct {
	service        JobService
	parser         *effects.Parser
	defaultCeiling int64
	metrics        JobRecorder
	logger         *zap.Logger
}

// NewJobHandler creates a new job handler. defaultCeiling applies to
// transcode requests that do not name one; 0 disables size fitting.
func NewJobHandler(service JobService, parser *effects.Parser, defaultCeiling int64, recorder JobRecorder, logger *zap.Logger) *JobHandler {
	return &JobHandler{
		service:        service,
		parser:         parser,
		defaultCeiling: defaultCeiling,
		metrics:        recorder,
		logger:         logger,
	}
}

// ByteSize accepts either a byte count or a human readable size ("8MB")
type ByteSize int64

func (b *ByteSize) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*b = ByteSize(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("size must be a number or a string")
	}
	parsed, err := humanize.ParseBytes(s)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", s, err)
	}
	*b = ByteSize(parsed)
	return nil
}

// TranscodeRequest represents a transcode job request
type TranscodeRequest struct {
	InputPath       string   `json:"inputPath"`
	OutputName      string   `json:"outputName"`
	Filter          string   `json:"filter"`
	Start           *float64 `json:"start,omitempty"`
	Duration        *float64 `json:"duration,omitempty"`
	Ceiling         ByteSize `json:"ceiling,omitempty"`
	Strict          bool     `json:"strict,omitempty"`
	DeadlineSeconds int      `json:"deadlineSeconds,omitempty"`
	Priority        string   `json:"priority,omitempty"`
}

// GridRequest represents a grid composite request
type GridRequest struct {
	InputPaths     []string `json:"inputPaths"`
	OutputName     string   `json:"outputName"`
	Sync           bool     `json:"sync,omitempty"`
	TargetDuration float64  `json:"targetDuration,omitempty"`
	Priority       string   `json:"priority,omitempty"`
}

// DJRequest represents a DJ composite request
type DJRequest struct {
	VideoPath   string   `json:"videoPath"`
	AudioPath   string   `json:"audioPath"`
	OutputName  string   `json:"outputName"`
	VideoOffset *float64 `json:"videoOffset,omitempty"`
	AudioOffset *float64 `json:"audioOffset,omitempty"`
	EffectCount int      `json:"effectCount,omitempty"`
	MaxAttempts int      `json:"maxAttempts,omitempty"`
	Priority    string   `json:"priority,omitempty"`
}

const maxDJAttempts = 10

// CreateTranscode validates the filter text and queues a transcode job
func (h *JobHandler) CreateTranscode(w http.ResponseWriter, r *http.Request) {
	var req TranscodeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, media.CodeInvalidRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.validateTranscode(req); err != nil {
		writeMediaError(w, err)
		return
	}

	ceiling := int64(req.Ceiling)
	if ceiling == 0 {
		ceiling = h.defaultCeiling
	}

	job, err := h.service.CreateTranscode(r.Context(), jobs.TranscodePayload{
		InputPath:       req.InputPath,
		OutputName:      req.OutputName,
		FilterSpec:      req.Filter,
		Start:           req.Start,
		Duration:        req.Duration,
		CeilingBytes:    ceiling,
		StrictEffects:   req.Strict,
		DeadlineSeconds: req.DeadlineSeconds,
	}, req.Priority)
	h.respondCreated(w, jobs.TypeTranscode, job, err)
}

func (h *JobHandler) validateTranscode(req TranscodeRequest) error {
	if strings.TrimSpace(req.InputPath) == "" {
		return fmt.Errorf("%w: inputPath is required", media.ErrInvalidSource)
	}
	if req.Ceiling < 0 || req.DeadlineSeconds < 0 {
		return fmt.Errorf("%w: ceiling and deadline must not be negative", media.ErrInvalidSource)
	}
	if (req.Start != nil && *req.Start < 0) || (req.Duration != nil && *req.Duration < 0) {
		return fmt.Errorf("%w: clip window must not be negative", effects.ErrInvalidFilterSyntax)
	}
	if strings.TrimSpace(req.Filter) == "" {
		return nil
	}

	_, warnings, err := h.parser.Parse(req.Filter)
	if err != nil {
		return err
	}
	if req.Strict {
		return effects.Strict(warnings)
	}
	return nil
}

// CreateGrid queues a grid composite job
func (h *JobHandler) CreateGrid(w http.ResponseWriter, r *http.Request) {
	var req GridRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, media.CodeInvalidRequest, "invalid request body: "+err.Error())
		return
	}

	if _, err := media.GridTemplate(len(req.InputPaths)); err != nil {
		writeMediaError(w, err)
		return
	}
	for _, p := range req.InputPaths {
		if strings.TrimSpace(p) == "" {
			writeError(w, http.StatusBadRequest, media.CodeInvalidRequest, "input paths must not be empty")
			return
		}
	}
	if req.TargetDuration < 0 {
		writeError(w, http.StatusBadRequest, media.CodeInvalidRequest, "targetDuration must not be negative")
		return
	}

	job, err := h.service.CreateGrid(r.Context(), jobs.GridPayload{
		InputPaths:     req.InputPaths,
		OutputName:     req.OutputName,
		Sync:           req.Sync,
		TargetDuration: req.TargetDuration,
	}, req.Priority)
	h.respondCreated(w, jobs.TypeGrid, job, err)
}

// CreateDJ queues a DJ composite job
func (h *JobHandler) CreateDJ(w http.ResponseWriter, r *http.Request) {
	var req DJRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, media.CodeInvalidRequest, "invalid request body: "+err.Error())
		return
	}

	switch {
	case strings.TrimSpace(req.VideoPath) == "" || strings.TrimSpace(req.AudioPath) == "":
		writeError(w, http.StatusBadRequest, media.CodeInvalidRequest, "videoPath and audioPath are required")
		return
	case (req.VideoOffset != nil && *req.VideoOffset < 0) || (req.AudioOffset != nil && *req.AudioOffset < 0):
		writeError(w, http.StatusBadRequest, media.CodeInvalidRequest, "offsets must not be negative")
		return
	case req.EffectCount < 0 || req.MaxAttempts < 0 || req.MaxAttempts > maxDJAttempts:
		writeError(w, http.StatusBadRequest, media.CodeInvalidRequest, fmt.Sprintf("effectCount must not be negative and maxAttempts must be at most %d", maxDJAttempts))
		return
	}

	job, err := h.service.CreateDJ(r.Context(), jobs.DJPayload{
		VideoPath:   req.VideoPath,
		AudioPath:   req.AudioPath,
		OutputName:  req.OutputName,
		VideoOffset: req.VideoOffset,
		AudioOffset: req.AudioOffset,
		EffectCount: req.EffectCount,
		MaxAttempts: req.MaxAttempts,
	}, req.Priority)
	h.respondCreated(w, jobs.TypeDJ, job, err)
}

func (h *JobHandler) respondCreated(w http.ResponseWriter, jobType string, job *jobs.Job, err error) {
	if err != nil {
		h.logger.Error("Failed to create job", zap.String("type", jobType), zap.Error(err))
		writeError(w, http.StatusInternalServerError, media.CodeInternal, "failed to create job")
		return
	}
	if h.metrics != nil {
		h.metrics.RecordJobCreated(jobType)
	}

	h.logger.Info("Job created",
		zap.String("job_id", job.ID),
		zap.String("type", jobType),
	)
	writeJSON(w, http.StatusCreated, job)
}

// GetJob returns the latest state of a job
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	job, err := h.service.GetJob(r.Context(), jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "JOB_NOT_FOUND", "job not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to load job", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, media.CodeInternal, "failed to load job")
		return
	}

	writeJSON(w, http.StatusOK, job)
}
