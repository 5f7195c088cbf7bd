package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/nextconvert/fxengine/internal/modules/effects"
	"github.com/nextconvert/fxengine/internal/modules/media"
	"github.com/nextconvert/fxengine/internal/shared/storage"
	"go.uber.org/zap"
)

// Recorder receives job measurements. *metrics.Metrics implements it.
type Recorder interface {
	RecordJobStarted(jobType string)
	RecordJobCompleted(jobType, code string, duration time.Duration)
	RecordOutput(container string, bytes int64)
	RecordScratchSweep(removed int)
}

type nopRecorder struct{}

func (nopRecorder) RecordJobStarted(string)                          {}
func (nopRecorder) RecordJobCompleted(string, string, time.Duration) {}
func (nopRecorder) RecordOutput(string, int64)                       {}
func (nopRecorder) RecordScratchSweep(int)                           {}

// HandlerConfig contains dependencies for the job handler
type HandlerConfig struct {
	Jobs          *Module
	Media         *media.Module
	Storage       *storage.Service
	Workspace     *storage.Workspace
	Metrics       Recorder
	ScratchMaxAge time.Duration
	Logger        *zap.Logger
}

// Handler handles job task execution
type Handler struct {
	jobs          *Module
	media         *media.Module
	storage       *storage.Service
	workspace     *storage.Workspace
	metrics       Recorder
	scratchMaxAge time.Duration
	logger        *zap.Logger
}

// NewHandler creates a new job handler
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Metrics == nil {
		cfg.Metrics = nopRecorder{}
	}
	if cfg.ScratchMaxAge <= 0 {
		cfg.ScratchMaxAge = time.Hour
	}
	return &Handler{
		jobs:          cfg.Jobs,
		media:         cfg.Media,
		storage:       cfg.Storage,
		workspace:     cfg.Workspace,
		metrics:       cfg.Metrics,
		scratchMaxAge: cfg.ScratchMaxAge,
		logger:        cfg.Logger,
	}
}

// Register installs every task handler on mux
func (h *Handler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeTranscode, h.HandleTranscode)
	mux.HandleFunc(TypeGrid, h.HandleGrid)
	mux.HandleFunc(TypeDJ, h.HandleDJ)
	mux.HandleFunc(TypeScratchSweep, h.HandleScratchSweep)
}

// OutputResult is stored as the result of transcode and grid jobs
type OutputResult struct {
	Output   *storage.FileInfo `json:"output"`
	Attempt  string            `json:"attempt,omitempty"`
	Effects  []string          `json:"effects,omitempty"`
	Duration float64           `json:"inputDuration,omitempty"`
}

// DJOutputResult is stored as the result of DJ jobs
type DJOutputResult struct {
	Output *storage.FileInfo `json:"output"`
	*media.DJResult
}

// HandleTranscode handles transcode tasks
func (h *Handler) HandleTranscode(ctx context.Context, task *asynq.Task) error {
	var payload TranscodePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	return h.run(ctx, TypeTranscode, payload.JobID, func(scratch *storage.Scratch, progress media.ProgressFunc) (interface{}, []string, error) {
		input, err := h.fetch(ctx, payload.InputPath, scratch.Dir)
		if err != nil {
			return nil, nil, err
		}

		opts := media.TranscodeOptions{
			FilterSpecText: payload.FilterSpec,
			CeilingBytes:   payload.CeilingBytes,
			StrictEffects:  payload.StrictEffects,
			Deadline:       time.Duration(payload.DeadlineSeconds) * time.Second,
			OnProgress:     progress,
		}
		if payload.Start != nil || payload.Duration != nil {
			opts.Clip = &effects.ClipWindow{}
			if payload.Start != nil {
				opts.Clip.Start = *payload.Start
			}
			if payload.Duration != nil {
				opts.Clip.Duration = *payload.Duration
			}
		}

		result, err := h.media.Transcoder.Transcode(ctx, input, scratch.Path(outputName(payload.OutputName)), opts)
		if err != nil {
			return nil, nil, err
		}

		info, err := h.publish(ctx, result.Path)
		if err != nil {
			return nil, nil, err
		}

		out := &OutputResult{Output: info, Effects: result.Spec.Names(), Duration: result.Asset.Duration}
		if result.Fit != nil {
			out.Attempt = result.Fit.Attempt.String()
		}
		warnings := make([]string, len(result.Warnings))
		for i, w := range result.Warnings {
			warnings[i] = w.Error()
		}
		return out, warnings, nil
	})
}

// HandleGrid handles grid composite tasks
func (h *Handler) HandleGrid(ctx context.Context, task *asynq.Task) error {
	var payload GridPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	return h.run(ctx, TypeGrid, payload.JobID, func(scratch *storage.Scratch, progress media.ProgressFunc) (interface{}, []string, error) {
		inputs := make([]string, len(payload.InputPaths))
		for i, path := range payload.InputPaths {
			local, err := h.fetch(ctx, path, scratch.Dir)
			if err != nil {
				return nil, nil, err
			}
			inputs[i] = local
		}

		out, err := h.media.Compositor.Grid(ctx, inputs, scratch.Path(outputName(payload.OutputName)), media.GridOptions{
			Sync:           payload.Sync,
			TargetDuration: payload.TargetDuration,
			OnProgress:     progress,
		})
		if err != nil {
			return nil, nil, err
		}

		info, err := h.publish(ctx, out)
		if err != nil {
			return nil, nil, err
		}
		return &OutputResult{Output: info}, nil, nil
	})
}

// HandleDJ handles DJ composite tasks. A skipped effect step still completes
// the job; the skip is reported in the result and as a warning.
func (h *Handler) HandleDJ(ctx context.Context, task *asynq.Task) error {
	var payload DJPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	return h.run(ctx, TypeDJ, payload.JobID, func(scratch *storage.Scratch, progress media.ProgressFunc) (interface{}, []string, error) {
		video, err := h.fetch(ctx, payload.VideoPath, scratch.Dir)
		if err != nil {
			return nil, nil, err
		}
		audio, err := h.fetch(ctx, payload.AudioPath, scratch.Dir)
		if err != nil {
			return nil, nil, err
		}

		result, err := h.media.Compositor.DJ(ctx, video, audio, scratch.Path(outputName(payload.OutputName)), media.DJOptions{
			MuxOptions: media.MuxOptions{
				VideoOffset: payload.VideoOffset,
				AudioOffset: payload.AudioOffset,
				OnProgress:  progress,
			},
			EffectCount: payload.EffectCount,
			MaxAttempts: payload.MaxAttempts,
		})
		if err != nil {
			return nil, nil, err
		}

		info, err := h.publish(ctx, result.Path)
		if err != nil {
			return nil, nil, err
		}

		var warnings []string
		if result.Skipped {
			warnings = append(warnings, fmt.Sprintf("%s step skipped after %d attempts", result.SkippedStep, result.Attempts))
		}
		return &DJOutputResult{Output: info, DJResult: result}, warnings, nil
	})
}

// HandleScratchSweep removes scratch directories left behind by crashed jobs
func (h *Handler) HandleScratchSweep(ctx context.Context, task *asynq.Task) error {
	maxAge := h.scratchMaxAge
	var payload SweepPayload
	if err := json.Unmarshal(task.Payload(), &payload); err == nil && payload.MaxAgeMinutes > 0 {
		maxAge = time.Duration(payload.MaxAgeMinutes) * time.Minute
	}

	removed, err := h.workspace.Sweep(maxAge)
	h.metrics.RecordScratchSweep(removed)
	if err != nil {
		h.logger.Error("Scratch sweep failed", zap.Int("removed", removed), zap.Error(err))
		return err
	}

	h.logger.Info("Scratch sweep finished",
		zap.Int("removed", removed),
		zap.Duration("max_age", maxAge),
	)
	return nil
}

type jobFunc func(scratch *storage.Scratch, progress media.ProgressFunc) (result interface{}, warnings []string, err error)

// run wraps one job with state updates, metrics and scratch cleanup. Errors
// with a taxonomy code are final; anything else is left to asynq to retry.
func (h *Handler) run(ctx context.Context, taskType, jobID string, fn jobFunc) error {
	started := time.Now()
	log := h.logger.With(zap.String("job_id", jobID), zap.String("type", taskType))
	log.Info("Processing job")

	h.metrics.RecordJobStarted(taskType)
	if err := h.jobs.StartJob(ctx, jobID, taskType); err != nil {
		log.Warn("Failed to mark job started", zap.Error(err))
	}

	scratch, err := h.workspace.Acquire("job")
	if err != nil {
		return err
	}
	defer scratch.Release()

	result, warnings, err := fn(scratch, h.progress(ctx, jobID, taskType))
	code := media.Code(err)
	h.metrics.RecordJobCompleted(taskType, code, time.Since(started))

	if err != nil {
		log.Error("Job failed", zap.String("code", code), zap.Error(err))
		if ferr := h.jobs.FailJob(ctx, jobID, taskType, code, err); ferr != nil {
			log.Warn("Failed to mark job failed", zap.Error(ferr))
		}
		if code == media.CodeInternal {
			return err
		}
		return fmt.Errorf("%s: %v: %w", code, err, asynq.SkipRetry)
	}

	if err := h.jobs.CompleteJob(ctx, jobID, taskType, result, warnings); err != nil {
		return err
	}
	log.Info("Job completed",
		zap.Duration("elapsed", time.Since(started)),
		zap.Strings("warnings", warnings),
	)
	return nil
}

// progress publishes whole-percent changes and stage switches only
func (h *Handler) progress(ctx context.Context, jobID, taskType string) media.ProgressFunc {
	lastStage, lastPercent := "", -1
	return func(stage string, fraction float64) {
		percent := int(math.Round(math.Min(math.Max(fraction, 0), 1) * 100))
		if stage == lastStage && percent == lastPercent {
			return
		}
		lastStage, lastPercent = stage, percent
		if err := h.jobs.UpdateProgress(ctx, jobID, taskType, stage, percent); err != nil {
			h.logger.Debug("Failed to publish progress", zap.String("job_id", jobID), zap.Error(err))
		}
	}
}

// fetch resolves a job input. Only uploads may be read.
func (h *Handler) fetch(ctx context.Context, path, dir string) (string, error) {
	local, err := h.storage.Fetch(ctx, path, dir)
	switch {
	case errors.Is(err, storage.ErrOutsideUploads):
		return "", fmt.Errorf("%w: %v", media.ErrInvalidSource, err)
	case err != nil:
		return "", fmt.Errorf("%w: %v", media.ErrFileNotFound, err)
	}
	return local, nil
}

func (h *Handler) publish(ctx context.Context, path string) (*storage.FileInfo, error) {
	info, err := h.storage.Publish(ctx, path, filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("publish output: %w", err)
	}
	h.metrics.RecordOutput(strings.TrimPrefix(filepath.Ext(path), "."), info.Size)
	return info, nil
}

func outputName(name string) string {
	name = strings.TrimSpace(filepath.Base(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "output"
	}
	return name
}

// IsFinal reports whether err was marked as not worth retrying
func IsFinal(err error) bool {
	return errors.Is(err, asynq.SkipRetry)
}
