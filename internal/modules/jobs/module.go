package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nextconvert/fxengine/internal/shared/database"
	"go.uber.org/zap"
)

// Job statuses
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// ProgressChannel carries every job state change as JSON
const ProgressChannel = "jobs:progress"

const jobTTL = 24 * time.Hour

// ErrJobNotFound is returned for unknown or expired job ids
var ErrJobNotFound = errors.New("job not found")

// Job is the externally visible state of one queued task
type Job struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	Progress    Progress        `json:"progress"`
	Error       *JobError       `json:"error,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Warnings    []string        `json:"warnings,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// Progress represents job progress
type Progress struct {
	Percent int    `json:"percent"`
	Stage   string `json:"stage,omitempty"`
}

// JobError represents a job error
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StateStore keeps job state and fans out changes. *database.Redis implements it.
type StateStore interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Publish(ctx context.Context, channel string, message interface{}) error
}

// Module handles job management
type Module struct {
	store  StateStore
	queue  *QueueClient
	logger *zap.Logger
	mu     sync.Mutex // serializes read-modify-write of one worker's updates
}

// NewModule creates a new jobs module. queue may be nil in the worker.
func NewModule(store StateStore, queue *QueueClient, logger *zap.Logger) *Module {
	return &Module{
		store:  store,
		queue:  queue,
		logger: logger,
	}
}

// CreateTranscode registers and enqueues a transcode job
func (m *Module) CreateTranscode(ctx context.Context, payload TranscodePayload, priority string) (*Job, error) {
	job := m.newJob(TypeTranscode)
	payload.JobID = job.ID
	return m.create(ctx, job, func() error {
		_, err := m.queue.EnqueueTranscode(payload, priority)
		return err
	})
}

// CreateGrid registers and enqueues a grid composite job
func (m *Module) CreateGrid(ctx context.Context, payload GridPayload, priority string) (*Job, error) {
	job := m.newJob(TypeGrid)
	payload.JobID = job.ID
	return m.create(ctx, job, func() error {
		_, err := m.queue.EnqueueGrid(payload, priority)
		return err
	})
}

// CreateDJ registers and enqueues a DJ composite job
func (m *Module) CreateDJ(ctx context.Context, payload DJPayload, priority string) (*Job, error) {
	job := m.newJob(TypeDJ)
	payload.JobID = job.ID
	return m.create(ctx, job, func() error {
		_, err := m.queue.EnqueueDJ(payload, priority)
		return err
	})
}

func (m *Module) newJob(taskType string) *Job {
	return &Job{
		ID:        uuid.New().String(),
		Type:      taskType,
		Status:    StatusQueued,
		CreatedAt: time.Now().UTC(),
	}
}

func (m *Module) create(ctx context.Context, job *Job, enqueue func() error) (*Job, error) {
	if m.queue == nil {
		return nil, fmt.Errorf("job queue not configured")
	}
	// state first, so a fast worker always finds the job
	if err := m.save(ctx, job); err != nil {
		return nil, err
	}
	if err := enqueue(); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}
	return job, nil
}

// GetJob returns the latest state of a job
func (m *Module) GetJob(ctx context.Context, jobID string) (*Job, error) {
	data, err := m.store.Get(ctx, jobKey(jobID))
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return DeserializeJob([]byte(data))
}

// StartJob marks a job as processing
func (m *Module) StartJob(ctx context.Context, jobID, taskType string) error {
	return m.update(ctx, jobID, taskType, func(job *Job) {
		now := time.Now().UTC()
		job.Status = StatusProcessing
		job.StartedAt = &now
		job.Error = nil
	})
}

// UpdateProgress records the current stage and percentage
func (m *Module) UpdateProgress(ctx context.Context, jobID, taskType, stage string, percent int) error {
	return m.update(ctx, jobID, taskType, func(job *Job) {
		job.Progress = Progress{Percent: percent, Stage: stage}
	})
}

// CompleteJob stores the result and marks the job completed
func (m *Module) CompleteJob(ctx context.Context, jobID, taskType string, result interface{}, warnings []string) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return m.update(ctx, jobID, taskType, func(job *Job) {
		now := time.Now().UTC()
		job.Status = StatusCompleted
		job.Progress = Progress{Percent: 100, Stage: "done"}
		job.Result = data
		job.Warnings = warnings
		job.CompletedAt = &now
	})
}

// FailJob marks the job failed with a taxonomy code
func (m *Module) FailJob(ctx context.Context, jobID, taskType, code string, cause error) error {
	return m.update(ctx, jobID, taskType, func(job *Job) {
		now := time.Now().UTC()
		job.Status = StatusFailed
		job.Error = &JobError{Code: code, Message: cause.Error()}
		job.CompletedAt = &now
	})
}

func (m *Module) update(ctx context.Context, jobID, taskType string, mutate func(*Job)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.GetJob(ctx, jobID)
	if errors.Is(err, ErrJobNotFound) {
		// enqueued directly, e.g. by the scheduler or a CLI
		job = &Job{ID: jobID, Type: taskType, CreatedAt: time.Now().UTC()}
	} else if err != nil {
		return err
	}

	mutate(job)
	return m.save(ctx, job)
}

func (m *Module) save(ctx context.Context, job *Job) error {
	data, err := SerializeJob(job)
	if err != nil {
		return err
	}
	if err := m.store.Set(ctx, jobKey(job.ID), data, jobTTL); err != nil {
		return fmt.Errorf("failed to store job: %w", err)
	}
	if err := m.store.Publish(ctx, ProgressChannel, data); err != nil {
		m.logger.Warn("Failed to publish job update", zap.String("job_id", job.ID), zap.Error(err))
	}
	return nil
}

func jobKey(jobID string) string {
	return "job:" + jobID
}

// SerializeJob serializes a job to JSON
func SerializeJob(job *Job) ([]byte, error) {
	return json.Marshal(job)
}

// DeserializeJob deserializes a job from JSON
func DeserializeJob(data []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}
