package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Task types
const (
	TypeTranscode    = "fx:transcode"
	TypeGrid         = "fx:grid"
	TypeDJ           = "fx:dj"
	TypeScratchSweep = "scratch:sweep"
)

// Queue names, highest priority first
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// Enqueuer is the part of *asynq.Client the queue client needs
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// QueueClient handles job queue operations
type QueueClient struct {
	client Enqueuer
	logger *zap.Logger
}

// NewQueueClient creates a new queue client
func NewQueueClient(redisAddr string, logger *zap.Logger) *QueueClient {
	return NewQueueClientWith(asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr}), logger)
}

// NewQueueClientWith wraps an existing enqueuer
func NewQueueClientWith(client Enqueuer, logger *zap.Logger) *QueueClient {
	return &QueueClient{
		client: client,
		logger: logger,
	}
}

// Close closes the queue client
func (q *QueueClient) Close() error {
	return q.client.Close()
}

// TranscodePayload contains transcode task data
type TranscodePayload struct {
	JobID           string   `json:"jobId"`
	InputPath       string   `json:"inputPath"`
	OutputName      string   `json:"outputName"`
	FilterSpec      string   `json:"filterSpec,omitempty"`
	Start           *float64 `json:"start,omitempty"`
	Duration        *float64 `json:"duration,omitempty"`
	CeilingBytes    int64    `json:"ceilingBytes,omitempty"`
	StrictEffects   bool     `json:"strictEffects,omitempty"`
	DeadlineSeconds int      `json:"deadlineSeconds,omitempty"`
}

// GridPayload contains grid composite task data
type GridPayload struct {
	JobID          string   `json:"jobId"`
	InputPaths     []string `json:"inputPaths"`
	OutputName     string   `json:"outputName"`
	Sync           bool     `json:"sync,omitempty"`
	TargetDuration float64  `json:"targetDuration,omitempty"`
}

// DJPayload contains DJ composite task data
type DJPayload struct {
	JobID       string   `json:"jobId"`
	VideoPath   string   `json:"videoPath"`
	AudioPath   string   `json:"audioPath"`
	OutputName  string   `json:"outputName"`
	VideoOffset *float64 `json:"videoOffset,omitempty"`
	AudioOffset *float64 `json:"audioOffset,omitempty"`
	EffectCount int      `json:"effectCount,omitempty"`
	MaxAttempts int      `json:"maxAttempts,omitempty"`
}

// SweepPayload contains scratch sweep task data
type SweepPayload struct {
	MaxAgeMinutes int `json:"maxAgeMinutes"`
}

// EnqueueTranscode queues a transcode task
func (q *QueueClient) EnqueueTranscode(payload TranscodePayload, priority string) (*asynq.TaskInfo, error) {
	return q.enqueue(TypeTranscode, payload.JobID, payload, priority)
}

// EnqueueGrid queues a grid composite task
func (q *QueueClient) EnqueueGrid(payload GridPayload, priority string) (*asynq.TaskInfo, error) {
	return q.enqueue(TypeGrid, payload.JobID, payload, priority)
}

// EnqueueDJ queues a DJ composite task
func (q *QueueClient) EnqueueDJ(payload DJPayload, priority string) (*asynq.TaskInfo, error) {
	return q.enqueue(TypeDJ, payload.JobID, payload, priority)
}

func (q *QueueClient) enqueue(taskType, jobID string, payload interface{}, priority string) (*asynq.TaskInfo, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	task := asynq.NewTask(taskType, data)

	// ffmpeg failures are classified by the handler; only infrastructure errors retry
	opts := []asynq.Option{
		asynq.MaxRetry(2),
		asynq.Timeout(time.Hour),
		asynq.TaskID(jobID),
		asynq.Queue(queueFor(priority)),
	}

	info, err := q.client.Enqueue(task, opts...)
	if err != nil {
		q.logger.Error("Failed to enqueue task", zap.String("type", taskType), zap.Error(err))
		return nil, err
	}

	q.logger.Info("Task enqueued",
		zap.String("type", taskType),
		zap.String("task_id", info.ID),
		zap.String("job_id", jobID),
		zap.String("queue", info.Queue),
	)

	return info, nil
}

func queueFor(priority string) string {
	switch priority {
	case "high":
		return QueueCritical
	case "low":
		return QueueLow
	default:
		return QueueDefault
	}
}

// Queues returns the asynq queue weights used by the worker
func Queues() map[string]int {
	return map[string]int{
		QueueCritical: 6,
		QueueDefault:  3,
		QueueLow:      1,
	}
}

// RegisterSchedules adds the periodic scratch sweep to scheduler
func RegisterSchedules(scheduler *asynq.Scheduler, maxAge time.Duration) (string, error) {
	payload, err := json.Marshal(SweepPayload{MaxAgeMinutes: int(maxAge / time.Minute)})
	if err != nil {
		return "", err
	}
	return scheduler.Register("@every 15m", asynq.NewTask(TypeScratchSweep, payload), asynq.Queue(QueueLow), asynq.MaxRetry(0))
}
