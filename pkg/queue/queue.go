package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueuePollArchive is the Redis list key for ended-poll archive jobs.
	QueuePollArchive = "worker:poll_archive"
	// QueueAttendance is the Redis list key for presence log jobs.
	QueueAttendance = "worker:attendance"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
	// PollTimeout bounds one blocking dequeue so shutdown is noticed.
	PollTimeout = 5 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypePollArchive JobType = "poll_archive"
	JobTypeAttendance  JobType = "attendance"
)

// PollArchivePayload carries an ended poll as its client-facing JSON view.
type PollArchivePayload struct {
	RoomID string          `json:"room_id"`
	PollID string          `json:"poll_id"`
	Poll   json.RawMessage `json:"poll"`
}

// AttendancePayload is one presence change.
type AttendancePayload struct {
	RoomID        string    `json:"room_id"`
	ParticipantID string    `json:"participant_id"`
	Name          string    `json:"name"`
	Role          string    `json:"role"`
	Action        string    `json:"action"`
	Reason        string    `json:"reason,omitempty"`
	At            time.Time `json:"at"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// KeyFor returns the list a job type is queued on.
func KeyFor(t JobType) (string, error) {
	switch t {
	case JobTypePollArchive:
		return QueuePollArchive, nil
	case JobTypeAttendance:
		return QueueAttendance, nil
	default:
		return "", fmt.Errorf("unknown job type: %s", t)
	}
}

// NewJob wraps payload in a fresh envelope.
func NewJob(t JobType, payload interface{}) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Job{
		ID:        uuid.New().String(),
		Type:      t,
		Payload:   body,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// EnqueuePollArchive enqueues an ended poll for the archive worker.
func (q *Queue) EnqueuePollArchive(ctx context.Context, payload PollArchivePayload) error {
	job, err := NewJob(JobTypePollArchive, payload)
	if err != nil {
		return err
	}
	if err := q.push(ctx, QueuePollArchive, job); err != nil {
		return err
	}
	q.logger.Debug("enqueued poll archive job", zap.String("job_id", job.ID), zap.String("poll_id", payload.PollID))
	return nil
}

// EnqueueAttendance enqueues a presence change.
func (q *Queue) EnqueueAttendance(ctx context.Context, payload AttendancePayload) error {
	job, err := NewJob(JobTypeAttendance, payload)
	if err != nil {
		return err
	}
	if err := q.push(ctx, QueueAttendance, job); err != nil {
		return err
	}
	q.logger.Debug("enqueued attendance job", zap.String("job_id", job.ID), zap.String("participant_id", payload.ParticipantID))
	return nil
}

func (q *Queue) push(ctx context.Context, key string, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, key, raw).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", key, err)
	}
	return nil
}

// Dequeue blocks up to PollTimeout for a job on any worker list. It returns a nil job when
// nothing arrived.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	result, err := q.client.BLPop(ctx, PollTimeout, QueuePollArchive, QueueAttendance).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("queue", result[0]), zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Retry re-enqueues a job on its own list with incremented attempt. If attempt >= MaxRetries,
// pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	if job.Attempt >= MaxRetries {
		if err := q.push(ctx, QueueDLQ, job); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	key, err := KeyFor(job.Type)
	if err != nil {
		return q.push(ctx, QueueDLQ, job)
	}
	if err := q.push(ctx, key, job); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}
