package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/pkg/queue"
	"github.com/livepoll/backend/pkg/storage"
)

// Store is the archive database as the worker uses it.
type Store interface {
	SavePoll(ctx context.Context, roomID string, poll *models.PollView) error
	SetExportKey(ctx context.Context, pollID, key string) error
	LogPresence(ctx context.Context, rec models.PresenceRecord) error
}

// Exporter uploads poll JSON exports.
type Exporter interface {
	PutJSON(ctx context.Context, key string, body []byte) error
}

// JobSource yields queued jobs and takes failed ones back.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Processor runs archive jobs: poll jobs are upserted and exported to S3, attendance jobs are
// appended to the log.
type Processor struct {
	store    Store
	exporter Exporter
	jobs     JobSource
	backoff  time.Duration
	logger   *zap.Logger
}

// NewProcessor creates an archive processor. exporter may be nil to skip S3 exports.
func NewProcessor(store Store, exporter Exporter, jobs JobSource, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{store: store, exporter: exporter, jobs: jobs, backoff: queue.RetryBackoff, logger: logger}
}

// Process executes one job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypePollArchive:
		var payload queue.PollArchivePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		return p.archivePoll(ctx, payload)
	case queue.JobTypeAttendance:
		var payload queue.AttendancePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		return p.store.LogPresence(ctx, models.PresenceRecord{
			RoomID:        payload.RoomID,
			ParticipantID: payload.ParticipantID,
			Name:          payload.Name,
			Role:          models.Role(payload.Role),
			Action:        models.PresenceAction(payload.Action),
			Reason:        payload.Reason,
			At:            payload.At,
		})
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

func (p *Processor) archivePoll(ctx context.Context, payload queue.PollArchivePayload) error {
	var poll models.PollView
	if err := json.Unmarshal(payload.Poll, &poll); err != nil {
		return fmt.Errorf("decode poll: %w", err)
	}
	if err := p.store.SavePoll(ctx, payload.RoomID, &poll); err != nil {
		return err
	}
	if p.exporter == nil {
		p.logger.Info("poll archived", zap.String("poll_id", poll.ID), zap.String("room_id", payload.RoomID))
		return nil
	}

	key := storage.PollExportKey(payload.RoomID, poll.ID)
	body, err := json.MarshalIndent(poll, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal export: %w", err)
	}
	if err := p.exporter.PutJSON(ctx, key, body); err != nil {
		return fmt.Errorf("s3 export: %w", err)
	}
	if err := p.store.SetExportKey(ctx, poll.ID, key); err != nil {
		return fmt.Errorf("update db: %w", err)
	}
	p.logger.Info("poll archived", zap.String("poll_id", poll.ID), zap.String("room_id", payload.RoomID), zap.String("s3_key", key))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("archive worker stopping")
			return
		default:
		}

		job, err := p.jobs.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.jobs.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *Processor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
