package archive

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/pkg/queue"
)

// Enqueuer is the part of the job queue the dispatcher needs.
type Enqueuer interface {
	EnqueuePollArchive(ctx context.Context, payload queue.PollArchivePayload) error
	EnqueueAttendance(ctx context.Context, payload queue.AttendancePayload) error
}

// Dispatcher hands archive work to the background worker. It satisfies session.Archiver.
type Dispatcher struct {
	jobs Enqueuer
}

// NewDispatcher creates a dispatcher over jobs.
func NewDispatcher(jobs Enqueuer) *Dispatcher {
	return &Dispatcher{jobs: jobs}
}

// ArchivePoll queues an ended poll.
func (d *Dispatcher) ArchivePoll(ctx context.Context, poll *models.PollView) error {
	body, err := json.Marshal(poll)
	if err != nil {
		return fmt.Errorf("marshal poll: %w", err)
	}
	return d.jobs.EnqueuePollArchive(ctx, queue.PollArchivePayload{RoomID: poll.RoomID, PollID: poll.ID, Poll: body})
}

// LogPresence queues an attendance entry.
func (d *Dispatcher) LogPresence(ctx context.Context, rec models.PresenceRecord) error {
	return d.jobs.EnqueueAttendance(ctx, queue.AttendancePayload{
		RoomID:        rec.RoomID,
		ParticipantID: rec.ParticipantID,
		Name:          rec.Name,
		Role:          string(rec.Role),
		Action:        string(rec.Action),
		Reason:        rec.Reason,
		At:            rec.At,
	})
}
