// Package archive persists ended polls and attendance outside the live rooms: the server
// dispatches jobs, the worker writes them to PostgreSQL and S3, and the API reads them back.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/pkg/apperr"
)

// ErrNotFound is returned for an unknown archived poll.
var ErrNotFound = apperr.New(apperr.KindNotFound, "archive_not_found", "archived poll not found")

// Repository handles archive persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an archive repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// SavePoll inserts or replaces an archived poll. A stored export key is kept.
func (r *Repository) SavePoll(ctx context.Context, roomID string, poll *models.PollView) error {
	body, err := json.Marshal(poll)
	if err != nil {
		return fmt.Errorf("marshal poll: %w", err)
	}
	total := 0
	if poll.Summary != nil {
		total = poll.Summary.TotalResponses
	}
	q := `INSERT INTO poll_archive (id, room_id, question, end_reason, total, poll, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			question = EXCLUDED.question,
			end_reason = EXCLUDED.end_reason,
			total = EXCLUDED.total,
			poll = EXCLUDED.poll,
			ended_at = EXCLUDED.ended_at`
	if _, err := r.pool.Exec(ctx, q, poll.ID, roomID, poll.Question, string(poll.EndReason), total, body, poll.EndTime); err != nil {
		return fmt.Errorf("save poll %s: %w", poll.ID, err)
	}
	return nil
}

// SetExportKey records the S3 key of a poll's exported JSON.
func (r *Repository) SetExportKey(ctx context.Context, pollID, key string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE poll_archive SET export_key = $2 WHERE id = $1`, pollID, key)
	if err != nil {
		return fmt.Errorf("set export key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPolls returns a room's archived polls, newest first.
func (r *Repository) ListPolls(ctx context.Context, roomID string, limit int) ([]models.ArchivedPoll, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, room_id, poll, export_key, created_at FROM poll_archive
		WHERE room_id = $1 ORDER BY created_at DESC LIMIT $2`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("list polls: %w", err)
	}
	defer rows.Close()
	out := []models.ArchivedPoll{}
	for rows.Next() {
		a, err := scanPoll(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// GetPoll returns one archived poll by id.
func (r *Repository) GetPoll(ctx context.Context, pollID string) (*models.ArchivedPoll, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, room_id, poll, export_key, created_at FROM poll_archive WHERE id = $1`, pollID)
	a, err := scanPoll(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func scanPoll(row pgx.Row) (*models.ArchivedPoll, error) {
	var a models.ArchivedPoll
	var body []byte
	if err := row.Scan(&a.ID, &a.RoomID, &body, &a.ExportKey, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan poll: %w", err)
	}
	if err := json.Unmarshal(body, &a.Poll); err != nil {
		return nil, fmt.Errorf("decode poll %s: %w", a.ID, err)
	}
	return &a, nil
}

// LogPresence appends an attendance entry.
func (r *Repository) LogPresence(ctx context.Context, rec models.PresenceRecord) error {
	q := `INSERT INTO attendance_logs (room_id, participant_id, name, role, action, reason, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := r.pool.Exec(ctx, q, rec.RoomID, rec.ParticipantID, rec.Name, string(rec.Role), string(rec.Action), rec.Reason, rec.At); err != nil {
		return fmt.Errorf("log presence: %w", err)
	}
	return nil
}

// ListAttendance returns a room's attendance entries since the given time, oldest first.
func (r *Repository) ListAttendance(ctx context.Context, roomID string, since time.Time, limit int) ([]models.PresenceRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT room_id, participant_id, name, role, action, reason, at FROM attendance_logs
		WHERE room_id = $1 AND at >= $2 ORDER BY at ASC, id ASC LIMIT $3`, roomID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	defer rows.Close()
	out := []models.PresenceRecord{}
	for rows.Next() {
		var rec models.PresenceRecord
		var role, action string
		if err := rows.Scan(&rec.RoomID, &rec.ParticipantID, &rec.Name, &role, &action, &rec.Reason, &rec.At); err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		rec.Role = models.Role(role)
		rec.Action = models.PresenceAction(action)
		out = append(out, rec)
	}
	return out, rows.Err()
}
