// Package polls implements the poll lifecycle state machine and the response aggregator.
// A Machine is not safe for concurrent use; the session coordinator is its only caller.
package polls

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/internal/timer"
	"github.com/livepoll/backend/pkg/apperr"
)

// Policy bounds poll creation input.
type Policy struct {
	MinDuration     int
	MaxDuration     int
	DefaultDuration int
	MaxOptions      int
	MaxQuestionLen  int
}

// DefaultPolicy matches the classroom defaults: 10..300 seconds, 60 when omitted.
func DefaultPolicy() Policy {
	return Policy{
		MinDuration:     10,
		MaxDuration:     300,
		DefaultDuration: 60,
		MaxOptions:      10,
		MaxQuestionLen:  500,
	}
}

// CreateInput is the teacher's poll definition.
type CreateInput struct {
	Question      string
	Options       []string
	Duration      int
	CorrectAnswer *int
}

// Machine owns the current poll of one room.
type Machine struct {
	roomID string
	store  PollStore
	policy Policy
}

// NewMachine creates a lifecycle machine over store.
func NewMachine(roomID string, store PollStore, policy Policy) *Machine {
	return &Machine{roomID: roomID, store: store, policy: policy}
}

// Current returns the current poll (nil before the first Create).
func (m *Machine) Current() *models.Poll {
	return m.store.Current()
}

// Store exposes the underlying poll store for read access.
func (m *Machine) Store() PollStore {
	return m.store
}

// Create validates in and makes a new Draft poll the current one.
func (m *Machine) Create(in CreateInput, teacher models.Identity, now time.Time) (*models.Poll, error) {
	prev := m.store.Current()
	if prev != nil && prev.State == models.PollActive {
		return nil, ErrPollActive
	}
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return nil, apperr.Validation("question is required")
	}
	if m.policy.MaxQuestionLen > 0 && len([]rune(question)) > m.policy.MaxQuestionLen {
		return nil, apperr.Validation("question must be at most %d characters", m.policy.MaxQuestionLen)
	}
	options, err := m.cleanOptions(in.Options)
	if err != nil {
		return nil, err
	}

	var correct *int
	if in.CorrectAnswer != nil {
		idx := clamp(*in.CorrectAnswer, 0, len(options)-1)
		correct = &idx
	}

	p := &models.Poll{
		ID:              uuid.New().String(),
		RoomID:          m.roomID,
		Question:        question,
		Options:         options,
		CorrectAnswer:   correct,
		DurationSeconds: m.duration(in.Duration),
		State:           models.PollDraft,
		Responses:       make(map[string]models.Response),
		Tally:           make([]int, len(options)),
		TeacherID:       teacher.ID,
		TeacherName:     teacher.Name,
		CreatedAt:       now,
	}
	if prev != nil && prev.State == models.PollEnded && !prev.Archived {
		prev.Archived = true
		m.store.AppendHistory(prev)
	}
	m.store.SetCurrent(p)
	return p, nil
}

// Start moves the current Draft poll to Active. teacherHandleID is the id of the connected
// teacher, if any; the poll's creator is always recognized.
func (m *Machine) Start(pollID, actorID, teacherHandleID string, now time.Time) (*models.Poll, error) {
	p := m.store.Current()
	if p == nil {
		return nil, ErrNoPoll
	}
	if pollID != "" && pollID != p.ID {
		return nil, ErrPollNotFound.WithMessage("poll %s is not the current poll", pollID)
	}
	if !recognized(p, actorID, teacherHandleID) {
		return nil, ErrNotTeacher
	}
	if p.State != models.PollDraft {
		return nil, ErrNotDraft
	}
	started := now
	p.State = models.PollActive
	p.StartedAt = &started
	p.Deadline = now.Add(time.Duration(p.DurationSeconds) * time.Second)
	p.Responses = make(map[string]models.Response)
	p.Tally = make([]int, len(p.Options))
	return p, nil
}

// End moves the current Active poll to Ended, freezing the tally and computing the summary.
func (m *Machine) End(reason models.EndReason, now time.Time) (*models.Poll, error) {
	p := m.store.Current()
	if p == nil || p.State != models.PollActive {
		return nil, ErrNotActive
	}
	ended := now
	p.State = models.PollEnded
	p.EndedAt = &ended
	p.EndReason = reason
	p.Summary = Summarize(p)
	p.Archived = true
	m.store.AppendHistory(p)
	return p, nil
}

// EndByTeacher is End guarded by the same teacher recognition as Start.
func (m *Machine) EndByTeacher(pollID, actorID, teacherHandleID string, now time.Time) (*models.Poll, error) {
	p := m.store.Current()
	if p == nil {
		return nil, ErrNotActive
	}
	if pollID != "" && pollID != p.ID {
		return nil, ErrPollNotFound.WithMessage("poll %s is not the current poll", pollID)
	}
	if !recognized(p, actorID, teacherHandleID) {
		return nil, ErrNotTeacher
	}
	return m.End(models.EndReasonTeacher, now)
}

// Expire ends pollID if it is still the current Active poll. It reports false, without error,
// for anything else so late timer events are harmless.
func (m *Machine) Expire(pollID string, now time.Time) (*models.Poll, bool) {
	p := m.store.Current()
	if p == nil || p.ID != pollID || p.State != models.PollActive {
		return nil, false
	}
	ended, err := m.End(models.EndReasonExpired, now)
	if err != nil {
		return nil, false
	}
	return ended, true
}

// Remaining returns the whole seconds left on an Active poll, rounded up.
func Remaining(p *models.Poll, now time.Time) int {
	switch p.State {
	case models.PollDraft:
		return p.DurationSeconds
	case models.PollActive:
		return timer.Remaining(p.Deadline, now)
	default:
		return 0
	}
}

func (m *Machine) cleanOptions(raw []string) ([]string, error) {
	options := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, o := range raw {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if _, dup := seen[o]; dup {
			return nil, apperr.Validation("duplicate option %q", o)
		}
		seen[o] = struct{}{}
		options = append(options, o)
	}
	if len(options) < 2 {
		return nil, apperr.Validation("question and at least 2 options are required")
	}
	if m.policy.MaxOptions > 0 && len(options) > m.policy.MaxOptions {
		return nil, apperr.Validation("at most %d options are allowed", m.policy.MaxOptions)
	}
	return options, nil
}

func (m *Machine) duration(requested int) int {
	if requested <= 0 {
		requested = m.policy.DefaultDuration
	}
	return clamp(requested, m.policy.MinDuration, m.policy.MaxDuration)
}

func recognized(p *models.Poll, actorID, teacherHandleID string) bool {
	if actorID == "" {
		return false
	}
	return actorID == p.TeacherID || actorID == teacherHandleID
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
