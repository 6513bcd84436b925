package session

import (
	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/internal/polls"
)

// Meta is carried by every inbound event.
type Meta struct {
	// ConnID is the triggering connection; empty for REST and internal events.
	ConnID string
	// Reply, when set, receives exactly one Result after the event is processed.
	Reply chan<- Result
}

func (m *Meta) meta() *Meta { return m }

// Event is an inbound event for a room coordinator. All implementations are pointers to the
// structs below.
type Event interface {
	meta() *Meta
}

// JoinTeacher registers the teacher handle.
type JoinTeacher struct {
	Meta
	Identity models.Identity
}

// JoinParticipant adds or reactivates a student.
type JoinParticipant struct {
	Meta
	Identity models.Identity
}

// Disconnect is emitted by the transport when a connection closes.
type Disconnect struct {
	Meta
	Identity models.Identity
}

// CreatePoll makes a new Draft poll.
type CreatePoll struct {
	Meta
	Actor models.Identity
	Input polls.CreateInput
}

// StartPoll activates the current Draft poll.
type StartPoll struct {
	Meta
	Actor  models.Identity
	PollID string
}

// SubmitResponse records an answer. OptionIndex wins over SelectedOption when both are set.
type SubmitResponse struct {
	Meta
	Actor          models.Identity
	PollID         string
	OptionIndex    *int
	SelectedOption string
}

// EndPoll ends the current Active poll on the teacher's request.
type EndPoll struct {
	Meta
	Actor  models.Identity
	PollID string
}

// Tick is emitted by the countdown.
type Tick struct {
	Meta
	PollID    string
	Remaining int
}

// Expire is emitted by the countdown at the deadline.
type Expire struct {
	Meta
	PollID string
}

// SendChat posts a chat message.
type SendChat struct {
	Meta
	Sender models.Identity
	Text   string
}

// KickParticipant removes a student for the rest of the session.
type KickParticipant struct {
	Meta
	Actor         models.Identity
	ParticipantID string
	Reason        string
}

// RequestSnapshot reads the full room state.
type RequestSnapshot struct {
	Meta
}

// Result is the outcome of one processed event.
type Result struct {
	Poll        *models.PollView
	Results     map[string]models.OptionResult
	Snapshot    *Snapshot
	Participant *models.ParticipantView
	Message     *models.ChatMessage
	Err         error
}

// Snapshot is a point-in-time read of a room used for late-join reconciliation.
type Snapshot struct {
	Poll         *models.PollView         `json:"poll"`
	Participants []models.ParticipantView `json:"participants"`
	ChatMessages []models.ChatMessage     `json:"chatMessages"`
	Teacher      *models.ParticipantView  `json:"teacher"`
	History      []*models.PollView       `json:"history"`
}
