package session

import (
	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/pkg/apperr"
)

// Outbound event names.
const (
	EventPollCreated        = "pollCreated"
	EventPollStarted        = "pollStarted"
	EventPollEnded          = "pollEnded"
	EventResponseSubmitted  = "responseSubmitted"
	EventTimerUpdate        = "timerUpdate"
	EventNewMessage         = "newMessage"
	EventParticipantJoined  = "participantJoined"
	EventParticipantRemoved = "participantRemoved"
	EventParticipantUpdate  = "participantUpdate"
	EventCurrentPoll        = "currentPoll"
	EventSnapshot           = "snapshot"
	EventKickedOut          = "kickedOut"
	EventError              = "error"
)

// Broadcaster delivers notifications to connections. Implementations must not block.
type Broadcaster interface {
	Broadcast(roomID, event string, payload interface{})
	Send(roomID, connID, event string, payload interface{})
	Disconnect(roomID, connID string)
}

// Notification is one outbound delivery produced by processing an event.
// An empty ConnID means every connection in the room.
type Notification struct {
	Event      string
	ConnID     string
	Payload    interface{}
	Disconnect bool
}

// PollPayload carries a poll view.
type PollPayload struct {
	Poll *models.PollView `json:"poll"`
}

// PollEndedPayload is sent when a poll ends.
type PollEndedPayload struct {
	Poll    *models.PollView               `json:"poll"`
	Results map[string]models.OptionResult `json:"results"`
	Summary *models.Summary                `json:"summary"`
}

// ResultsPayload is sent after each accepted response.
type ResultsPayload struct {
	PollID         string                         `json:"pollId"`
	Results        map[string]models.OptionResult `json:"results"`
	TotalResponses int                            `json:"totalResponses"`
}

// TimerPayload is the countdown update.
type TimerPayload struct {
	PollID   string `json:"pollId"`
	TimeLeft int    `json:"timeLeft"`
}

// RosterPayload carries the participant list.
type RosterPayload struct {
	Participants []models.ParticipantView `json:"participants"`
}

// CurrentPollPayload is sent to a connection right after it joins.
type CurrentPollPayload struct {
	Poll         *models.PollView         `json:"poll"`
	Participants []models.ParticipantView `json:"participants"`
	ChatMessages []models.ChatMessage     `json:"chatMessages"`
}

// KickedOutPayload is sent to a removed participant before its connection is closed.
type KickedOutPayload struct {
	Reason string `json:"reason"`
}

// ErrorPayload reports a rejected event to the connection that sent it.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorPayload converts err for the wire, hiding unclassified error text.
func NewErrorPayload(err error) ErrorPayload {
	if apperr.KindOf(err) == apperr.KindInternal {
		return ErrorPayload{Code: "internal", Message: "internal error"}
	}
	return ErrorPayload{Code: apperr.CodeOf(err), Message: err.Error()}
}

func broadcast(event string, payload interface{}) Notification {
	return Notification{Event: event, Payload: payload}
}

func sendTo(connID, event string, payload interface{}) Notification {
	return Notification{Event: event, ConnID: connID, Payload: payload}
}
