package realtime

import (
	"encoding/json"
	"strings"

	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/internal/polls"
	"github.com/livepoll/backend/internal/session"
	"github.com/livepoll/backend/pkg/apperr"
)

// Inbound event names.
const (
	EventJoinTeacher     = "joinTeacher"
	EventJoinParticipant = "joinParticipant"
	EventSendMessage     = "sendMessage"
	EventKickParticipant = "kickParticipant"
	EventCreatePoll      = "createPoll"
	EventStartPoll       = "startPoll"
	EventSubmitResponse  = "submitResponse"
	EventEndPoll         = "endPoll"
	EventRequestSnapshot = "requestSnapshot"
)

var (
	ErrUnknownEvent     = apperr.New(apperr.KindValidation, "unknown_event", "unknown event")
	ErrMalformed        = apperr.New(apperr.KindValidation, "invalid_input", "malformed event payload")
	ErrIdentityMismatch = apperr.New(apperr.KindForbidden, "identity_mismatch", "payload identity does not match the connection")
)

type joinTeacherData struct {
	TeacherID   string `json:"teacherId"`
	TeacherName string `json:"teacherName"`
}

type joinParticipantData struct {
	StudentID   string `json:"studentId"`
	StudentName string `json:"studentName"`
}

type sendMessageData struct {
	Message    string `json:"message"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	SenderRole string `json:"senderRole"`
}

type kickData struct {
	ParticipantID string `json:"participantId"`
	Reason        string `json:"reason"`
}

type createPollData struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	Duration      int      `json:"duration"`
	CorrectAnswer *int     `json:"correctAnswer"`
	TeacherID     string   `json:"teacherId"`
	TeacherName   string   `json:"teacherName"`
}

type pollRefData struct {
	PollID string `json:"pollId"`
}

type submitData struct {
	PollID         string `json:"pollId"`
	OptionIndex    *int   `json:"optionIndex"`
	SelectedOption string `json:"selectedOption"`
	StudentID      string `json:"studentId"`
}

// decodeEvent turns a client frame into a coordinator event for the connection's identity.
func decodeEvent(msg WSMessage, id models.Identity, connID string) (session.Event, error) {
	meta := session.Meta{ConnID: connID}
	switch msg.Event {
	case EventJoinTeacher:
		var d joinTeacherData
		if err := unmarshal(msg.Data, &d); err != nil {
			return nil, err
		}
		if err := sameID(d.TeacherID, id); err != nil {
			return nil, err
		}
		return &session.JoinTeacher{Meta: meta, Identity: withName(id, d.TeacherName)}, nil
	case EventJoinParticipant:
		var d joinParticipantData
		if err := unmarshal(msg.Data, &d); err != nil {
			return nil, err
		}
		if err := sameID(d.StudentID, id); err != nil {
			return nil, err
		}
		return &session.JoinParticipant{Meta: meta, Identity: withName(id, d.StudentName)}, nil
	case EventSendMessage:
		var d sendMessageData
		if err := unmarshal(msg.Data, &d); err != nil {
			return nil, err
		}
		if err := sameID(d.SenderID, id); err != nil {
			return nil, err
		}
		return &session.SendChat{Meta: meta, Sender: id, Text: d.Message}, nil
	case EventKickParticipant:
		var d kickData
		if err := unmarshal(msg.Data, &d); err != nil {
			return nil, err
		}
		if strings.TrimSpace(d.ParticipantID) == "" {
			return nil, apperr.Validation("participantId is required")
		}
		return &session.KickParticipant{Meta: meta, Actor: id, ParticipantID: d.ParticipantID, Reason: d.Reason}, nil
	case EventCreatePoll:
		var d createPollData
		if err := unmarshal(msg.Data, &d); err != nil {
			return nil, err
		}
		if err := sameID(d.TeacherID, id); err != nil {
			return nil, err
		}
		return &session.CreatePoll{
			Meta:  meta,
			Actor: withName(id, d.TeacherName),
			Input: polls.CreateInput{
				Question:      d.Question,
				Options:       d.Options,
				Duration:      d.Duration,
				CorrectAnswer: d.CorrectAnswer,
			},
		}, nil
	case EventStartPoll:
		var d pollRefData
		if err := unmarshal(msg.Data, &d); err != nil {
			return nil, err
		}
		return &session.StartPoll{Meta: meta, Actor: id, PollID: d.PollID}, nil
	case EventSubmitResponse:
		var d submitData
		if err := unmarshal(msg.Data, &d); err != nil {
			return nil, err
		}
		if err := sameID(d.StudentID, id); err != nil {
			return nil, err
		}
		return &session.SubmitResponse{
			Meta:           meta,
			Actor:          id,
			PollID:         d.PollID,
			OptionIndex:    d.OptionIndex,
			SelectedOption: d.SelectedOption,
		}, nil
	case EventEndPoll:
		var d pollRefData
		if err := unmarshal(msg.Data, &d); err != nil {
			return nil, err
		}
		return &session.EndPoll{Meta: meta, Actor: id, PollID: d.PollID}, nil
	case EventRequestSnapshot:
		return &session.RequestSnapshot{Meta: meta}, nil
	default:
		return nil, ErrUnknownEvent.WithMessage("unknown event %q", msg.Event)
	}
}

func unmarshal(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return ErrMalformed
	}
	return nil
}

func sameID(claimed string, id models.Identity) error {
	if claimed != "" && claimed != id.ID {
		return ErrIdentityMismatch
	}
	return nil
}

func withName(id models.Identity, name string) models.Identity {
	if n := strings.TrimSpace(name); n != "" {
		id.Name = n
	}
	return id
}
