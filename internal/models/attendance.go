package models

import "time"

// PresenceAction is the kind of presence change written to the attendance log.
type PresenceAction string

const (
	PresenceJoin   PresenceAction = "join"
	PresenceLeave  PresenceAction = "leave"
	PresenceKicked PresenceAction = "kicked"
)

// PresenceRecord is one attendance log entry, written off the coordinator's path.
type PresenceRecord struct {
	RoomID        string         `json:"room_id"`
	ParticipantID string         `json:"participant_id"`
	Name          string         `json:"name"`
	Role          Role           `json:"role"`
	Action        PresenceAction `json:"action"`
	Reason        string         `json:"reason,omitempty"`
	At            time.Time      `json:"at"`
}

// ArchivedPoll is an ended poll as stored in the archive database.
type ArchivedPoll struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	Poll      PollView  `json:"poll"`
	ExportKey *string   `json:"export_key,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
