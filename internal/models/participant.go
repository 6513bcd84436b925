package models

import "time"

// ParticipantStatus is a participant's presence status.
type ParticipantStatus string

const (
	StatusConnected    ParticipantStatus = "connected"
	StatusDisconnected ParticipantStatus = "disconnected"
	StatusKicked       ParticipantStatus = "kicked"
)

// Participant is a presence entry. ConnID is a handle to a transport connection owned by the hub.
type Participant struct {
	ID       string
	Name     string
	Role     Role
	ConnID   string
	Status   ParticipantStatus
	JoinedAt time.Time
}

// View returns the client-facing representation.
func (p *Participant) View() ParticipantView {
	return ParticipantView{
		ID:       p.ID,
		Name:     p.Name,
		Role:     p.Role,
		Status:   p.Status,
		JoinedAt: p.JoinedAt,
	}
}

// ParticipantView is the roster entry broadcast to clients.
type ParticipantView struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Role     Role              `json:"role"`
	Status   ParticipantStatus `json:"status"`
	JoinedAt time.Time         `json:"joinedAt"`
}
