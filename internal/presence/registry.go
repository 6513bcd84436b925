// Package presence tracks who is in a room, on which connection, and who has been removed.
package presence

import (
	"sort"
	"strings"
	"time"

	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/pkg/apperr"
)

var (
	ErrBarred             = apperr.New(apperr.KindForbidden, "barred", "you have been removed from this session")
	ErrNotTeacher         = apperr.New(apperr.KindForbidden, "not_teacher", "only the teacher can remove participants")
	ErrWrongRole          = apperr.New(apperr.KindForbidden, "wrong_role", "identity role does not allow this join")
	ErrParticipantUnknown = apperr.New(apperr.KindNotFound, "participant_not_found", "participant not found")
	ErrAlreadyKicked      = apperr.New(apperr.KindConflict, "already_kicked", "participant was already removed")
	ErrIDTaken            = apperr.New(apperr.KindForbidden, "id_taken", "this id belongs to the teacher")
)

// Registry is the presence registry of one room. Not safe for concurrent use.
type Registry struct {
	store   ParticipantStore
	teacher *models.Participant
}

// NewRegistry creates a presence registry over store.
func NewRegistry(store ParticipantStore) *Registry {
	return &Registry{store: store}
}

// Join adds or reactivates a participant on connID. A teacher join replaces the teacher handle.
func (r *Registry) Join(id models.Identity, connID string, now time.Time) (*models.Participant, error) {
	if strings.TrimSpace(id.ID) == "" {
		return nil, apperr.Validation("participant id is required")
	}
	name := strings.TrimSpace(id.Name)
	if name == "" {
		return nil, apperr.Validation("display name is required")
	}
	if r.store.Barred(id.ID) {
		return nil, ErrBarred
	}

	switch id.Role {
	case models.RoleTeacher:
		r.teacher = &models.Participant{
			ID:       id.ID,
			Name:     name,
			Role:     models.RoleTeacher,
			ConnID:   connID,
			Status:   models.StatusConnected,
			JoinedAt: now,
		}
		return r.teacher, nil
	case models.RoleStudent:
		if r.teacher != nil && r.teacher.ID == id.ID {
			return nil, ErrIDTaken
		}
		if p, ok := r.store.Get(id.ID); ok {
			p.Name = name
			p.ConnID = connID
			p.Status = models.StatusConnected
			return p, nil
		}
		p := &models.Participant{
			ID:       id.ID,
			Name:     name,
			Role:     models.RoleStudent,
			ConnID:   connID,
			Status:   models.StatusConnected,
			JoinedAt: now,
		}
		r.store.Put(p)
		return p, nil
	default:
		return nil, ErrWrongRole
	}
}

// Leave marks id disconnected when connID is still its current handle. It reports whether
// anything changed; disconnects from superseded connections are ignored.
func (r *Registry) Leave(id, connID string) (*models.Participant, bool) {
	if r.teacher != nil && r.teacher.ID == id && r.teacher.ConnID == connID {
		if r.teacher.Status != models.StatusConnected {
			return r.teacher, false
		}
		r.teacher.Status = models.StatusDisconnected
		return r.teacher, true
	}
	p, ok := r.store.Get(id)
	if !ok || p.ConnID != connID || p.Status != models.StatusConnected {
		return p, false
	}
	p.Status = models.StatusDisconnected
	return p, true
}

// Kick permanently removes targetID. Only the connected teacher, acting with the teacher role,
// may kick.
func (r *Registry) Kick(actor models.Identity, targetID string) (*models.Participant, error) {
	if actor.Role != models.RoleTeacher || r.TeacherID() == "" || actor.ID != r.TeacherID() {
		return nil, ErrNotTeacher
	}
	p, ok := r.store.Get(targetID)
	if !ok {
		return nil, ErrParticipantUnknown
	}
	if p.Status == models.StatusKicked {
		return nil, ErrAlreadyKicked
	}
	p.Status = models.StatusKicked
	r.store.Bar(targetID)
	return p, nil
}

// Get returns a student entry by id.
func (r *Registry) Get(id string) (*models.Participant, bool) {
	return r.store.Get(id)
}

// IsBarred reports whether id was kicked.
func (r *Registry) IsBarred(id string) bool {
	return r.store.Barred(id)
}

// Teacher returns the teacher handle, connected or not.
func (r *Registry) Teacher() *models.Participant {
	return r.teacher
}

// TeacherID returns the id of the connected teacher, or "".
func (r *Registry) TeacherID() string {
	if r.teacher == nil || r.teacher.Status != models.StatusConnected {
		return ""
	}
	return r.teacher.ID
}

// Roster returns connected, non-kicked students ordered by join time.
func (r *Registry) Roster() []models.ParticipantView {
	list := r.store.List()
	out := make([]models.ParticipantView, 0, len(list))
	for _, p := range list {
		if p.Status == models.StatusConnected {
			out = append(out, p.View())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}
