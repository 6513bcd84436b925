package session

import (
	"time"

	"github.com/livepoll/backend/internal/chat"
	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/internal/polls"
	"github.com/livepoll/backend/internal/presence"
)

// Session is the state of one room: current poll and history, presence and chat.
// Only the room's coordinator goroutine mutates it.
type Session struct {
	RoomID   string
	Polls    *polls.Machine
	Presence *presence.Registry
	Chat     *chat.Relay
}

// Stores groups the repositories a Session is built on.
type Stores struct {
	Polls        polls.PollStore
	Participants presence.ParticipantStore
	Chat         chat.ChatStore
}

// MemoryStores returns fresh in-memory repositories.
func MemoryStores() Stores {
	return Stores{
		Polls:        polls.NewMemoryStore(),
		Participants: presence.NewMemoryStore(),
		Chat:         chat.NewMemoryStore(),
	}
}

// NewSession builds a room session over stores.
func NewSession(roomID string, stores Stores, opts Options) *Session {
	return &Session{
		RoomID:   roomID,
		Polls:    polls.NewMachine(roomID, stores.Polls, opts.Policy),
		Presence: presence.NewRegistry(stores.Participants),
		Chat:     chat.NewRelay(stores.Chat, opts.ChatLimit, opts.ChatMaxLength),
	}
}

// Snapshot reads the whole room state into detached views.
func (s *Session) Snapshot(now time.Time) *Snapshot {
	snap := &Snapshot{
		Poll:         polls.ViewOf(s.Polls.Current(), now),
		Participants: s.Presence.Roster(),
		ChatMessages: s.Chat.Messages(),
	}
	if t := s.Presence.Teacher(); t != nil && t.Status == models.StatusConnected {
		v := t.View()
		snap.Teacher = &v
	}
	for _, p := range s.Polls.Store().History() {
		snap.History = append(snap.History, polls.ViewOf(p, now))
	}
	if snap.History == nil {
		snap.History = []*models.PollView{}
	}
	return snap
}
