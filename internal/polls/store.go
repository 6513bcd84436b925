package polls

import (
	"sync"

	"github.com/livepoll/backend/internal/models"
)

// PollStore holds a room's current poll and its history of ended polls.
type PollStore interface {
	Current() *models.Poll
	SetCurrent(p *models.Poll)
	AppendHistory(p *models.Poll)
	History() []*models.Poll
	// Find returns the current or a historical poll by id, or nil.
	Find(id string) *models.Poll
}

// MemoryStore is an in-process PollStore.
type MemoryStore struct {
	mu      sync.RWMutex
	current *models.Poll
	history []*models.Poll
	byID    map[string]*models.Poll
}

// NewMemoryStore creates an empty in-memory poll store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*models.Poll)}
}

func (s *MemoryStore) Current() *models.Poll {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *MemoryStore) SetCurrent(p *models.Poll) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = p
	if p != nil {
		s.byID[p.ID] = p
	}
}

func (s *MemoryStore) AppendHistory(p *models.Poll) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, p)
	s.byID[p.ID] = p
}

func (s *MemoryStore) History() []*models.Poll {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Poll, len(s.history))
	copy(out, s.history)
	return out
}

func (s *MemoryStore) Find(id string) *models.Poll {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[id]
}
