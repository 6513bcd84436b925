package presence

import (
	"sync"

	"github.com/livepoll/backend/internal/models"
)

// ParticipantStore holds participant entries and the barred set of one room.
type ParticipantStore interface {
	Get(id string) (*models.Participant, bool)
	Put(p *models.Participant)
	List() []*models.Participant
	Bar(id string)
	Barred(id string) bool
}

// MemoryStore is an in-process ParticipantStore.
type MemoryStore struct {
	mu           sync.RWMutex
	participants map[string]*models.Participant
	barred       map[string]struct{}
}

// NewMemoryStore creates an empty in-memory participant store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		participants: make(map[string]*models.Participant),
		barred:       make(map[string]struct{}),
	}
}

func (s *MemoryStore) Get(id string) (*models.Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[id]
	return p, ok
}

func (s *MemoryStore) Put(p *models.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[p.ID] = p
}

func (s *MemoryStore) List() []*models.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, p)
	}
	return out
}

func (s *MemoryStore) Bar(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.barred[id] = struct{}{}
}

func (s *MemoryStore) Barred(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.barred[id]
	return ok
}
