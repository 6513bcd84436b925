package chat

import (
	"sync"

	"github.com/livepoll/backend/internal/models"
)

// ChatStore is a bounded, append-only message log.
type ChatStore interface {
	// Append adds msg and drops the oldest entries beyond limit.
	Append(msg models.ChatMessage, limit int)
	List() []models.ChatMessage
}

// MemoryStore is an in-process ChatStore.
type MemoryStore struct {
	mu       sync.RWMutex
	messages []models.ChatMessage
}

// NewMemoryStore creates an empty chat log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(msg models.ChatMessage, limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	if limit > 0 && len(s.messages) > limit {
		trimmed := make([]models.ChatMessage, limit)
		copy(trimmed, s.messages[len(s.messages)-limit:])
		s.messages = trimmed
	}
}

func (s *MemoryStore) List() []models.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}
