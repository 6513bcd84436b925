// Package chat implements the room chat relay.
package chat

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/pkg/apperr"
)

const (
	DefaultHistoryLimit = 100
	DefaultMaxLength    = 500
)

var ErrBarred = apperr.New(apperr.KindForbidden, "barred", "you have been removed from this session")

// Relay appends messages to a bounded log. Not safe for concurrent use.
type Relay struct {
	store     ChatStore
	limit     int
	maxLength int
	nextID    int64
}

// NewRelay creates a relay keeping the last limit messages of at most maxLength characters.
func NewRelay(store ChatStore, limit, maxLength int) *Relay {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &Relay{store: store, limit: limit, maxLength: maxLength}
}

// Post validates and appends a message. barred is the presence verdict for the sender.
func (r *Relay) Post(sender models.Identity, text string, barred bool, now time.Time) (models.ChatMessage, error) {
	if barred {
		return models.ChatMessage{}, ErrBarred
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return models.ChatMessage{}, apperr.Validation("message is empty")
	}
	if utf8.RuneCountInString(text) > r.maxLength {
		return models.ChatMessage{}, apperr.Validation("message exceeds %d characters", r.maxLength)
	}
	r.nextID++
	msg := models.ChatMessage{
		ID:         r.nextID,
		SenderID:   sender.ID,
		SenderName: sender.Name,
		SenderRole: sender.Role,
		Text:       text,
		Timestamp:  now,
	}
	r.store.Append(msg, r.limit)
	return msg, nil
}

// Messages returns the retained log, oldest first.
func (r *Relay) Messages() []models.ChatMessage {
	return r.store.List()
}
