package chat

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/pkg/apperr"
)

var (
	t0  = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	ann = models.Identity{ID: "s1", Name: "Ann", Role: models.RoleStudent}
)

func TestPost(t *testing.T) {
	r := NewRelay(NewMemoryStore(), 0, 0)
	msg, err := r.Post(ann, "  hello  ", false, t0)
	require.NoError(t, err)

	assert.Equal(t, int64(1), msg.ID)
	assert.Equal(t, "hello", msg.Text)
	assert.Equal(t, models.RoleStudent, msg.SenderRole)
	assert.Equal(t, []models.ChatMessage{msg}, r.Messages())
}

func TestPost_Rejects(t *testing.T) {
	r := NewRelay(NewMemoryStore(), 10, 5)

	_, err := r.Post(ann, "hi", true, t0)
	assert.True(t, errors.Is(err, ErrBarred))

	_, err = r.Post(ann, "   ", false, t0)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = r.Post(ann, "toolong", false, t0)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = r.Post(ann, "héllo", false, t0)
	assert.NoError(t, err, "length counts characters, not bytes")
	assert.Len(t, r.Messages(), 1)
}

func TestPost_TruncatesOldestFirst(t *testing.T) {
	r := NewRelay(NewMemoryStore(), 3, 0)
	for i := 1; i <= 5; i++ {
		_, err := r.Post(ann, fmt.Sprintf("m%d", i), false, t0)
		require.NoError(t, err)
	}
	msgs := r.Messages()
	require.Len(t, msgs, 3)
	var texts []string
	for i, m := range msgs {
		texts = append(texts, m.Text)
		assert.Equal(t, int64(i+3), m.ID)
	}
	assert.Equal(t, "m3,m4,m5", strings.Join(texts, ","))
}
