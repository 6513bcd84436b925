package polls

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/pkg/apperr"
)

var (
	t0      = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	teacher = models.Identity{ID: "teacher-1", Name: "Ms. Rivera", Role: models.RoleTeacher}
)

func intPtr(i int) *int { return &i }

func newMachine() *Machine {
	return NewMachine("room-1", NewMemoryStore(), DefaultPolicy())
}

func planetInput() CreateInput {
	return CreateInput{
		Question:      "Which planet is known as the Red Planet?",
		Options:       []string{"Mars", "Venus", "Jupiter", "Saturn"},
		Duration:      60,
		CorrectAnswer: intPtr(0),
	}
}

func TestCreate_Draft(t *testing.T) {
	m := newMachine()
	p, err := m.Create(planetInput(), teacher, t0)
	require.NoError(t, err)

	assert.Equal(t, models.PollDraft, p.State)
	assert.Equal(t, "room-1", p.RoomID)
	assert.Equal(t, 60, p.DurationSeconds)
	assert.Equal(t, []int{0, 0, 0, 0}, p.Tally)
	assert.Equal(t, teacher.ID, p.TeacherID)
	assert.Same(t, p, m.Current())
}

func TestCreate_Validation(t *testing.T) {
	cases := []struct {
		name string
		in   CreateInput
	}{
		{"empty question", CreateInput{Question: "  ", Options: []string{"a", "b"}}},
		{"one option", CreateInput{Question: "q", Options: []string{"a"}}},
		{"blank options dropped below two", CreateInput{Question: "q", Options: []string{"a", " ", ""}}},
		{"duplicates", CreateInput{Question: "q", Options: []string{"a", " a "}}},
		{"too many options", CreateInput{Question: "q", Options: []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := newMachine()
			_, err := m.Create(tc.in, teacher, t0)
			require.Error(t, err)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
			assert.Nil(t, m.Current())
		})
	}
}

func TestCreate_ClampsDurationAndCorrectAnswer(t *testing.T) {
	m := newMachine()

	p, err := m.Create(CreateInput{Question: "q", Options: []string{"a", "b"}, Duration: 5, CorrectAnswer: intPtr(9)}, teacher, t0)
	require.NoError(t, err)
	assert.Equal(t, 10, p.DurationSeconds)
	require.NotNil(t, p.CorrectAnswer)
	assert.Equal(t, 1, *p.CorrectAnswer)

	p, err = m.Create(CreateInput{Question: "q", Options: []string{"a", "b"}, Duration: 900, CorrectAnswer: intPtr(-3)}, teacher, t0)
	require.NoError(t, err)
	assert.Equal(t, 300, p.DurationSeconds)
	assert.Equal(t, 0, *p.CorrectAnswer)

	p, err = m.Create(CreateInput{Question: "q", Options: []string{"a", "b"}}, teacher, t0)
	require.NoError(t, err)
	assert.Equal(t, 60, p.DurationSeconds)
	assert.Nil(t, p.CorrectAnswer)
}

func TestCreate_WhileActiveConflicts(t *testing.T) {
	m := newMachine()
	p, err := m.Create(planetInput(), teacher, t0)
	require.NoError(t, err)
	_, err = m.Start(p.ID, teacher.ID, "", t0)
	require.NoError(t, err)

	_, err = m.Create(CreateInput{Question: "other", Options: []string{"x", "y"}}, teacher, t0)
	require.True(t, errors.Is(err, ErrPollActive))
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Same(t, p, m.Current())
	assert.Equal(t, models.PollActive, p.State)
}

func TestCreate_ArchivesEndedPollOnce(t *testing.T) {
	m := newMachine()
	p, _ := m.Create(planetInput(), teacher, t0)
	_, _ = m.Start(p.ID, teacher.ID, "", t0)
	_, err := m.End(models.EndReasonTeacher, t0.Add(5*time.Second))
	require.NoError(t, err)
	require.Len(t, m.Store().History(), 1)

	_, err = m.Create(CreateInput{Question: "next", Options: []string{"x", "y"}}, teacher, t0)
	require.NoError(t, err)
	assert.Len(t, m.Store().History(), 1)
}

func TestCreate_DiscardsUnstartedDraft(t *testing.T) {
	m := newMachine()
	first, _ := m.Create(planetInput(), teacher, t0)
	second, err := m.Create(CreateInput{Question: "next", Options: []string{"x", "y"}}, teacher, t0)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Empty(t, m.Store().History())
}

func TestStart_Errors(t *testing.T) {
	m := newMachine()
	_, err := m.Start("", teacher.ID, "", t0)
	assert.True(t, errors.Is(err, ErrNoPoll))

	p, _ := m.Create(planetInput(), teacher, t0)

	_, err = m.Start("other-id", teacher.ID, "", t0)
	assert.True(t, errors.Is(err, ErrPollNotFound))

	_, err = m.Start(p.ID, "student-1", "", t0)
	assert.True(t, errors.Is(err, ErrNotTeacher))
	assert.Equal(t, models.PollDraft, p.State)

	_, err = m.Start(p.ID, "teacher-2", "teacher-2", t0)
	require.NoError(t, err, "connected teacher handle is recognized")

	_, err = m.Start(p.ID, teacher.ID, "", t0)
	assert.True(t, errors.Is(err, ErrNotDraft))
}

func TestStart_SetsDeadline(t *testing.T) {
	m := newMachine()
	p, _ := m.Create(planetInput(), teacher, t0)
	_, err := m.Start(p.ID, teacher.ID, "", t0)
	require.NoError(t, err)

	require.NotNil(t, p.StartedAt)
	assert.Equal(t, t0, *p.StartedAt)
	assert.Equal(t, t0.Add(60*time.Second), p.Deadline)
	assert.Equal(t, 60, Remaining(p, t0))
	assert.Equal(t, 30, Remaining(p, t0.Add(30*time.Second)))
	assert.Equal(t, 1, Remaining(p, t0.Add(59500*time.Millisecond)))
	assert.Equal(t, 0, Remaining(p, t0.Add(61*time.Second)))
}

func TestEnd_StartOnEndedConflicts(t *testing.T) {
	m := newMachine()
	p, _ := m.Create(planetInput(), teacher, t0)
	_, _ = m.Start(p.ID, teacher.ID, "", t0)
	_, err := m.EndByTeacher(p.ID, teacher.ID, "", t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, models.EndReasonTeacher, p.EndReason)

	_, err = m.Start(p.ID, teacher.ID, "", t0)
	assert.True(t, errors.Is(err, ErrNotDraft))
	_, err = m.End(models.EndReasonTeacher, t0)
	assert.True(t, errors.Is(err, ErrNotActive))
}

func TestEndByTeacher_RejectsStudent(t *testing.T) {
	m := newMachine()
	p, _ := m.Create(planetInput(), teacher, t0)
	_, _ = m.Start(p.ID, teacher.ID, "", t0)

	_, err := m.EndByTeacher(p.ID, "student-1", "", t0)
	assert.True(t, errors.Is(err, ErrNotTeacher))
	assert.Equal(t, models.PollActive, p.State)
}

func TestExpire_ExactlyOnce(t *testing.T) {
	m := newMachine()
	p, _ := m.Create(planetInput(), teacher, t0)
	_, _ = m.Start(p.ID, teacher.ID, "", t0)

	ended, ok := m.Expire(p.ID, t0.Add(60*time.Second))
	require.True(t, ok)
	assert.Equal(t, models.EndReasonExpired, ended.EndReason)

	_, ok = m.Expire(p.ID, t0.Add(61*time.Second))
	assert.False(t, ok)
	_, ok = m.Expire("stale-poll", t0)
	assert.False(t, ok)
	assert.Len(t, m.Store().History(), 1)
}
