package presence

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livepoll/backend/internal/models"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func student(id, name string) models.Identity {
	return models.Identity{ID: id, Name: name, Role: models.RoleStudent}
}

func teacher(id string) models.Identity {
	return models.Identity{ID: id, Name: "Teacher " + id, Role: models.RoleTeacher}
}

func rosterIDs(r *Registry) []string {
	var ids []string
	for _, p := range r.Roster() {
		ids = append(ids, p.ID)
	}
	return ids
}

func TestJoin_StudentAndReconnect(t *testing.T) {
	r := NewRegistry(NewMemoryStore())
	p, err := r.Join(student("s1", "Ann"), "conn-1", t0)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConnected, p.Status)

	_, changed := r.Leave("s1", "conn-1")
	require.True(t, changed)
	assert.Empty(t, rosterIDs(r))

	again, err := r.Join(student("s1", "Ann B."), "conn-2", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Same(t, p, again, "reconnect resumes the same participant")
	assert.Equal(t, "conn-2", again.ConnID)
	assert.Equal(t, t0, again.JoinedAt)
	assert.Equal(t, "Ann B.", again.Name)
	assert.Equal(t, []string{"s1"}, rosterIDs(r))
}

func TestLeave_StaleConnectionIgnored(t *testing.T) {
	r := NewRegistry(NewMemoryStore())
	_, _ = r.Join(student("s1", "Ann"), "conn-1", t0)
	_, _ = r.Join(student("s1", "Ann"), "conn-2", t0)

	_, changed := r.Leave("s1", "conn-1")
	assert.False(t, changed)
	assert.Equal(t, []string{"s1"}, rosterIDs(r))
}

func TestJoin_TeacherReplacesHandle(t *testing.T) {
	r := NewRegistry(NewMemoryStore())
	_, err := r.Join(teacher("t1"), "conn-a", t0)
	require.NoError(t, err)
	_, err = r.Join(teacher("t2"), "conn-b", t0)
	require.NoError(t, err)

	assert.Equal(t, "t2", r.TeacherID())
	assert.Equal(t, "conn-b", r.Teacher().ConnID)
	assert.Empty(t, rosterIDs(r), "teacher is not listed in the student roster")

	_, changed := r.Leave("t2", "conn-b")
	assert.True(t, changed)
	assert.Equal(t, "", r.TeacherID())
}

func TestJoin_Validation(t *testing.T) {
	r := NewRegistry(NewMemoryStore())
	_, err := r.Join(models.Identity{ID: "", Name: "x", Role: models.RoleStudent}, "c", t0)
	assert.Error(t, err)
	_, err = r.Join(models.Identity{ID: "s", Name: " ", Role: models.RoleStudent}, "c", t0)
	assert.Error(t, err)
	_, err = r.Join(models.Identity{ID: "s", Name: "x", Role: "admin"}, "c", t0)
	assert.True(t, errors.Is(err, ErrWrongRole))
}

func TestKick(t *testing.T) {
	r := NewRegistry(NewMemoryStore())
	_, _ = r.Join(teacher("t1"), "conn-t", t0)
	_, _ = r.Join(student("s1", "Ann"), "conn-1", t0)
	_, _ = r.Join(student("s2", "Bo"), "conn-2", t0.Add(time.Second))

	_, err := r.Kick(student("s2", "Bo"), "s1")
	assert.True(t, errors.Is(err, ErrNotTeacher))

	_, err = r.Kick(teacher("t1"), "nobody")
	assert.True(t, errors.Is(err, ErrParticipantUnknown))

	p, err := r.Kick(teacher("t1"), "s1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusKicked, p.Status)
	assert.True(t, r.IsBarred("s1"))
	assert.Equal(t, []string{"s2"}, rosterIDs(r))

	_, err = r.Kick(teacher("t1"), "s1")
	assert.True(t, errors.Is(err, ErrAlreadyKicked))

	_, err = r.Join(student("s1", "Ann"), "conn-3", t0)
	assert.True(t, errors.Is(err, ErrBarred))

	_, changed := r.Leave("s1", "conn-1")
	assert.False(t, changed, "kicked participant stays kicked after its socket closes")
}

func TestKick_RequiresConnectedTeacher(t *testing.T) {
	r := NewRegistry(NewMemoryStore())
	_, _ = r.Join(teacher("t1"), "conn-t", t0)
	_, _ = r.Join(student("s1", "Ann"), "conn-1", t0)
	r.Leave("t1", "conn-t")

	_, err := r.Kick(teacher("t1"), "s1")
	assert.True(t, errors.Is(err, ErrNotTeacher))
}

func TestKick_TeacherIDWithStudentRole(t *testing.T) {
	r := NewRegistry(NewMemoryStore())
	_, _ = r.Join(teacher("t1"), "conn-t", t0)
	_, _ = r.Join(student("s1", "Ann"), "conn-1", t0)

	_, err := r.Kick(student("t1", "Mallory"), "s1")
	assert.True(t, errors.Is(err, ErrNotTeacher))
	assert.False(t, r.IsBarred("s1"))
	assert.Equal(t, []string{"s1"}, rosterIDs(r))
}

func TestJoin_StudentCannotTakeTeacherID(t *testing.T) {
	r := NewRegistry(NewMemoryStore())
	_, _ = r.Join(teacher("t1"), "conn-t", t0)

	_, err := r.Join(student("t1", "Mallory"), "conn-x", t0)
	assert.True(t, errors.Is(err, ErrIDTaken))
	_, ok := r.Get("t1")
	assert.False(t, ok)

	r.Leave("t1", "conn-t")
	_, err = r.Join(student("t1", "Mallory"), "conn-x", t0)
	assert.True(t, errors.Is(err, ErrIDTaken), "a disconnected teacher keeps its id")

	_, err = r.Join(teacher("t1"), "conn-t2", t0)
	require.NoError(t, err)
	assert.Equal(t, "t1", r.TeacherID())
}
