package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livepoll/backend/internal/models"
)

func TestJWTRoundTrip(t *testing.T) {
	svc := NewJWTService("secret", 1)
	id := models.Identity{ID: "s1", Name: "Ada", Role: models.RoleStudent}

	token, err := svc.Generate(id)
	require.NoError(t, err)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, id, claims.Identity())
}

func TestJWTRejectsWrongSecret(t *testing.T) {
	token, err := NewJWTService("secret", 1).Generate(models.Identity{ID: "s1", Name: "Ada", Role: models.RoleStudent})
	require.NoError(t, err)

	_, err = NewJWTService("other", 1).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTRejectsExpired(t *testing.T) {
	svc := NewJWTService("secret", 1)
	token, err := svc.Generate(models.Identity{ID: "t1", Name: "Grace", Role: models.RoleTeacher})
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = svc.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTRejectsGarbage(t *testing.T) {
	_, err := NewJWTService("secret", 1).Validate("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
