package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/pkg/utils"
)

type envelope struct {
	Success bool             `json:"success"`
	Data    IdentityResponse `json:"data"`
	Error   string           `json:"error"`
}

func issue(t *testing.T, h *Handler, body interface{}) (int, envelope) {
	t.Helper()
	return issueWithToken(t, h, body, "")
}

func issueWithToken(t *testing.T, h *Handler, body interface{}, token string) (int, envelope) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/identity", h.Issue)

	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/identity", bytes.NewReader(raw))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w.Code, env
}

func TestIssueStudentGeneratesID(t *testing.T) {
	svc := NewJWTService("secret", 1)
	code, env := issue(t, NewHandler(svc, "", nil), gin.H{"name": "  Ada ", "role": "student"})

	require.Equal(t, http.StatusCreated, code)
	assert.NotEmpty(t, env.Data.Identity.ID)
	assert.Equal(t, "Ada", env.Data.Identity.Name)
	assert.Equal(t, models.RoleStudent, env.Data.Identity.Role)

	claims, err := svc.Validate(env.Data.Token)
	require.NoError(t, err)
	assert.Equal(t, env.Data.Identity, claims.Identity())
}

func TestIssueRenewsIDWithItsToken(t *testing.T) {
	svc := NewJWTService("secret", 1)
	h := NewHandler(svc, "", nil)
	prior, err := svc.Generate(models.Identity{ID: "stu-7", Name: "Ada", Role: models.RoleStudent})
	require.NoError(t, err)

	code, env := issueWithToken(t, h, gin.H{"id": "stu-7", "name": "Ada L.", "role": "student"}, prior)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "stu-7", env.Data.Identity.ID)
	assert.Equal(t, "Ada L.", env.Data.Identity.Name)
}

func TestIssueRejectsClaimedID(t *testing.T) {
	svc := NewJWTService("secret", 1)
	h := NewHandler(svc, "", nil)

	code, env := issue(t, h, gin.H{"id": "teacher-1", "name": "Mallory", "role": "student"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.False(t, env.Success)

	other, err := svc.Generate(models.Identity{ID: "stu-8", Name: "Mallory", Role: models.RoleStudent})
	require.NoError(t, err)
	code, _ = issueWithToken(t, h, gin.H{"id": "teacher-1", "name": "Mallory", "role": "student"}, other)
	assert.Equal(t, http.StatusForbidden, code)

	forged, err := NewJWTService("other-secret", 1).Generate(models.Identity{ID: "teacher-1", Name: "Mallory", Role: models.RoleStudent})
	require.NoError(t, err)
	code, _ = issueWithToken(t, h, gin.H{"id": "teacher-1", "name": "Mallory", "role": "student"}, forged)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestIssueValidation(t *testing.T) {
	h := NewHandler(NewJWTService("secret", 1), "", nil)

	code, _ := issue(t, h, gin.H{"name": "   ", "role": "student"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = issue(t, h, gin.H{"name": "Ada", "role": "admin"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestIssueTeacherPasscode(t *testing.T) {
	hash, err := utils.HashSecret("letmein")
	require.NoError(t, err)
	h := NewHandler(NewJWTService("secret", 1), hash, nil)

	code, env := issue(t, h, gin.H{"name": "Grace", "role": "teacher", "passcode": "nope"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.False(t, env.Success)

	code, env = issue(t, h, gin.H{"name": "Grace", "role": "teacher", "passcode": "letmein"})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, models.RoleTeacher, env.Data.Identity.Role)
}
