package auth

import (
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/pkg/response"
	"github.com/livepoll/backend/pkg/utils"
)

// MaxNameLength bounds display names.
const MaxNameLength = 64

// IdentityRequest is the body for POST /api/identity.
type IdentityRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name" binding:"required"`
	Role     string `json:"role" binding:"required"`
	Passcode string `json:"passcode"`
}

// IdentityResponse is the issued identity with its bearer token.
type IdentityResponse struct {
	Identity models.Identity `json:"identity"`
	Token    string          `json:"token"`
}

// Handler issues room identities.
type Handler struct {
	jwt          *JWTService
	passcodeHash string
	logger       *zap.Logger
}

// NewHandler creates an auth handler. An empty passcodeHash lets anyone claim the teacher role.
func NewHandler(jwt *JWTService, passcodeHash string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{jwt: jwt, passcodeHash: passcodeHash, logger: logger}
}

// Issue handles POST /api/identity.
func (h *Handler) Issue(c *gin.Context) {
	var req IdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" || utf8.RuneCountInString(name) > MaxNameLength {
		response.BadRequest(c, "name must be 1-64 characters")
		return
	}
	role := models.Role(req.Role)
	if !role.Valid() {
		response.BadRequest(c, "role must be teacher or student")
		return
	}
	if role == models.RoleTeacher && h.passcodeHash != "" && !utils.CheckSecret(req.Passcode, h.passcodeHash) {
		h.logger.Warn("teacher passcode rejected", zap.String("client_ip", c.ClientIP()))
		response.Unauthorized(c, "invalid teacher passcode")
		return
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.New().String()
	} else if !h.ownsID(c, id) {
		h.logger.Warn("identity renewal rejected", zap.String("participant_id", id), zap.String("client_ip", c.ClientIP()))
		response.Forbidden(c, "an existing id can only be renewed with its current token")
		return
	}
	identity := models.Identity{ID: id, Name: name, Role: role}
	token, err := h.jwt.Generate(identity)
	if err != nil {
		h.logger.Error("generate token", zap.Error(err))
		response.Internal(c, "failed to generate token")
		return
	}
	response.Created(c, IdentityResponse{Identity: identity, Token: token})
}

// ownsID reports whether the request carries a valid bearer token issued for id.
func (h *Handler) ownsID(c *gin.Context, id string) bool {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return false
	}
	claims, err := h.jwt.Validate(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		return false
	}
	return claims.ParticipantID == id
}
