package session

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/livepoll/backend/internal/middleware"
	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/internal/polls"
	"github.com/livepoll/backend/pkg/response"
)

const requestTimeout = 5 * time.Second

// CreatePollRequest is the body for POST /api/poll/create.
type CreatePollRequest struct {
	Question      string   `json:"question" binding:"required"`
	Options       []string `json:"options" binding:"required"`
	Duration      int      `json:"duration"`
	CorrectAnswer *int     `json:"correctAnswer"`
	TeacherID     string   `json:"teacherId"`
	TeacherName   string   `json:"teacherName"`
}

// SubmitRequest is the body for POST /api/poll/:id/response.
type SubmitRequest struct {
	OptionIndex    *int   `json:"optionIndex"`
	SelectedOption string `json:"selectedOption"`
}

// Handler exposes room state over REST. Every call goes through the room's coordinator.
type Handler struct {
	rooms       *Registry
	defaultRoom string
	logger      *zap.Logger
}

// NewHandler creates a session handler.
func NewHandler(rooms *Registry, defaultRoom string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{rooms: rooms, defaultRoom: defaultRoom, logger: logger}
}

// request resolves the room from ?room= and runs ev on its coordinator. On failure the error
// response has already been written.
func (h *Handler) request(c *gin.Context, ev Event) (Result, bool) {
	roomID := c.DefaultQuery("room", h.defaultRoom)
	coord, err := h.rooms.Get(roomID)
	if err != nil {
		response.Error(c, err)
		return Result{}, false
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	res, err := coord.Request(ctx, ev)
	switch {
	case errors.Is(err, ErrBusy), errors.Is(err, ErrStopped), errors.Is(err, context.DeadlineExceeded):
		response.ServiceUnavailable(c, err.Error())
		return Result{}, false
	case err != nil:
		h.logger.Error("room request failed", zap.String("room_id", roomID), zap.Error(err))
		response.Internal(c, "internal server error")
		return Result{}, false
	case res.Err != nil:
		response.Error(c, res.Err)
		return Result{}, false
	}
	return res, true
}

func (h *Handler) identity(c *gin.Context) (models.Identity, bool) {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Unauthorized(c, "missing identity")
	}
	return id, ok
}

// GetCurrent handles GET /api/poll/current.
func (h *Handler) GetCurrent(c *gin.Context) {
	res, ok := h.request(c, &RequestSnapshot{})
	if !ok {
		return
	}
	snap := res.Snapshot
	response.OK(c, gin.H{
		"poll":         snap.Poll,
		"participants": snap.Participants,
		"chatMessages": snap.ChatMessages,
		"teacher":      snap.Teacher,
	})
}

// CreatePoll handles POST /api/poll/create (teacher).
func (h *Handler) CreatePoll(c *gin.Context) {
	actor, ok := h.identity(c)
	if !ok {
		return
	}
	var req CreatePollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if req.TeacherID != "" && req.TeacherID != actor.ID {
		response.Forbidden(c, "teacherId does not match the authenticated identity")
		return
	}
	if req.TeacherName != "" {
		actor.Name = req.TeacherName
	}
	res, ok := h.request(c, &CreatePoll{
		Actor: actor,
		Input: polls.CreateInput{
			Question:      req.Question,
			Options:       req.Options,
			Duration:      req.Duration,
			CorrectAnswer: req.CorrectAnswer,
		},
	})
	if !ok {
		return
	}
	response.Created(c, gin.H{"poll": res.Poll})
}

// StartPoll handles POST /api/poll/:id/start (teacher).
func (h *Handler) StartPoll(c *gin.Context) {
	actor, ok := h.identity(c)
	if !ok {
		return
	}
	res, ok := h.request(c, &StartPoll{Actor: actor, PollID: c.Param("id")})
	if !ok {
		return
	}
	response.OK(c, gin.H{"poll": res.Poll})
}

// EndPoll handles POST /api/poll/:id/end (teacher).
func (h *Handler) EndPoll(c *gin.Context) {
	actor, ok := h.identity(c)
	if !ok {
		return
	}
	res, ok := h.request(c, &EndPoll{Actor: actor, PollID: c.Param("id")})
	if !ok {
		return
	}
	response.OK(c, gin.H{"poll": res.Poll, "results": res.Results})
}

// SubmitResponse handles POST /api/poll/:id/response.
func (h *Handler) SubmitResponse(c *gin.Context) {
	actor, ok := h.identity(c)
	if !ok {
		return
	}
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	res, ok := h.request(c, &SubmitResponse{
		Actor:          actor,
		PollID:         c.Param("id"),
		OptionIndex:    req.OptionIndex,
		SelectedOption: req.SelectedOption,
	})
	if !ok {
		return
	}
	response.OK(c, gin.H{"results": res.Results, "totalResponses": len(res.Poll.Responses)})
}

// GetResults handles GET /api/poll/:id/results for the current poll or one in history.
func (h *Handler) GetResults(c *gin.Context) {
	res, ok := h.request(c, &RequestSnapshot{})
	if !ok {
		return
	}
	id := c.Param("id")
	if p := res.Snapshot.Poll; p != nil && p.ID == id {
		response.OK(c, gin.H{"poll": p})
		return
	}
	for _, p := range res.Snapshot.History {
		if p.ID == id {
			response.OK(c, gin.H{"poll": p})
			return
		}
	}
	response.Error(c, polls.ErrPollNotFound)
}

// History handles GET /api/polls/history.
func (h *Handler) History(c *gin.Context) {
	res, ok := h.request(c, &RequestSnapshot{})
	if !ok {
		return
	}
	response.OK(c, gin.H{"polls": res.Snapshot.History})
}

// ChatMessages handles GET /api/chat/messages.
func (h *Handler) ChatMessages(c *gin.Context) {
	res, ok := h.request(c, &RequestSnapshot{})
	if !ok {
		return
	}
	response.OK(c, gin.H{"messages": res.Snapshot.ChatMessages})
}

// Register mounts the room routes. public needs no identity; authed must run middleware.JWT.
func (h *Handler) Register(public, authed gin.IRoutes) {
	public.GET("/poll/current", h.GetCurrent)
	public.GET("/poll/:id/results", h.GetResults)
	public.GET("/polls/history", h.History)
	public.GET("/chat/messages", h.ChatMessages)

	teacher := middleware.RequireRole(models.RoleTeacher)
	authed.POST("/poll/create", teacher, h.CreatePoll)
	authed.POST("/poll/:id/start", teacher, h.StartPoll)
	authed.POST("/poll/:id/end", teacher, h.EndPoll)
	authed.POST("/poll/:id/response", h.SubmitResponse)
}
