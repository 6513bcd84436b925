package archive

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/pkg/response"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Reader is the archive database as the API reads it.
type Reader interface {
	ListPolls(ctx context.Context, roomID string, limit int) ([]models.ArchivedPoll, error)
	GetPoll(ctx context.Context, pollID string) (*models.ArchivedPoll, error)
	ListAttendance(ctx context.Context, roomID string, since time.Time, limit int) ([]models.PresenceRecord, error)
}

// Presigner signs download links for exports.
type Presigner interface {
	PresignDownload(ctx context.Context, key string) (string, error)
	PresignExpire() time.Duration
}

// Handler serves the archive endpoints. Either dependency may be nil when not configured.
type Handler struct {
	reader      Reader
	presigner   Presigner
	defaultRoom string
	logger      *zap.Logger
}

// NewHandler creates an archive handler.
func NewHandler(reader Reader, presigner Presigner, defaultRoom string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{reader: reader, presigner: presigner, defaultRoom: defaultRoom, logger: logger}
}

func (h *Handler) available(c *gin.Context) bool {
	if h.reader == nil {
		response.ServiceUnavailable(c, "poll archive is not configured")
		return false
	}
	return true
}

func limitParam(c *gin.Context) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

// List handles GET /api/polls/archive.
func (h *Handler) List(c *gin.Context) {
	if !h.available(c) {
		return
	}
	roomID := c.DefaultQuery("room", h.defaultRoom)
	list, err := h.reader.ListPolls(c.Request.Context(), roomID, limitParam(c))
	if err != nil {
		h.logger.Error("list archived polls", zap.String("room_id", roomID), zap.Error(err))
		response.Internal(c, "failed to list archived polls")
		return
	}
	response.OK(c, gin.H{"polls": list})
}

// Download handles GET /api/polls/archive/:id/download.
func (h *Handler) Download(c *gin.Context) {
	if !h.available(c) {
		return
	}
	if h.presigner == nil {
		response.ServiceUnavailable(c, "poll export storage is not configured")
		return
	}
	a, err := h.reader.GetPoll(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if a.ExportKey == nil || *a.ExportKey == "" {
		response.NotFound(c, "poll export is not ready yet")
		return
	}
	url, err := h.presigner.PresignDownload(c.Request.Context(), *a.ExportKey)
	if err != nil {
		h.logger.Error("presign export", zap.String("poll_id", a.ID), zap.Error(err))
		response.Internal(c, "failed to sign download url")
		return
	}
	response.OK(c, gin.H{"url": url, "expires_in": int(h.presigner.PresignExpire().Seconds())})
}

// Attendance handles GET /api/attendance (teacher). ?since= takes RFC 3339.
func (h *Handler) Attendance(c *gin.Context) {
	if !h.available(c) {
		return
	}
	var since time.Time
	if s := c.Query("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			response.BadRequest(c, "since must be RFC 3339")
			return
		}
		since = t
	}
	roomID := c.DefaultQuery("room", h.defaultRoom)
	list, err := h.reader.ListAttendance(c.Request.Context(), roomID, since, limitParam(c))
	if err != nil {
		h.logger.Error("list attendance", zap.String("room_id", roomID), zap.Error(err))
		response.Internal(c, "failed to list attendance")
		return
	}
	response.OK(c, gin.H{"attendance": list})
}
