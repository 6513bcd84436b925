package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/livepoll/backend/internal/auth"
	"github.com/livepoll/backend/internal/middleware"
	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/internal/session"
	"github.com/livepoll/backend/pkg/response"
)

const (
	readLimit    = 65536
	writeTimeout = 10 * time.Second
	leaveTimeout = 5 * time.Second
)

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client represents a single WebSocket connection in a room.
type Client struct {
	ID       string
	RoomID   string
	Identity models.Identity
	hub      *Hub
	room     *session.Coordinator
	conn     *websocket.Conn
	send     chan WSMessage
	limiter  *rate.Limiter
	logger   *zap.Logger

	mu     sync.Mutex
	closed bool
	forced bool
}

// enqueue is called with the hub's read lock held.
func (c *Client) enqueue(msg WSMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		c.logger.Debug("client buffer full, dropping message", zap.String("event", msg.Event))
	}
}

// closeSend closes the send channel once. forced marks a removal by the server, which gets a
// policy close frame instead of a silent close.
func (c *Client) closeSend(forced bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.forced = forced
		close(c.send)
	}
}

func (c *Client) removedByServer() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.forced
}

// Config holds what ServeWs needs besides the hub.
type Config struct {
	Rooms       *session.Registry
	JWT         *auth.JWTService
	Origins     middleware.Origins
	DefaultRoom string

	// MessageRate is the sustained inbound frames per second per connection; 0 disables the limit.
	MessageRate  float64
	MessageBurst int
}

func (cfg Config) newLimiter() *rate.Limiter {
	if cfg.MessageRate <= 0 {
		return nil
	}
	burst := cfg.MessageBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.MessageRate), burst)
}

// ServeWs handles the WebSocket upgrade and runs the client loop. The identity comes from the
// token query parameter (or a bearer header) issued by POST /api/identity.
func ServeWs(hub *Hub, cfg Config, logger *zap.Logger) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return cfg.Origins.Allows(r.Header.Get("Origin"))
		},
	}
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			if h := c.GetHeader("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
				token = h[7:]
			}
		}
		if token == "" {
			response.Unauthorized(c, "token required")
			return
		}
		claims, err := cfg.JWT.Validate(token)
		if err != nil {
			response.Unauthorized(c, "invalid token")
			return
		}
		room, err := cfg.Rooms.Get(c.DefaultQuery("room", cfg.DefaultRoom))
		if err != nil {
			response.Error(c, err)
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:       uuid.New().String(),
			RoomID:   room.RoomID(),
			Identity: claims.Identity(),
			hub:      hub,
			room:     room,
			conn:     conn,
			send:     make(chan WSMessage, sendBuffer),
			limiter:  cfg.newLimiter(),
		}
		client.logger = logger.With(
			zap.String("conn_id", client.ID),
			zap.String("room_id", client.RoomID),
			zap.String("participant_id", client.Identity.ID))
		hub.Register(client)
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
		ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
		defer cancel()
		if err := c.room.Leave(ctx, c.Identity, c.ID); err != nil && !errors.Is(err, session.ErrStopped) {
			c.logger.Warn("disconnect not delivered", zap.Error(err))
		}
	}()

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				c.logger.Debug("read failed", zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		if c.limiter != nil && !c.limiter.Allow() {
			c.hub.Send(c.RoomID, c.ID, session.EventError, session.ErrorPayload{Code: "rate_limited", Message: "too many messages, slow down"})
			continue
		}
		ev, err := decodeEvent(msg, c.Identity, c.ID)
		if err != nil {
			c.hub.Send(c.RoomID, c.ID, session.EventError, session.NewErrorPayload(err))
			continue
		}
		if err := c.room.Submit(ev); err != nil {
			c.hub.Send(c.RoomID, c.ID, session.EventError, session.ErrorPayload{Code: "unavailable", Message: err.Error()})
			if errors.Is(err, session.ErrStopped) {
				return
			}
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				if c.removedByServer() {
					_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "removed"))
				}
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
