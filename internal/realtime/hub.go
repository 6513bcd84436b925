package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60

	sendBuffer   = 256
	mirrorBuffer = 1024
)

// Mirror receives a copy of every room broadcast (e.g. Redis pub/sub for dashboards).
type Mirror interface {
	PublishRoomEvent(ctx context.Context, roomID, event string, data []byte) error
}

type mirrored struct {
	roomID string
	event  string
	data   []byte
}

// Hub maintains room_id -> set of connections and delivers coordinator notifications.
// Every send is non-blocking; a client whose buffer is full misses the message.
type Hub struct {
	// roomID -> map[connID]*Client
	rooms  map[string]map[string]*Client
	mu     sync.RWMutex
	logger *zap.Logger

	mirror  Mirror
	mirrorQ chan mirrored
	dropped atomic.Int64
}

// NewHub creates a new WebSocket hub. mirror may be nil.
func NewHub(logger *zap.Logger, mirror Mirror) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		rooms:  make(map[string]map[string]*Client),
		logger: logger,
		mirror: mirror,
	}
	if mirror != nil {
		h.mirrorQ = make(chan mirrored, mirrorBuffer)
	}
	return h
}

// Register adds a client to its room.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.rooms[c.RoomID] == nil {
		h.rooms[c.RoomID] = make(map[string]*Client)
	}
	h.rooms[c.RoomID][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client joined room", zap.String("conn_id", c.ID), zap.String("room_id", c.RoomID))
}

// Unregister removes a client from its room and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	h.removeLocked(c.RoomID, c.ID, false)
	h.mu.Unlock()
	h.logger.Debug("client left room", zap.String("conn_id", c.ID), zap.String("room_id", c.RoomID))
}

// Disconnect forces a connection out of the room. Messages already queued are still written
// before the socket is closed.
func (h *Hub) Disconnect(roomID, connID string) {
	h.mu.Lock()
	removed := h.removeLocked(roomID, connID, true)
	h.mu.Unlock()
	if removed {
		h.logger.Info("client disconnected by server", zap.String("conn_id", connID), zap.String("room_id", roomID))
	}
}

func (h *Hub) removeLocked(roomID, connID string, forced bool) bool {
	m, ok := h.rooms[roomID]
	if !ok {
		return false
	}
	c, ok := m[connID]
	if !ok {
		return false
	}
	delete(m, connID)
	if len(m) == 0 {
		delete(h.rooms, roomID)
	}
	c.closeSend(forced)
	return true
}

// Broadcast sends an event to every client in a room and mirrors it.
func (h *Hub) Broadcast(roomID, event string, payload interface{}) {
	data, err := encode(payload)
	if err != nil {
		h.logger.Error("encode broadcast", zap.String("event", event), zap.Error(err))
		return
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	for _, c := range h.rooms[roomID] {
		c.enqueue(msg)
	}
	h.mu.RUnlock()

	h.publish(roomID, event, data)
}

// Send delivers an event to one connection.
func (h *Hub) Send(roomID, connID, event string, payload interface{}) {
	data, err := encode(payload)
	if err != nil {
		h.logger.Error("encode message", zap.String("event", event), zap.Error(err))
		return
	}
	h.mu.RLock()
	if c, ok := h.rooms[roomID][connID]; ok {
		c.enqueue(WSMessage{Event: event, Data: data})
	}
	h.mu.RUnlock()
}

// Count returns the number of open connections in a room.
func (h *Hub) Count(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

func (h *Hub) publish(roomID, event string, data []byte) {
	if h.mirrorQ == nil {
		return
	}
	select {
	case h.mirrorQ <- mirrored{roomID: roomID, event: event, data: data}:
	default:
		if n := h.dropped.Add(1); n%100 == 1 {
			h.logger.Warn("mirror queue full, dropping events", zap.Int64("dropped", n))
		}
	}
}

// RunMirror forwards broadcasts to the mirror until ctx is cancelled. No-op without a mirror.
func (h *Hub) RunMirror(ctx context.Context) {
	if h.mirrorQ == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-h.mirrorQ:
			pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := h.mirror.PublishRoomEvent(pctx, m.roomID, m.event, m.data); err != nil {
				h.logger.Warn("mirror publish failed", zap.String("room_id", m.roomID), zap.String("event", m.event), zap.Error(err))
			}
			cancel()
		}
	}
}

func encode(payload interface{}) (json.RawMessage, error) {
	switch v := payload.(type) {
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(payload)
	}
}
