package session

import (
	"context"
	"regexp"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/livepoll/backend/pkg/apperr"
)

var (
	ErrInvalidRoom = apperr.New(apperr.KindValidation, "invalid_room", "room id must be 1-64 letters, digits, '-' or '_'")
	ErrRoomLimit   = apperr.New(apperr.KindConflict, "room_limit", "too many open rooms")
	validRoomID    = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// Factory builds the coordinator for a new room.
type Factory func(roomID string) *Coordinator

// Registry holds one running coordinator per room, created on first use (thread-safe).
type Registry struct {
	ctx      context.Context
	factory  Factory
	maxRooms int
	logger   *zap.Logger

	mu    sync.RWMutex
	rooms map[string]*Coordinator
	wg    sync.WaitGroup
}

// NewRegistry creates a room registry. Coordinators run until ctx is cancelled. maxRooms <= 0
// means no limit.
func NewRegistry(ctx context.Context, factory Factory, maxRooms int, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		ctx:      ctx,
		factory:  factory,
		maxRooms: maxRooms,
		logger:   logger,
		rooms:    make(map[string]*Coordinator),
	}
}

// Get returns the coordinator for roomID, starting it if needed.
func (r *Registry) Get(roomID string) (*Coordinator, error) {
	if !validRoomID.MatchString(roomID) {
		return nil, ErrInvalidRoom
	}
	r.mu.RLock()
	c := r.rooms[roomID]
	r.mu.RUnlock()
	if c != nil {
		return c, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c := r.rooms[roomID]; c != nil {
		return c, nil
	}
	if r.maxRooms > 0 && len(r.rooms) >= r.maxRooms {
		return nil, ErrRoomLimit
	}
	c = r.factory(roomID)
	r.rooms[roomID] = c
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		c.Run(r.ctx)
	}()
	r.logger.Info("room opened", zap.String("room_id", roomID))
	return c, nil
}

// Lookup returns the coordinator for roomID only if it is already running.
func (r *Registry) Lookup(roomID string) (*Coordinator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.rooms[roomID]
	return c, ok
}

// Rooms lists open room ids in order.
func (r *Registry) Rooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Wait blocks until every coordinator has stopped. Cancel the registry's context first.
func (r *Registry) Wait() {
	r.wg.Wait()
}
