// Package timer drives the countdown of the active poll.
package timer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval is the tick cadence.
const DefaultInterval = time.Second

// Sink receives countdown events. OnTick must not block; OnExpire may block until ctx is done.
type Sink interface {
	OnTick(pollID string, remaining int)
	OnExpire(ctx context.Context, pollID string)
}

// Scheduler runs at most one countdown at a time.
type Scheduler struct {
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	pollID string
}

// NewScheduler creates a scheduler ticking every interval. now supplies the clock that deadlines
// are measured against.
func NewScheduler(interval time.Duration, now func() time.Time, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{interval: interval, now: now, logger: logger}
}

// Arm starts a countdown for pollID ending at deadline, replacing any running countdown.
func (s *Scheduler) Arm(pollID string, deadline time.Time, sink Sink) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.gen++
	gen := s.gen
	s.cancel = cancel
	s.pollID = pollID
	s.mu.Unlock()

	go s.run(ctx, gen, pollID, deadline, sink)
	s.logger.Debug("countdown armed", zap.String("poll_id", pollID), zap.Time("deadline", deadline))
}

// Cancel stops the running countdown. Safe to call repeatedly; it never waits for the countdown
// goroutine.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.logger.Debug("countdown cancelled", zap.String("poll_id", s.pollID))
	s.cancel = nil
	s.pollID = ""
}

// Armed returns the poll id of the running countdown, or "".
func (s *Scheduler) Armed() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pollID
}

func (s *Scheduler) run(ctx context.Context, gen uint64, pollID string, deadline time.Time, sink Sink) {
	defer s.release(gen)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	wait := deadline.Sub(s.now())
	if wait < 0 {
		wait = 0
	}
	expiry := time.NewTimer(wait)
	defer expiry.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			left := Remaining(deadline, s.now())
			if left <= 0 {
				sink.OnExpire(ctx, pollID)
				return
			}
			sink.OnTick(pollID, left)
		case <-expiry.C:
			sink.OnExpire(ctx, pollID)
			return
		}
	}
}

func (s *Scheduler) release(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	s.pollID = ""
}

// Remaining returns whole seconds until deadline, rounded up, never negative.
func Remaining(deadline, now time.Time) int {
	left := deadline.Sub(now)
	if left <= 0 {
		return 0
	}
	return int((left + time.Second - 1) / time.Second)
}
