package middleware

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/livepoll/backend/pkg/response"
)

// RateLimiter keeps one token bucket per client key (the client IP for HTTP).
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimit
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

type clientLimit struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows requests per window for each key, all of them usable in a burst.
func NewRateLimiter(requests int, window time.Duration) *RateLimiter {
	if requests <= 0 {
		requests = 1
	}
	return &RateLimiter{
		clients: make(map[string]*clientLimit),
		limit:   rate.Every(window / time.Duration(requests)),
		burst:   requests,
		now:     time.Now,
	}
}

// Allow reports whether key may make one more request now.
func (rl *RateLimiter) Allow(key string) bool {
	_, ok := rl.reserve(key)
	return ok
}

// reserve takes a token for key. When none is left it returns how long until one is.
func (rl *RateLimiter) reserve(key string) (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cl, ok := rl.clients[key]
	if !ok {
		cl = &clientLimit{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[key] = cl
	}
	cl.lastSeen = now
	if cl.limiter.AllowN(now, 1) {
		return 0, true
	}
	r := cl.limiter.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return wait, false
}

// Cleanup drops keys idle for longer than idle.
func (rl *RateLimiter) Cleanup(idle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for key, cl := range rl.clients {
		if now.Sub(cl.lastSeen) > idle {
			delete(rl.clients, key)
		}
	}
}

// Len returns the number of tracked keys.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// RunCleanup calls Cleanup every interval until ctx is cancelled.
func (rl *RateLimiter) RunCleanup(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Cleanup(idle)
		}
	}
}

// RateLimit rejects requests over the per-IP budget with 429 and a Retry-After header.
func RateLimit(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		wait, ok := rl.reserve(c.ClientIP())
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			response.TooManyRequests(c, "too many requests from this IP, please try again later")
			c.Abort()
			return
		}
		c.Next()
	}
}
