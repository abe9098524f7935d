package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sakif/propability/internal/auth"
	"github.com/sakif/propability/internal/metrics"
)

// RateLimiterConfig configures per-user limits on submission runs.
type RateLimiterConfig struct {
	Rate            rate.Limit    // tokens per second
	Burst           int           // bucket size
	CleanupInterval time.Duration // how often idle limiters are dropped
}

// DefaultRateLimiterConfig allows 10 submission runs per minute per user.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return PerMinute(10)
}

// PerMinute returns a config allowing n requests per minute with a burst of n.
func PerMinute(n int) RateLimiterConfig {
	if n <= 0 {
		n = 10
	}
	return RateLimiterConfig{
		Rate:            rate.Limit(float64(n) / 60.0),
		Burst:           n,
		CleanupInterval: 5 * time.Minute,
	}
}

type userLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter keeps one token bucket per user and drops buckets nobody has
// touched for two cleanup intervals.
type RateLimiter struct {
	config   RateLimiterConfig
	recorder metrics.Recorder
	logger   *slog.Logger

	mu       sync.Mutex
	limiters map[string]*userLimiter

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter starts the background cleanup loop. Call Stop to end it.
func NewRateLimiter(config RateLimiterConfig, recorder metrics.Recorder, logger *slog.Logger) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	rl := &RateLimiter{
		config:   config,
		recorder: recorder,
		logger:   logger,
		limiters: make(map[string]*userLimiter),
		stopCh:   make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Stop ends the cleanup loop. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Middleware limits the route per authenticated user. It must run after
// auth.RequireAuth. route labels the metric and the log line.
func (rl *RateLimiter) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := auth.UserIDFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			if !rl.limiterFor(userID).Allow() {
				rl.recorder.RecordRateLimited(route)
				rl.logger.Warn("rate limit exceeded",
					slog.String("userID", userID),
					slog.String("route", route),
				)
				writeRateLimitResponse(w, rl.config.Rate)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Len is the number of users currently tracked.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *RateLimiter) limiterFor(userID string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	ul, ok := rl.limiters[userID]
	if !ok {
		ul = &userLimiter{limiter: rate.NewLimiter(rl.config.Rate, rl.config.Burst)}
		rl.limiters[userID] = ul
	}
	ul.lastAccess = time.Now()
	return ul.limiter
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) cleanup(now time.Time) {
	ttl := rl.config.CleanupInterval * 2

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for userID, ul := range rl.limiters {
		if now.Sub(ul.lastAccess) > ttl {
			delete(rl.limiters, userID)
		}
	}
}

// writeRateLimitResponse writes a 429 whose Retry-After is the time until
// one token is refilled, rounded up to a whole second.
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfter := 1
	if r > 0 {
		retryAfter = max(int(math.Ceil(1.0/float64(r))), 1)
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   "rate_limited",
		"message": "Too many submissions. Please wait and try again.",
	})
}
