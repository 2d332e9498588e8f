package app

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type RateLimiterConfig struct {
	// PerMinute is the sustained request rate per user. Zero disables limiting.
	PerMinute       int
	Burst           int
	CleanupInterval time.Duration
}

func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		PerMinute:       120,
		Burst:           60,
		CleanupInterval: 5 * time.Minute,
	}
}

type userLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter keeps one token bucket per authenticated user.
type RateLimiter struct {
	config RateLimiterConfig
	limit  rate.Limit
	log    zerolog.Logger

	mu       sync.RWMutex
	limiters map[string]*userLimiter

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewRateLimiter(config RateLimiterConfig, log zerolog.Logger) *RateLimiter {
	if config.Burst <= 0 {
		config.Burst = 1
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	rl := &RateLimiter{
		config:   config,
		limit:    rate.Limit(float64(config.PerMinute) / 60.0),
		log:      log,
		limiters: make(map[string]*userLimiter),
		stopCh:   make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Stop ends the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) Enabled() bool {
	return rl != nil && rl.config.PerMinute > 0
}

// Middleware must run after requireAuth.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		identity, ok := IdentityFrom(r.Context())
		if !ok {
			writeDomainError(w, errUnauthorized)
			return
		}
		if !rl.limiterFor(identity.UserID).Allow() {
			rl.log.Warn().Str("user_id", identity.UserID).Msg("rate limit exceeded")
			w.Header().Set("Retry-After", strconv.Itoa(rl.retryAfterSeconds()))
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// LimiterCount reports how many users currently have a bucket.
func (rl *RateLimiter) LimiterCount() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.limiters)
}

func (rl *RateLimiter) limiterFor(userID string) *rate.Limiter {
	rl.mu.RLock()
	ul, exists := rl.limiters[userID]
	rl.mu.RUnlock()

	if exists {
		rl.mu.Lock()
		ul.lastAccess = time.Now()
		rl.mu.Unlock()
		return ul.limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if ul, exists := rl.limiters[userID]; exists {
		ul.lastAccess = time.Now()
		return ul.limiter
	}
	limiter := rate.NewLimiter(rl.limit, rl.config.Burst)
	rl.limiters[userID] = &userLimiter{limiter: limiter, lastAccess: time.Now()}
	return limiter
}

// retryAfterSeconds is the time until one token is refilled.
func (rl *RateLimiter) retryAfterSeconds() int {
	return max(1, int(math.Ceil(1.0/float64(rl.limit))))
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

// cleanup drops buckets idle for more than twice the cleanup interval.
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
