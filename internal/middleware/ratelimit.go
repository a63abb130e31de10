package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimiterConfig configures a keyed token bucket limiter.
type RateLimiterConfig struct {
	RequestsPerSecond float64       // tokens added per second
	Burst             int           // bucket size
	CleanupInterval   time.Duration // how often idle keys are evicted
	IdleTimeout       time.Duration // idle time before a key is evicted
}

// RateLimiter keeps one token bucket per key, such as a driver or booking.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	config   RateLimiterConfig
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a RateLimiter. Idle keys are evicted until ctx is done.
func NewRateLimiter(ctx context.Context, conf RateLimiterConfig) *RateLimiter {
	if conf.RequestsPerSecond <= 0 {
		conf.RequestsPerSecond = 5
	}
	if conf.Burst <= 0 {
		conf.Burst = 10
	}
	if conf.CleanupInterval <= 0 {
		conf.CleanupInterval = time.Minute
	}
	if conf.IdleTimeout <= 0 {
		conf.IdleTimeout = 3 * time.Minute
	}

	l := &RateLimiter{
		visitors: make(map[string]*visitor),
		config:   conf,
	}
	go l.cleanupLoop(ctx)
	return l
}

func (l *RateLimiter) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(l.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.evictIdle(time.Now())
		}
	}
}

func (l *RateLimiter) evictIdle(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.config.IdleTimeout {
			delete(l.visitors, key)
		}
	}
}

// Allow reports whether a request for key may proceed now.
func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	v, exists := l.visitors[key]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond), l.config.Burst)}
		l.visitors[key] = v
	}
	v.lastSeen = time.Now()
	l.mu.Unlock()

	return v.limiter.Allow()
}

// Handler limits requests per key. Requests with an empty key pass.
func (l *RateLimiter) Handler(keyFn func(*gin.Context) string, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		key := keyFn(c)
		if key == "" || l.Allow(key) {
			c.Next()
			return
		}

		logger.Warn("rate limit exceeded",
			zap.String("key", key),
			zap.String("path", c.FullPath()),
		)
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
	}
}

// ParamKey keys requests by a route parameter.
func ParamKey(name string) func(*gin.Context) string {
	return func(c *gin.Context) string {
		return c.Param(name)
	}
}
