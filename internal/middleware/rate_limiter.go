package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// window counts hits of one key until end.
type window struct {
	count int
	end   time.Time
}

// Limiter is a fixed-window request counter keyed by an arbitrary string.
// Expired windows are dropped lazily, at most once per purgeEvery.
type Limiter struct {
	name       string
	limit      int
	period     time.Duration
	purgeEvery time.Duration
	now        func() time.Time

	mu        sync.Mutex
	windows   map[string]*window
	lastPurge time.Time
}

func NewLimiter(name string, limit int, period time.Duration) *Limiter {
	return &Limiter{
		name:       name,
		limit:      limit,
		period:     period,
		purgeEvery: 5 * time.Minute,
		now:        time.Now,
		windows:    map[string]*window{},
	}
}

// Allow records one hit for key and reports whether it is within the limit,
// together with the end of the current window.
func (l *Limiter) Allow(key string) (bool, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastPurge) >= l.purgeEvery {
		l.purge(now)
	}
	w, ok := l.windows[key]
	if !ok || now.After(w.end) {
		w = &window{end: now.Add(l.period)}
		l.windows[key] = w
	}
	w.count++
	return w.count <= l.limit, w.end
}

func (l *Limiter) purge(now time.Time) {
	purged := 0
	for key, w := range l.windows {
		if now.After(w.end) {
			delete(l.windows, key)
			purged++
		}
	}
	l.lastPurge = now
	if purged > 0 {
		log.Debug().Str("limiter", l.name).Int("purged", purged).Int("remaining", len(l.windows)).Msg("rate limiter purged")
	}
}

// Middleware rejects requests over the limit with 429. key picks the bucket.
func (l *Limiter) Middleware(key func(c *gin.Context) string, msg string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, end := l.Allow(key(c))
		if !ok {
			retry := int(time.Until(end).Seconds()) + 1
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": gin.H{"id": "TooManyRequests", "message": msg}})
			return
		}
		c.Next()
	}
}

// byIP buckets per client address.
func byIP(c *gin.Context) string { return c.ClientIP() }

// byIPAndRoute gives every login flow its own bucket per client.
func byIPAndRoute(c *gin.Context) string { return c.ClientIP() + " " + c.FullPath() }

// LoginRateLimiter limits login style calls (admin, customer pin, terminal
// registration, cashier tag login) per client and route.
func LoginRateLimiter(l *Limiter) gin.HandlerFunc {
	return l.Middleware(byIPAndRoute, "too many login attempts, retry later")
}

// RateLimiter limits all calls per client.
func RateLimiter(l *Limiter) gin.HandlerFunc {
	return l.Middleware(byIP, "too many requests")
}
