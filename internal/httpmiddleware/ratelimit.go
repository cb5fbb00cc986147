package httpmiddleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// staleAfter is how long an idle client's bucket survives before the sweep
// drops it. Faculty sessions are bursty (one reconciliation form per class),
// so idle entries dominate without pruning.
const staleAfter = 10 * time.Minute

// ClientLimiter throttles requests per client IP with a token bucket. State is
// in-process; each API instance enforces its own budget.
type ClientLimiter struct {
	perMinute int

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	tokens float64
	seen   time.Time
}

// NewClientLimiter creates a limiter allowing perMinute requests per client,
// with bursts up to the same size.
func NewClientLimiter(perMinute int) *ClientLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	return &ClientLimiter{
		perMinute: perMinute,
		buckets:   make(map[string]*bucket),
		lastSweep: time.Now(),
	}
}

// GinMiddleware rejects over-budget clients with 429.
func (l *ClientLimiter) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			ip = "unknown"
		}
		if !l.allow(ip, time.Now()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func (l *ClientLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > staleAfter {
		for k, b := range l.buckets {
			if now.Sub(b.seen) > staleAfter {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &bucket{tokens: float64(l.perMinute) - 1, seen: now}
		return true
	}

	refill := now.Sub(b.seen).Minutes() * float64(l.perMinute)
	b.tokens += refill
	if max := float64(l.perMinute); b.tokens > max {
		b.tokens = max
	}
	b.seen = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
