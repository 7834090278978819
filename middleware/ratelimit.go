package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	limiterSweepEvery = 5 * time.Minute
	limiterIdle       = 10 * time.Minute
)

// KeyFunc picks the bucket a request is charged to. An empty key skips limiting.
type KeyFunc func(c *gin.Context) string

// ByClientIP charges the client address.
func ByClientIP(c *gin.Context) string { return c.ClientIP() }

// ByPlayer charges the authenticated player, falling back to the client address.
func ByPlayer(c *gin.Context) string {
	if id := PlayerID(c); id != "" {
		return "player:" + id
	}
	return c.ClientIP()
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type limiterSet struct {
	mu        sync.Mutex
	r         rate.Limit
	b         int
	buckets   map[string]*bucket
	lastSweep time.Time
}

func (s *limiterSet) allow(key string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Sub(s.lastSweep) > limiterSweepEvery {
		for k, b := range s.buckets {
			if now.Sub(b.lastSeen) > limiterIdle {
				delete(s.buckets, k)
			}
		}
		s.lastSweep = now
	}
	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(s.r, s.b)}
		s.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// RateLimit is a token bucket per key: r requests per second with burst b.
// Idle buckets are dropped lazily.
func RateLimit(r rate.Limit, b int, key KeyFunc) gin.HandlerFunc {
	set := &limiterSet{r: r, b: b, buckets: make(map[string]*bucket), lastSweep: time.Now()}
	return func(c *gin.Context) {
		k := key(c)
		if k != "" && !set.allow(k, time.Now()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
