package httpapi

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// limiterSet holds one token bucket per client IP, reclaimed lazily. The
// broadcastMessage and transport-facing endpoints are the ones a misbehaving
// bot-control client could hammer hardest, so the limiter sits in front of
// every route rather than a chosen few.
type limiterSet struct {
	mu       sync.Mutex
	perSec   rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newLimiterSet(perSec int, burst int) *limiterSet {
	if perSec <= 0 {
		perSec = 20
	}
	if burst <= 0 {
		burst = perSec * 2
	}
	return &limiterSet{
		perSec:   rate.Limit(perSec),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *limiterSet) forKey(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.perSec, l.burst)
		l.limiters[key] = lim
	}
	return lim
}

// middleware rejects a request with 429 once its client key's bucket is
// exhausted. Key defaults to the remote address; a reverse proxy deployment
// would instead key on a trusted forwarded-for header, left as a Non-goal
// here since the core never depends on request origin beyond local-caller
// checks.
func (l *limiterSet) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if !l.forKey(key).Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
