package httpapi

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"invoice-ingest/src/logger"
)

// idleClientTTL is how long an unused client bucket is kept.
const idleClientTTL = 10 * time.Minute

// pruneThreshold is the bucket count above which idle buckets are dropped.
const pruneThreshold = 1024

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiter keeps one token bucket per client. Each bucket holds
// perMinute tokens and refills at perMinute tokens a minute.
type clientLimiter struct {
	mu        sync.Mutex
	perMinute int
	clients   map[string]*clientBucket
	now       func() time.Time
}

func newClientLimiter(perMinute int) *clientLimiter {
	return &clientLimiter{
		perMinute: perMinute,
		clients:   make(map[string]*clientBucket),
		now:       time.Now,
	}
}

// allow takes a token for client. When none is left it reports how long
// until one will be.
func (l *clientLimiter) allow(client string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	bucket, ok := l.clients[client]
	if !ok {
		if len(l.clients) >= pruneThreshold {
			l.prune(now)
		}
		bucket = &clientBucket{
			limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMinute)), l.perMinute),
		}
		l.clients[client] = bucket
	}
	bucket.lastSeen = now

	r := bucket.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (l *clientLimiter) prune(now time.Time) {
	for client, bucket := range l.clients {
		if now.Sub(bucket.lastSeen) > idleClientTTL {
			delete(l.clients, client)
		}
	}
}

func (s *Server) throttle(c *gin.Context) {
	ok, wait := s.limiter.allow(c.ClientIP())
	if ok {
		c.Next()
		return
	}

	s.log.Warn("http_request_throttled",
		logger.F("client_ip", c.ClientIP()),
		logger.F("retry_after_ms", wait.Milliseconds()),
	)
	c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too Many Attempts."})
}
