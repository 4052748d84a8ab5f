package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

// Every chat exchange costs a completion call, so the limiter doubles as
// cost protection. Buckets are process-local; replicas limit independently.
// X-User-ID is caller-asserted, so a per-user limiter alone can be dodged by
// rotating the header; pair it with a KeyByIP limiter as a ceiling.

const defaultIdleTTL = 10 * time.Minute

var rateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: metricsNamespace,
	Name:      "http_rate_limited_total",
	Help:      "Requests rejected by the rate limiter, by caller kind.",
}, []string{"kind"})

// keyFunc selects the identity used to key a rate-limit bucket.
type keyFunc func(*gin.Context) string

// KeyByUserOrIP keys on the caller id stored by Identity and falls back to
// the client IP: "user:abc" or "ip:203.0.113.7".
func KeyByUserOrIP() keyFunc {
	return func(c *gin.Context) string {
		if uid := UserID(c); uid != "" {
			return "user:" + uid
		}
		return "ip:" + c.ClientIP()
	}
}

// KeyByIP keys on the client IP only: "ip:203.0.113.7".
func KeyByIP() keyFunc {
	return func(c *gin.Context) string { return "ip:" + c.ClientIP() }
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// RateLimiter is a per-caller token bucket. It is safe for concurrent use.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	key     keyFunc
	exempt  map[string]struct{}
	idleTTL time.Duration
	now     func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	nextSweep time.Time
}

// NewRateLimiter refills rps tokens per second up to burst (at least 1).
// Requests to the exempt paths are never limited.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc, exempt ...string) *RateLimiter {
	rl := &RateLimiter{
		limit:   rate.Limit(rps),
		burst:   max(burst, 1),
		key:     keyFn,
		exempt:  make(map[string]struct{}, len(exempt)),
		idleTTL: defaultIdleTTL,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
	for _, p := range exempt {
		rl.exempt[p] = struct{}{}
	}
	return rl
}

// limiterFor returns the bucket for key. Buckets idle for idleTTL are swept
// at most once per idleTTL.
func (rl *RateLimiter) limiterFor(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if !now.Before(rl.nextSweep) {
		for k, b := range rl.buckets {
			if now.Sub(b.seen) >= rl.idleTTL {
				delete(rl.buckets, k)
			}
		}
		rl.nextSweep = now.Add(rl.idleTTL)
	}

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.seen = now
	return b.lim
}

func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// Handler rejects callers over their budget with 429, the error envelope and
// a whole-second Retry-After.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := rl.exempt[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		now := rl.now()
		key := rl.key(c)
		res := rl.limiterFor(key, now).ReserveN(now, 1)
		if res.OK() && res.DelayFrom(now) == 0 {
			c.Next()
			return
		}

		wait := time.Second
		if res.OK() {
			wait = res.DelayFrom(now)
			// Give back the token the caller was refused.
			res.CancelAt(now)
		}
		kind, _, _ := strings.Cut(key, ":")
		rateLimited.WithLabelValues(kind).Inc()

		c.Header("Retry-After", retryAfter(wait))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       "rate_limited",
			"message":    "rate limit exceeded",
		})
	}
}

func retryAfter(d time.Duration) string {
	return strconv.Itoa(max(int(math.Ceil(d.Seconds())), 1))
}
