package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// defaultIdle is how long a caller's bucket survives without traffic.
const defaultIdle = 10 * time.Minute

// KeyFunc maps a request to the caller whose bucket it draws from.
type KeyFunc func(*gin.Context) string

// KeyByUserOrIP keys buckets by the authenticated user id and falls back to
// the client IP. The X-User-ID header is not trusted here, so rotating it
// cannot mint fresh buckets.
func KeyByUserOrIP() KeyFunc {
	return func(c *gin.Context) string {
		if v, ok := c.Get("userID"); ok {
			if s, ok := v.(string); ok && s != "" {
				return "user:" + s
			}
		}
		return "ip:" + c.ClientIP()
	}
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// RateLimiter throttles the public API with one token bucket per caller.
// Prefixes passed to Exempt are never limited, and replays flagged by
// IdempotencyValidator pass without spending a token. Idle buckets are
// dropped at most once per idle window. Safe for concurrent use.
//
// Limits are process-local.
type RateLimiter struct {
	limit  rate.Limit
	burst  int
	key    KeyFunc
	clk    clock.Clock
	idle   time.Duration
	exempt []string

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

// NewRateLimiter refills rps tokens per second up to burst (at least 1).
func NewRateLimiter(rps float64, burst int, key KeyFunc) *RateLimiter {
	return newRateLimiter(rps, burst, key, clock.New())
}

func newRateLimiter(rps float64, burst int, key KeyFunc, clk clock.Clock) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limit:     rate.Limit(rps),
		burst:     burst,
		key:       key,
		clk:       clk,
		idle:      defaultIdle,
		buckets:   make(map[string]*bucket),
		lastSweep: clk.Now(),
	}
}

// Exempt skips limiting for paths starting with any of prefixes. The router
// exempts provider webhooks, whose retries must never meet a 429.
func (rl *RateLimiter) Exempt(prefixes ...string) *RateLimiter {
	for _, p := range prefixes {
		if p != "" {
			rl.exempt = append(rl.exempt, p)
		}
	}
	return rl
}

func (rl *RateLimiter) exempted(path string) bool {
	for _, p := range rl.exempt {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// bucketFor returns key's limiter. The idle sweep runs before the lookup so
// an expired bucket is replaced, not revived.
func (rl *RateLimiter) bucketFor(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) >= rl.idle {
		for k, b := range rl.buckets {
			if now.Sub(b.seen) >= rl.idle {
				delete(rl.buckets, k)
			}
		}
		rl.lastSweep = now
	}

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.seen = now
	return b.lim
}

// retryAfter is the whole seconds until one token refills.
func (rl *RateLimiter) retryAfter() int {
	if rl.limit <= 0 {
		return 60
	}
	return max(1, int(math.Ceil(1/float64(rl.limit))))
}

// IsRateBypass reports whether IdempotencyValidator marked the request as a
// replay of a completed response.
func IsRateBypass(c *gin.Context) bool {
	v, _ := c.Get(ctxKeyRateBypass)
	b, _ := v.(bool)
	return b
}

// Handler enforces the limits. A rejected request gets 429 with a
// Retry-After hint and the API's error envelope under code
// "too_many_requests".
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) || rl.exempted(c.Request.URL.Path) {
			c.Next()
			return
		}

		now := rl.clk.Now()
		if rl.bucketFor(rl.key(c), now).AllowN(now, 1) {
			c.Next()
			return
		}

		httpRateLimited.WithLabelValues(routePath(c)).Inc()
		c.Header("Retry-After", strconv.Itoa(rl.retryAfter()))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       "too_many_requests",
			"message":    "rate limit exceeded",
		})
	}
}
