// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements idempotency for unsafe HTTP methods. Two pieces work
// together:
//   - IdempotencyValidator validates the Idempotency-Key header, scopes it to
//     the caller and route, and marks requests whose result is already cached
//     so the rate limiter lets replays through.
//   - Idempotent runs the rest of the chain at most once per scoped key through
//     an idempotency.Core. The owner's status and body are cached; duplicates
//     receive them with Idempotent-Replayed: true. A duplicate that arrives
//     while the owner is still running gets 409 request_in_flight.
package middleware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-payout-reconciler/internal/idempotency"
)

// HeaderIdempotencyKey is the request header clients use to convey an
// idempotency key for unsafe operations.
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderIdempotentReplayed is set on responses served from the cache.
const HeaderIdempotentReplayed = "Idempotent-Replayed"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemScope  = "idem.scope"
	ctxKeyIdemReplay = "idem.replay" // bool: true when a stored replay exists
	ctxKeyRateBypass = "rate.bypass" // bool: true to skip rate limiting
)

// GetIdempotencyKey returns the validated idempotency key stored in the Gin
// context by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether a cached result exists for this request's key.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// IdempotencyOptions configures header validation for IdempotencyValidator.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters. If nil, ^[A-Za-z0-9._~\-:]+$ is used.
	Pattern *regexp.Regexp
}

// IdempotencyLookup reports whether a replayable result exists for a scoped
// key. Errors are treated as a miss.
type IdempotencyLookup func(ctx context.Context, scopedKey string) (exists bool, err error)

// IdempotencyValidator validates the Idempotency-Key header (if present),
// stashes it with its scoped form, and consults lookup to mark replays.
//
// Behavior:
//   - If header is absent: the middleware is a no-op.
//   - If header fails validation: responds 400 bad_idempotency_key.
//   - If lookup indicates a replay: sets replay + rate-bypass flags.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}

		scoped := scopeKey(c, key)
		c.Set(ctxKeyIdemKey, key)
		c.Set(ctxKeyIdemScope, scoped)

		if lookup != nil {
			if exists, _ := lookup(c.Request.Context(), scoped); exists {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}

		c.Next()
	}
}

// cachedResponse is what Idempotent stores per key.
type cachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
}

// errNotCacheable marks owner responses that must not be replayed (5xx), so
// a retry with the same key runs the handler again.
var errNotCacheable = errors.New("response not cacheable")

// Idempotent runs the downstream handlers at most once per scoped
// Idempotency-Key. Requests without a key pass through untouched.
// IdempotencyValidator must run earlier in the chain.
func Idempotent(core *idempotency.Core, p idempotency.Params) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := c.Get(ctxKeyIdemScope)
		scoped, _ := v.(string)
		if !ok || scoped == "" {
			c.Next()
			return
		}

		var rec *recordingWriter
		resp, replayed, err := idempotency.Run(c.Request.Context(), core, scoped, p,
			func(context.Context) (cachedResponse, error) {
				rec = &recordingWriter{ResponseWriter: c.Writer}
				c.Writer = rec
				c.Next()
				status := rec.Status()
				if status >= http.StatusInternalServerError {
					return cachedResponse{}, fmt.Errorf("%w: status %d", errNotCacheable, status)
				}
				return cachedResponse{
					Status:      status,
					ContentType: rec.Header().Get("Content-Type"),
					Body:        rec.body.Bytes(),
				}, nil
			})

		switch {
		case rec != nil:
			// This request owned the execution and already wrote its response.
			if err != nil && !errors.Is(err, errNotCacheable) {
				LoggerFrom(c).Warn().Err(err).Str("idempotency_key", scoped).Msg("idempotent response not cached")
			}
		case err == nil && replayed:
			if resp.ContentType != "" {
				c.Header("Content-Type", resp.ContentType)
			}
			c.Header(HeaderIdempotentReplayed, "true")
			c.Status(resp.Status)
			_, _ = c.Writer.Write(resp.Body)
			c.Abort()
		case errors.Is(err, idempotency.ErrInFlight):
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "request_in_flight",
				"message":    "a request with this Idempotency-Key is still being processed",
			})
		case err != nil:
			LoggerFrom(c).Error().Err(err).Str("idempotency_key", scoped).Msg("idempotency check failed")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "unavailable",
				"message":    "idempotency store unavailable",
			})
		}
	}
}

// recordingWriter tees the response body so it can be cached.
type recordingWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *recordingWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// scopeKey binds a client key to the caller and route so two users (or two
// endpoints) cannot collide on the same header value.
func scopeKey(c *gin.Context, key string) string {
	route := c.FullPath()
	if route == "" {
		route = c.Request.URL.Path
	}
	return strings.Join([]string{"http", userIDFromCtx(c), c.Request.Method, route, key}, ":")
}

// userIDFromCtx extracts the caller identity set by upstream authentication,
// falling back to the X-User-ID header and then "anonymous".
func userIDFromCtx(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "anonymous"
}
