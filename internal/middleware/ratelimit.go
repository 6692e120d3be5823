package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/devlink/internal/audit"
	"github.com/openclaw/devlink/internal/config"
)

// ClaimLimiter is the sliding-window limiter contract, satisfied by
// service.RateLimiter.
type ClaimLimiter interface {
	CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, resetAt time.Time)
}

// ClaimRateLimitMiddleware throttles unauthenticated claim attempts per
// client IP. The digital and bluetooth code spaces are small enough to
// brute-force without it.
type ClaimRateLimitMiddleware struct {
	limiter ClaimLimiter
	limit   int
}

func NewClaimRateLimitMiddleware(limiter ClaimLimiter, limit int) *ClaimRateLimitMiddleware {
	return &ClaimRateLimitMiddleware{limiter: limiter, limit: limit}
}

func (m *ClaimRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// RemoteAddr, not the forwarding headers: chi's RealIP already
		// rewrote it from the trusted proxy, and keying the limiter on
		// a client-supplied header would let a claimer reset its own
		// bucket per request.
		key := "claim:" + r.RemoteAddr
		allowed, resetAt := m.limiter.CheckLimit(r.Context(), key, m.limit, config.ClaimRateWindow)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(m.limit))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			log.Warn().Str("ip", r.RemoteAddr).Msg("claim rate limit exceeded")
			audit.LogFromRequest(r, audit.Event{Type: audit.EventRateLimitExceed})
			retryAfter := int(time.Until(resetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": "Rate limit exceeded",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
