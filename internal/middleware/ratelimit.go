package middleware

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	rateLimitWindow = time.Minute
	rateLimitMax    = 20
	rateLimitPrefix = "ratelimit:auth:"
)

// RateLimiter is a fixed-window per-IP limiter backed by Redis, applied to the
// unauthenticated auth endpoints. It fails open: if Redis is unreachable the
// request is allowed through.
type RateLimiter struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRateLimiter(rdb *redis.Client, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{rdb: rdb, logger: logger}
}

func (l *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rateLimitPrefix + clientIP(r)

		count, err := l.rdb.Incr(r.Context(), key).Result()
		if err != nil {
			l.logger.Warn("rate limiter unavailable, allowing request", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		if count == 1 {
			l.rdb.Expire(r.Context(), key, rateLimitWindow)
		}

		if count > rateLimitMax {
			w.Header().Set("Retry-After", strconv.Itoa(int(rateLimitWindow.Seconds())))
			writeError(w, http.StatusTooManyRequests, "too many requests, try again later")
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rateLimitMax))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(max(rateLimitMax-count, 0), 10))
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
