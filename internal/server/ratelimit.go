package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"xsanitaz-backend/internal/observability"
	"xsanitaz-backend/internal/types"
)

// fixed one-second window per client; returns the count after incrementing.
var rateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// RateLimiter caps POST /api/message per client address. Redis errors let the
// request through.
type RateLimiter struct {
	client  *redis.Client
	qps     int
	timeout time.Duration
}

func NewRateLimiter(client *redis.Client, qps int) *RateLimiter {
	return &RateLimiter{client: client, qps: qps, timeout: 200 * time.Millisecond}
}

// Allow reports whether key is still under its per-second budget.
func (l *RateLimiter) Allow(ctx context.Context, key string) bool {
	if l == nil || l.client == nil || l.qps <= 0 {
		return true
	}
	window := time.Now().Unix()
	redisKey := "xsanitaz:ratelimit:" + key + ":" + strconv.FormatInt(window, 10)

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	n, err := rateLimitScript.Run(ctx, l.client, []string{redisKey}, time.Second.Milliseconds()).Int64()
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("rate limiter unavailable", "error", err)
		return true
	}
	return n <= int64(l.qps)
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(r.Context(), clientKey(r)) {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, types.ErrorResponse{Error: "too many requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey is the peer address, or the forwarded client address when the
// server runs with TrustProxy.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
