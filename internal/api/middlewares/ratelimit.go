package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/markdave123-py/appointly/internal/api/respond"
	"github.com/markdave123-py/appointly/internal/logging"
)

// RateLimitConfig sizes the per-client token bucket: Capacity requests per Window.
type RateLimitConfig struct {
	Prefix   string
	Capacity int
	Window   time.Duration
}

// tokenBucket refills capacity tokens evenly across the window.
var tokenBucket = redis.NewScript(`
	local key = KEYS[1]
	local now_ms = tonumber(ARGV[1])
	local capacity = tonumber(ARGV[2])
	local interval_ms = tonumber(ARGV[3])
	local ttl_seconds = tonumber(ARGV[4])

	local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
	local tokens = tonumber(state[1])
	local last_refill = tonumber(state[2])

	if tokens == nil or last_refill == nil then
		tokens = capacity
		last_refill = now_ms
	end

	if interval_ms > 0 then
		local elapsed = math.max(0, now_ms - last_refill)
		local intervals = math.floor(elapsed / interval_ms)
		if intervals > 0 then
			tokens = math.min(capacity, tokens + intervals)
			last_refill = last_refill + (intervals * interval_ms)
		end
	end

	local allowed = 0
	local retry_after_ms = 0
	if tokens > 0 then
		allowed = 1
		tokens = tokens - 1
	else
		retry_after_ms = math.max(0, interval_ms - (now_ms - last_refill))
	end

	redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
	redis.call('EXPIRE', key, ttl_seconds)

	return { allowed, tokens, retry_after_ms }
`)

// RateLimit throttles per client IP. With a nil client, or when Redis errors,
// requests pass through.
func RateLimit(cfg RateLimitConfig, rdb *redis.Client) func(http.Handler) http.Handler {
	if rdb == nil || cfg.Capacity <= 0 || cfg.Window <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "appointly:rl"
	}
	interval := cfg.Window / time.Duration(cfg.Capacity)
	ttl := int64(math.Ceil(cfg.Window.Seconds())) + 1

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := cfg.Prefix + ":ip:" + clientIP(r)
			vals, err := tokenBucket.Run(r.Context(), rdb, []string{key},
				time.Now().UnixMilli(), cfg.Capacity, interval.Milliseconds(), ttl).Int64Slice()
			if err != nil || len(vals) != 3 {
				logging.FromContext(r.Context()).Warn("rate limiter unavailable", "err", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(vals[1], 10))
			if vals[0] != 1 {
				secs := int64(math.Ceil(float64(vals[2]) / 1000.0))
				w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
				respond.JSON(w, http.StatusTooManyRequests, map[string]any{
					"error":      "too many requests, please try again later",
					"retryAfter": secs,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewRedisClient connects and pings; it returns nil when Redis is not
// configured or unreachable so callers can run without rate limiting.
func NewRedisClient(ctx context.Context, addr, password string, db int, log *slog.Logger) *redis.Client {
	if addr == "" {
		log.Info("rate limiting disabled", "reason", "REDIS_ADDR not set")
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("rate limiting disabled", "reason", fmt.Sprintf("redis unreachable: %v", err))
		_ = client.Close()
		return nil
	}
	return client
}

// clientIP prefers chi's RealIP rewrite of RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
	return host
}
