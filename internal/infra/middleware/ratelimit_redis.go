package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"chat-relay/internal/infra/metrics"
)

const redisKeyPrefix = "relay:ratelimit:"

// RedisRateLimiter counts requests per client IP in fixed one-minute
// windows kept in Redis, so replicas share one budget. Burst is added to
// the per-window allowance. Redis failures let the request through.
type RedisRateLimiter struct {
	client  redis.Cmdable
	limit   int64
	window  time.Duration
	trusted []string
	logger  *slog.Logger
	now     func() time.Time
}

// NewRedisRateLimiter creates a limiter on client using cfg's budget.
func NewRedisRateLimiter(client redis.Cmdable, cfg RateLimitConfig, logger *slog.Logger) *RedisRateLimiter {
	return &RedisRateLimiter{
		client:  client,
		limit:   int64(cfg.RequestsPerMin + cfg.BurstSize),
		window:  time.Minute,
		trusted: cfg.TrustedProxies,
		logger:  logger,
		now:     time.Now,
	}
}

func (rl *RedisRateLimiter) key(ip string) string {
	bucket := rl.now().Unix() / int64(rl.window.Seconds())
	return redisKeyPrefix + ip + ":" + strconv.FormatInt(bucket, 10)
}

// Allow increments the caller's counter for the current window and reports
// whether it is still within budget.
func (rl *RedisRateLimiter) Allow(ctx context.Context, ip string) (bool, error) {
	key := rl.key(ip)
	pipe := rl.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 2*rl.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("rate limit counter: %w", err)
	}
	return incr.Val() <= rl.limit, nil
}

// Middleware applies the limiter. CORS preflights are never limited.
func (rl *RedisRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		ip := getClientIP(r, rl.trusted)

		ok, err := rl.Allow(r.Context(), ip)
		if err != nil {
			rl.logger.Warn("rate limit backend unavailable", "error", err)
		}
		if !ok {
			metrics.RateLimitHits.Inc()
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
