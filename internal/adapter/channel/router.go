package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"chat-relay/internal/infra/config"
	"chat-relay/internal/infra/middleware"
)

// Chat routes. /chat serves function-style deployments.
var chatPaths = []string{"/api/v1/chat", "/chat"}

// NewRouter wires the middleware chain and routes. limit may be nil.
func NewRouter(cfg config.ServerConfig, chat http.Handler, limit func(http.Handler) http.Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	// Metrics first to capture all requests.
	r.Use(middleware.Metrics)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recover(logger))
	r.Use(middleware.SecurityHeaders)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders: cfg.AllowedHeaders,
		MaxAge:         300,
	}))

	if limit != nil {
		r.Use(limit)
	}

	for _, p := range chatPaths {
		r.Method(http.MethodPost, p, chat)
		r.Options(p, handleOptions)
	}
	r.Get("/api/v1/health", handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// newRateLimiter picks the per-IP limiter for cfg: shared through Redis
// when a URL is configured, in-process otherwise. ctx bounds the
// in-process cleanup goroutine. The returned closer is never nil.
func newRateLimiter(ctx context.Context, cfg config.RateLimitConfig, logger *slog.Logger) (func(http.Handler) http.Handler, func() error, error) {
	noop := func() error { return nil }
	if !cfg.Enabled {
		return nil, noop, nil
	}
	rl := middleware.RateLimitConfig{
		RequestsPerMin: cfg.RequestsPerMin,
		BurstSize:      cfg.Burst,
		TrustedProxies: cfg.TrustedProxies,
	}
	if cfg.RedisURL == "" {
		return middleware.RateLimitWithConfig(ctx, rl), noop, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, noop, fmt.Errorf("parse rate limit redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		// Requests fail open while Redis is down; report and carry on.
		logger.Warn("rate limit redis unreachable", "error", err)
	}
	logger.Info("rate limiting shared through redis", "addr", opts.Addr)
	return middleware.NewRedisRateLimiter(client, rl, logger).Middleware, client.Close, nil
}
