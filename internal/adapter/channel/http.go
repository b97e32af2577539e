package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"chat-relay/internal/infra/config"
)

// HTTPChannel serves the chat API over HTTP.
type HTTPChannel struct {
	server *http.Server
	logger *slog.Logger
	cfg    config.ServerConfig
	chat   *ChatHandler

	// boundAddr is the listener address, known once Start has returned.
	boundAddr string

	// cancel stops the in-process limiter's cleanup goroutine and
	// closeLimiter releases the Redis client, if any.
	cancel       context.CancelFunc
	closeLimiter func() error
}

// NewHTTPChannel creates an HTTP channel serving r.
func NewHTTPChannel(cfg config.ServerConfig, r Relay, logger *slog.Logger) *HTTPChannel {
	return &HTTPChannel{
		cfg:    cfg,
		logger: logger,
		chat:   NewChatHandler(r, cfg.MaxBodyBytes, logger),
	}
}

// Start begins the HTTP server. Non-blocking (starts in goroutine).
func (h *HTTPChannel) Start(ctx context.Context) error {
	var rlCtx context.Context
	rlCtx, h.cancel = context.WithCancel(ctx)

	limit, closeLimiter, err := newRateLimiter(rlCtx, h.cfg.RateLimit, h.logger)
	if err != nil {
		h.cancel()
		return err
	}
	h.closeLimiter = closeLimiter

	h.server = &http.Server{
		Addr:              h.cfg.Addr,
		Handler:           NewRouter(h.cfg, h.chat, limit, h.logger),
		ReadHeaderTimeout: h.cfg.ReadHeaderTimeout,
		ReadTimeout:       h.cfg.ReadTimeout,
		// No WriteTimeout: streamed answers stay open for the whole run.
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	ln, err := net.Listen("tcp", h.cfg.Addr)
	if err != nil {
		h.cancel()
		h.closeLimiter()
		return fmt.Errorf("listen %s: %w", h.cfg.Addr, err)
	}
	h.boundAddr = ln.Addr().String()

	go func() {
		h.logger.Info("http channel started", "addr", h.boundAddr)
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (h *HTTPChannel) Stop(ctx context.Context) error {
	if h.cancel != nil {
		h.cancel()
	}
	if h.server == nil {
		return nil
	}
	err := h.server.Shutdown(ctx)
	if cerr := h.closeLimiter(); cerr != nil {
		h.logger.Warn("rate limiter close failed", "error", cerr)
	}
	return err
}

// Addr returns the bound listen address once started.
func (h *HTTPChannel) Addr() string { return h.boundAddr }

// Name identifies the channel in logs.
func (h *HTTPChannel) Name() string { return "http" }
