package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"chat-relay/internal/domain"
	"chat-relay/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// BreakerClient wraps a domain.AssistantAPI with circuit breaker protection.
// When the upstream fails repeatedly the circuit opens and calls fail fast.
// It never retries.
type BreakerClient struct {
	inner   domain.AssistantAPI
	breaker *gobreaker.CircuitBreaker[any]
	logger  *slog.Logger
}

// NewBreakerClient wraps inner with a circuit breaker. Zero-valued settings
// fall back to defaults.
func NewBreakerClient(inner domain.AssistantAPI, cfg config.CircuitBreakerConfig, logger *slog.Logger) *BreakerClient {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "assistant",
		MaxRequests: 1, // one probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: isBreakerSuccess,
	})

	return &BreakerClient{inner: inner, breaker: cb, logger: logger}
}

// isBreakerSuccess treats caller cancellation and client-side mistakes as
// healthy upstream responses.
func isBreakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	return !errors.Is(err, domain.ErrProviderError) &&
		!errors.Is(err, domain.ErrRateLimit) &&
		!errors.Is(err, context.DeadlineExceeded) &&
		!isNetError(err)
}

func isNetError(err error) bool {
	var ne net.Error
	return errors.As(err, &ne)
}

func execute[T any](b *BreakerClient, fn func() (T, error)) (T, error) {
	res, err := b.breaker.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: assistant circuit open: %w", domain.ErrProviderError, err)
		}
		return zero, err
	}
	v, _ := res.(T)
	return v, nil
}

// CreateThread implements domain.AssistantAPI.
func (b *BreakerClient) CreateThread(ctx context.Context) (string, error) {
	return execute(b, func() (string, error) { return b.inner.CreateThread(ctx) })
}

// AddMessage implements domain.AssistantAPI.
func (b *BreakerClient) AddMessage(ctx context.Context, threadID, content, userID string) error {
	_, err := execute(b, func() (struct{}, error) {
		return struct{}{}, b.inner.AddMessage(ctx, threadID, content, userID)
	})
	return err
}

// CreateRun implements domain.AssistantAPI.
func (b *BreakerClient) CreateRun(ctx context.Context, req domain.RunRequest) (*domain.Run, error) {
	return execute(b, func() (*domain.Run, error) { return b.inner.CreateRun(ctx, req) })
}

// GetRun implements domain.AssistantAPI.
func (b *BreakerClient) GetRun(ctx context.Context, threadID, runID string) (*domain.Run, error) {
	return execute(b, func() (*domain.Run, error) { return b.inner.GetRun(ctx, threadID, runID) })
}

// ListMessages implements domain.AssistantAPI.
func (b *BreakerClient) ListMessages(ctx context.Context, threadID string, limit int) ([]domain.ThreadMessage, error) {
	return execute(b, func() ([]domain.ThreadMessage, error) { return b.inner.ListMessages(ctx, threadID, limit) })
}

// StreamRun implements domain.AssistantAPI. The breaker guards stream setup
// only; failures after the stream opens arrive on the channel.
func (b *BreakerClient) StreamRun(ctx context.Context, req domain.RunRequest) (<-chan domain.RunEvent, error) {
	return execute(b, func() (<-chan domain.RunEvent, error) { return b.inner.StreamRun(ctx, req) })
}

// State returns the current circuit breaker state for monitoring.
func (b *BreakerClient) State() gobreaker.State {
	return b.breaker.State()
}

var _ domain.AssistantAPI = (*BreakerClient)(nil)

// --- Connection Pooling ---

// Default connection pool settings: one host, high concurrency, long-lived
// connections.
const (
	defaultMaxIdleConns        = 20
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 50
	defaultIdleConnTimeout     = 120 * time.Second
)

// NewPooledTransport creates an http.Transport with connection pooling and
// per-connection timeouts.
func NewPooledTransport(connTimeout, respTimeout time.Duration, pool config.PoolConfig) *http.Transport {
	if connTimeout == 0 {
		connTimeout = defaultConnTimeout
	}
	if respTimeout == 0 {
		respTimeout = defaultRespTimeout
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = defaultMaxIdleConns
	}
	maxIdlePerHost := pool.MaxIdleConnsPerHost
	if maxIdlePerHost <= 0 {
		maxIdlePerHost = defaultMaxIdleConnsPerHost
	}
	maxConnsPerHost := pool.MaxConnsPerHost
	if maxConnsPerHost <= 0 {
		maxConnsPerHost = defaultMaxConnsPerHost
	}
	idleTimeout := pool.IdleConnTimeout
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleConnTimeout
	}

	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: respTimeout,
		MaxIdleConns:          maxIdle,
		MaxIdleConnsPerHost:   maxIdlePerHost,
		MaxConnsPerHost:       maxConnsPerHost,
		IdleConnTimeout:       idleTimeout,
		ForceAttemptHTTP2:     true,
	}
}

// Default upstream timeouts.
const (
	defaultConnTimeout = 30 * time.Second
	defaultRespTimeout = 120 * time.Second
)

// NewHTTPClient creates an *http.Client with pooled transport and timeout
// defaults for buffered assistant calls.
func NewHTTPClient(cfg config.AssistantConfig) *http.Client {
	connTimeout := cfg.ConnTimeout
	if connTimeout == 0 {
		connTimeout = defaultConnTimeout
	}
	respTimeout := cfg.RespTimeout
	if respTimeout == 0 {
		respTimeout = defaultRespTimeout
	}

	return &http.Client{
		Transport: NewPooledTransport(connTimeout, respTimeout, cfg.Pool),
		Timeout:   connTimeout + respTimeout,
	}
}

// New builds the assistant API client from config, wrapped in a circuit
// breaker when enabled.
func New(cfg config.AssistantConfig, logger *slog.Logger) domain.AssistantAPI {
	client := NewClient(cfg, logger)
	if !cfg.CircuitBreaker.Enabled {
		return client
	}
	return NewBreakerClient(client, cfg.CircuitBreaker, logger)
}
