// Package botstore resolves chatbot configuration from the configured
// backing store. Every lookup is a single read; nothing is cached.
package botstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"chat-relay/internal/domain"
	"chat-relay/internal/infra/config"
	"chat-relay/internal/infra/metrics"
	"chat-relay/internal/infra/tracer"
)

// Store is a domain.BotStore that owns backend resources.
type Store interface {
	domain.BotStore
	Close() error
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validTable(name string) error {
	if !tableName.MatchString(name) {
		return fmt.Errorf("%w: invalid table name %q", domain.ErrInvalidInput, name)
	}
	return nil
}

// Open builds the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (Store, error) {
	if err := validTable(cfg.Table); err != nil {
		return nil, err
	}
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case "rest":
		s, err = NewRESTStore(cfg)
	case "postgres":
		s, err = NewPostgresStore(ctx, cfg)
	case "sqlite", "":
		s, err = NewSQLiteStore(cfg.Path, cfg.Table)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("bot store ready", "driver", driverName(cfg.Driver), "table", cfg.Table)
	return &instrumented{Store: s, driver: driverName(cfg.Driver)}, nil
}

func driverName(d string) string {
	if d == "" {
		return "sqlite"
	}
	return d
}

// instrumented adds a span and a latency observation around each lookup
// and tags backend failures with ErrStoreUnavailable.
type instrumented struct {
	Store
	driver string
}

func (s *instrumented) GetBot(ctx context.Context, id string) (*domain.Bot, error) {
	ctx, span := tracer.StartSpan(ctx, "botstore.get_bot")
	span.SetAttributes(tracer.BotAttr(id), tracer.StringAttr("store.driver", s.driver))
	start := time.Now()

	bot, err := s.Store.GetBot(ctx, id)
	metrics.StoreLatency.WithLabelValues(s.driver).Observe(time.Since(start).Seconds())
	if err != nil && !errors.Is(err, domain.ErrBotNotFound) && !errors.Is(err, context.Canceled) {
		err = domain.NewSubSystemError("store", "botstore.get_bot", fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err), s.driver)
	}
	tracer.Finish(span, err)
	return bot, err
}
