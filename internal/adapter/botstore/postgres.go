package botstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chat-relay/internal/domain"
	"chat-relay/internal/infra/config"
)

// PostgresStore reads bots directly from PostgreSQL.
type PostgresStore struct {
	pool  *pgxpool.Pool
	query string
}

// NewPostgresStore connects a pool and verifies it with a ping.
func NewPostgresStore(ctx context.Context, cfg config.StoreConfig) (*PostgresStore, error) {
	if err := validTable(cfg.Table); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool, query: selectQuery(cfg.Table, "$1")}, nil
}

// GetBot implements domain.BotStore.
func (s *PostgresStore) GetBot(ctx context.Context, id string) (*domain.Bot, error) {
	bot, err := scanBot(s.pool.QueryRow(ctx, s.query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrBotNotFound
		}
		return nil, err
	}
	return bot, nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// selectQuery builds the single-row lookup. table must already be validated.
func selectQuery(table, placeholder string) string {
	return fmt.Sprintf(
		"SELECT id, COALESCE(name, ''), COALESCE(status, ''), COALESCE(assistant_id, ''), COALESCE(fallback_message, '') FROM %s WHERE id = %s LIMIT 1",
		table, placeholder,
	)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBot(row rowScanner) (*domain.Bot, error) {
	var (
		b      domain.Bot
		status string
	)
	if err := row.Scan(&b.ID, &b.Name, &status, &b.AssistantID, &b.FallbackMessage); err != nil {
		return nil, err
	}
	b.Status = domain.BotStatus(status)
	return &b, nil
}
