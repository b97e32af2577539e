package botstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"chat-relay/internal/domain"
)

// SQLiteStore keeps bots in a local SQLite file.
type SQLiteStore struct {
	db    *sql.DB
	table string
	query string
}

// NewSQLiteStore opens (or creates) the database at path and migrates it.
func NewSQLiteStore(path, table string) (*SQLiteStore, error) {
	if err := validTable(table); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open bot db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	s := &SQLiteStore{db: db, table: table, query: selectQuery(table, "?")}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate bot db: %w", err)
	}
	return s, nil
}

// Migrate creates the bot table if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id               TEXT PRIMARY KEY,
			name             TEXT,
			status           TEXT,
			assistant_id     TEXT,
			fallback_message TEXT
		)
	`, s.table))
	return err
}

// PutBot inserts or replaces a bot. Used for seeding; the relay never writes.
func (s *SQLiteStore) PutBot(ctx context.Context, b *domain.Bot) error {
	if b.ID == "" {
		return fmt.Errorf("%w: bot id is required", domain.ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT OR REPLACE INTO %s (id, name, status, assistant_id, fallback_message) VALUES (?, ?, ?, ?, ?)", s.table),
		b.ID, b.Name, string(b.Status), b.AssistantID, b.FallbackMessage,
	)
	return err
}

// GetBot implements domain.BotStore.
func (s *SQLiteStore) GetBot(ctx context.Context, id string) (*domain.Bot, error) {
	bot, err := scanBot(s.db.QueryRowContext(ctx, s.query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrBotNotFound
		}
		return nil, err
	}
	return bot, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
