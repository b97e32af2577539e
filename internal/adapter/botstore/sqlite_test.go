package botstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-relay/internal/domain"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "bots.db"), "chatbots")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.PutBot(ctx, &domain.Bot{
		ID:              "b1",
		Name:            "Helper",
		Status:          domain.BotStatusReady,
		AssistantID:     "asst_1",
		FallbackMessage: "later",
	}))

	got, err := s.GetBot(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, &domain.Bot{
		ID:              "b1",
		Name:            "Helper",
		Status:          domain.BotStatusReady,
		AssistantID:     "asst_1",
		FallbackMessage: "later",
	}, got)
}

func TestSQLiteStoreNotFound(t *testing.T) {
	s := newTestSQLite(t)
	_, err := s.GetBot(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrBotNotFound)
}

func TestSQLiteStoreNullColumns(t *testing.T) {
	s := newTestSQLite(t)
	_, err := s.db.Exec("INSERT INTO chatbots (id) VALUES ('bare')")
	require.NoError(t, err)

	got, err := s.GetBot(context.Background(), "bare")
	require.NoError(t, err)
	assert.Equal(t, "bare", got.ID)
	assert.Empty(t, got.AssistantID)
	assert.True(t, got.Active())
	assert.Equal(t, domain.DefaultFallbackMessage, got.Fallback())
}

func TestSQLiteStorePutReplaces(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.PutBot(ctx, &domain.Bot{ID: "b1", Status: domain.BotStatusActive}))
	require.NoError(t, s.PutBot(ctx, &domain.Bot{ID: "b1", Status: domain.BotStatusInactive}))

	got, err := s.GetBot(ctx, "b1")
	require.NoError(t, err)
	assert.False(t, got.Active())
}

func TestSQLiteStorePutRequiresID(t *testing.T) {
	s := newTestSQLite(t)
	err := s.PutBot(context.Background(), &domain.Bot{Name: "anon"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSQLiteStoreRejectsBadTable(t *testing.T) {
	_, err := NewSQLiteStore(filepath.Join(t.TempDir(), "x.db"), "bots; DROP TABLE x")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
