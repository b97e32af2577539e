package channel

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"chat-relay/internal/domain"
	"chat-relay/internal/infra/config"
	"chat-relay/internal/usecase/relay"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memStore struct {
	mu    sync.Mutex
	bots  map[string]*domain.Bot
	reads int
}

func (s *memStore) GetBot(_ context.Context, id string) (*domain.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	b, ok := s.bots[id]
	if !ok {
		return nil, domain.ErrBotNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *memStore) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// stubAPI answers every run as completed and streams a fixed script.
type stubAPI struct {
	mu        sync.Mutex
	calls     int
	reply     string
	events    []domain.RunEvent
	streamErr error
}

func (a *stubAPI) count() {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
}

func (a *stubAPI) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func (a *stubAPI) CreateThread(context.Context) (string, error) {
	a.count()
	return "thread_1", nil
}

func (a *stubAPI) AddMessage(context.Context, string, string, string) error {
	a.count()
	return nil
}

func (a *stubAPI) CreateRun(_ context.Context, req domain.RunRequest) (*domain.Run, error) {
	a.count()
	return &domain.Run{ID: "run_1", ThreadID: req.ThreadID, Status: domain.RunQueued}, nil
}

func (a *stubAPI) GetRun(_ context.Context, threadID, runID string) (*domain.Run, error) {
	a.count()
	return &domain.Run{ID: runID, ThreadID: threadID, Status: domain.RunCompleted}, nil
}

func (a *stubAPI) ListMessages(context.Context, string, int) ([]domain.ThreadMessage, error) {
	a.count()
	return []domain.ThreadMessage{{
		Role:    domain.RoleAssistant,
		Content: []domain.ContentPart{{Type: "text", Text: a.reply}},
	}}, nil
}

func (a *stubAPI) StreamRun(ctx context.Context, _ domain.RunRequest) (<-chan domain.RunEvent, error) {
	a.count()
	if a.streamErr != nil {
		return nil, a.streamErr
	}
	ch := make(chan domain.RunEvent)
	go func() {
		defer close(ch)
		for _, ev := range a.events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func textDelta(text string) domain.RunEvent {
	data, _ := json.Marshal(map[string]any{"delta": map[string]any{
		"content": []map[string]any{{"type": "text", "text": map[string]any{"value": text}}},
	}})
	return domain.RunEvent{Name: "thread.message.delta", Data: data}
}

func newTestRelay(store *memStore, api *stubAPI) *relay.Service {
	return relay.NewService(store, api, config.RelayConfig{
		PollInterval:      time.Millisecond,
		PollTimeout:       time.Second,
		HeartbeatInterval: time.Hour,
		PaddingBytes:      8,
		MessageLimit:      20,
		MaxSentences:      3,
	}, newTestLogger())
}
