package relay

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"chat-relay/internal/domain"
	"chat-relay/internal/infra/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.RelayConfig {
	return config.RelayConfig{
		PollInterval:      5 * time.Millisecond,
		PollTimeout:       200 * time.Millisecond,
		HeartbeatInterval: time.Hour,
		PaddingBytes:      16,
		MessageLimit:      20,
		MaxSentences:      3,
	}
}

type fakeStore struct {
	bots  map[string]*domain.Bot
	err   error
	reads int
}

func (f *fakeStore) GetBot(_ context.Context, id string) (*domain.Bot, error) {
	f.reads++
	if f.err != nil {
		return nil, f.err
	}
	b, ok := f.bots[id]
	if !ok {
		return nil, domain.ErrBotNotFound
	}
	cp := *b
	return &cp, nil
}

// fakeAPI scripts the upstream. statuses is consumed by GetRun; once empty
// the last status repeats.
type fakeAPI struct {
	mu       sync.Mutex
	calls    []string
	statuses []domain.RunStatus
	messages []domain.ThreadMessage
	events   []domain.RunEvent
	hold     bool // keep the stream channel open after events
	failOn   map[string]error

	lastMessage struct{ thread, content, user string }
	lastRun     domain.RunRequest
}

func (f *fakeAPI) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
	return f.failOn[op]
}

func (f *fakeAPI) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeAPI) CreateThread(context.Context) (string, error) {
	if err := f.record("CreateThread"); err != nil {
		return "", err
	}
	return "thread_new", nil
}

func (f *fakeAPI) AddMessage(_ context.Context, threadID, content, userID string) error {
	if err := f.record("AddMessage"); err != nil {
		return err
	}
	f.lastMessage.thread, f.lastMessage.content, f.lastMessage.user = threadID, content, userID
	return nil
}

func (f *fakeAPI) CreateRun(_ context.Context, req domain.RunRequest) (*domain.Run, error) {
	if err := f.record("CreateRun"); err != nil {
		return nil, err
	}
	f.lastRun = req
	return &domain.Run{ID: "run_1", ThreadID: req.ThreadID, Status: domain.RunQueued}, nil
}

func (f *fakeAPI) GetRun(_ context.Context, threadID, runID string) (*domain.Run, error) {
	if err := f.record("GetRun"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	status := domain.RunInProgress
	if len(f.statuses) > 0 {
		status = f.statuses[0]
		if len(f.statuses) > 1 {
			f.statuses = f.statuses[1:]
		}
	}
	return &domain.Run{ID: runID, ThreadID: threadID, Status: status}, nil
}

func (f *fakeAPI) ListMessages(context.Context, string, int) ([]domain.ThreadMessage, error) {
	if err := f.record("ListMessages"); err != nil {
		return nil, err
	}
	return f.messages, nil
}

func (f *fakeAPI) StreamRun(ctx context.Context, req domain.RunRequest) (<-chan domain.RunEvent, error) {
	if err := f.record("StreamRun"); err != nil {
		return nil, err
	}
	f.lastRun = req
	ch := make(chan domain.RunEvent)
	go func() {
		defer close(ch)
		for _, ev := range f.events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
		if f.hold {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

type frame struct {
	Event   string
	Payload map[string]any
	Comment string
}

type recordingWriter struct {
	mu       sync.Mutex
	frames   []frame
	closes   int
	failFrom int // fail writes once len(frames) reaches this; 0 = never
}

func (w *recordingWriter) WriteEvent(event string, payload any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failFrom > 0 && len(w.frames) >= w.failFrom {
		return io.ErrClosedPipe
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	w.frames = append(w.frames, frame{Event: event, Payload: m})
	return nil
}

func (w *recordingWriter) WriteComment(text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failFrom > 0 && len(w.frames) >= w.failFrom {
		return io.ErrClosedPipe
	}
	w.frames = append(w.frames, frame{Comment: text})
	return nil
}

func (w *recordingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closes++
	return nil
}

// events returns the named frames in order, skipping comments.
func (w *recordingWriter) events() []frame {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []frame
	for _, f := range w.frames {
		if f.Event != "" {
			out = append(out, f)
		}
	}
	return out
}

func (w *recordingWriter) eventNames() []string {
	var names []string
	for _, f := range w.events() {
		names = append(names, f.Event)
	}
	return names
}

func deltaEvent(text string) domain.RunEvent {
	data, _ := json.Marshal(map[string]any{
		"object": "thread.message.delta",
		"delta": map[string]any{
			"content": []map[string]any{{"index": 0, "type": "text", "text": map[string]any{"value": text}}},
		},
	})
	return domain.RunEvent{Name: "thread.message.delta", Data: data}
}

func assistantMessage(text string) domain.ThreadMessage {
	return domain.ThreadMessage{
		ID:      "msg",
		Role:    domain.RoleAssistant,
		Content: []domain.ContentPart{{Type: "text", Text: text}},
	}
}
