package relay

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-relay/internal/domain"
)

func openTestStream(t *testing.T, api *fakeAPI, req domain.ChatRequest) *Stream {
	t.Helper()
	svc := newTestService(&fakeStore{bots: map[string]*domain.Bot{"b1": activeBot()}}, api)
	st, err := svc.OpenStream(context.Background(), req)
	require.NoError(t, err)
	return st
}

func TestStreamHappyPath(t *testing.T) {
	api := &fakeAPI{events: []domain.RunEvent{
		{Name: "thread.run.created", Data: []byte(`{"id":"run_1"}`)},
		deltaEvent("Hello"),
		deltaEvent(" world"),
		deltaEvent("【1†faq.md】"),
		{Name: "thread.run.completed", Data: []byte(`{"status":"completed"}`)},
	}}
	st := openTestStream(t, api, domain.ChatRequest{BotID: "b1", Message: "hi"})
	w := &recordingWriter{}

	require.NoError(t, st.Pump(context.Background(), w))

	require.NotEmpty(t, w.frames)
	assert.Equal(t, strings.Repeat(" ", 16), w.frames[0].Comment, "padding first")
	assert.Equal(t, []string{"ready", "delta", "delta", "end"}, w.eventNames())

	ev := w.events()
	assert.Equal(t, "thread_new", ev[0].Payload["thread_id"])
	assert.Equal(t, "Hello", ev[1].Payload["text"])
	assert.Equal(t, " world", ev[2].Payload["text"])
	assert.Equal(t, map[string]any{"thread_id": "thread_new", "text": "Hello world"}, ev[3].Payload)
	assert.Equal(t, 1, w.closes)
	assert.Equal(t, causeCompleted, st.endCause)
	assert.Equal(t, []string{"CreateThread", "AddMessage", "StreamRun"}, api.Calls())
}

func TestStreamDeduplicatesFragments(t *testing.T) {
	api := &fakeAPI{events: []domain.RunEvent{
		deltaEvent("Hi"),
		deltaEvent("Hi"),
		deltaEvent(" there"),
		deltaEvent("there"),
		{Data: []byte("[DONE]")},
	}}
	st := openTestStream(t, api, domain.ChatRequest{BotID: "b1", Message: "hi"})
	w := &recordingWriter{}

	require.NoError(t, st.Pump(context.Background(), w))

	assert.Equal(t, []string{"ready", "delta", "delta", "end"}, w.eventNames())
	ev := w.events()
	assert.Equal(t, "Hi there", ev[len(ev)-1].Payload["text"])
}

func TestStreamFailureKeepsPartialText(t *testing.T) {
	api := &fakeAPI{events: []domain.RunEvent{
		deltaEvent("Partial"),
		{Name: "thread.run.failed", Data: []byte(`{"last_error":{"code":"server_error"}}`)},
		deltaEvent(" never sent"),
	}}
	st := openTestStream(t, api, domain.ChatRequest{BotID: "b1", Message: "hi", ThreadID: "t_caller"})
	w := &recordingWriter{}

	require.NoError(t, st.Pump(context.Background(), w))

	assert.Equal(t, []string{"ready", "delta", "end"}, w.eventNames())
	ev := w.events()
	assert.Equal(t, "t_caller", ev[0].Payload["thread_id"])
	assert.Equal(t, "Partial", ev[2].Payload["text"])
	assert.Equal(t, causeFailed, st.endCause)
	assert.Equal(t, 1, w.closes)
}

func TestStreamReaderErrorEndsOnce(t *testing.T) {
	api := &fakeAPI{events: []domain.RunEvent{
		deltaEvent("abc"),
		{Err: errors.New("connection reset")},
	}}
	st := openTestStream(t, api, domain.ChatRequest{BotID: "b1", Message: "hi"})
	w := &recordingWriter{}

	require.NoError(t, st.Pump(context.Background(), w))

	assert.Equal(t, []string{"ready", "delta", "end"}, w.eventNames())
	assert.Equal(t, causeReadError, st.endCause)
}

func TestStreamUpstreamEOFEnds(t *testing.T) {
	api := &fakeAPI{events: []domain.RunEvent{deltaEvent("x")}}
	st := openTestStream(t, api, domain.ChatRequest{BotID: "b1", Message: "hi"})
	w := &recordingWriter{}

	require.NoError(t, st.Pump(context.Background(), w))
	assert.Equal(t, []string{"ready", "delta", "end"}, w.eventNames())
	assert.Equal(t, causeEOF, st.endCause)
}

func TestStreamSkipsMalformedFrames(t *testing.T) {
	api := &fakeAPI{events: []domain.RunEvent{
		{Name: "thread.message.delta", Data: []byte(`{not json`)},
		deltaEvent("ok"),
		{Name: "done"},
	}}
	st := openTestStream(t, api, domain.ChatRequest{BotID: "b1", Message: "hi"})
	w := &recordingWriter{}

	require.NoError(t, st.Pump(context.Background(), w))
	assert.Equal(t, []string{"ready", "delta", "end"}, w.eventNames())
}

func TestStreamClientCancellation(t *testing.T) {
	api := &fakeAPI{events: []domain.RunEvent{deltaEvent("first")}, hold: true}
	st := openTestStream(t, api, domain.ChatRequest{BotID: "b1", Message: "hi"})
	w := &recordingWriter{}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := st.Pump(ctx, w)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []string{"ready", "delta", "end"}, w.eventNames())
	assert.Equal(t, causeClient, st.endCause)
	assert.Equal(t, 1, w.closes)
}

func TestStreamEndGuardIsIdempotent(t *testing.T) {
	api := &fakeAPI{events: []domain.RunEvent{deltaEvent("done text"), {Name: "thread.run.completed"}}}
	st := openTestStream(t, api, domain.ChatRequest{BotID: "b1", Message: "hi"})
	w := &recordingWriter{}

	require.NoError(t, st.Pump(context.Background(), w))

	// A connection drop right after completion must not emit a second end.
	assert.False(t, st.end(causeReadError))
	assert.False(t, st.end(causeClient))

	assert.Equal(t, 1, w.closes)
	assert.Equal(t, []string{"ready", "delta", "end"}, w.eventNames())
	assert.Equal(t, causeCompleted, st.endCause)
}

func TestStreamHeartbeat(t *testing.T) {
	api := &fakeAPI{hold: true}
	svc := newTestService(&fakeStore{bots: map[string]*domain.Bot{"b1": activeBot()}}, api)
	svc.cfg.HeartbeatInterval = 10 * time.Millisecond
	st, err := svc.OpenStream(context.Background(), domain.ChatRequest{BotID: "b1", Message: "hi"})
	require.NoError(t, err)
	w := &recordingWriter{}

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	_ = st.Pump(ctx, w)

	w.mu.Lock()
	beats := 0
	for _, f := range w.frames {
		if f.Comment == "keep-alive" {
			beats++
		}
	}
	last := w.frames[len(w.frames)-1]
	w.mu.Unlock()

	assert.GreaterOrEqual(t, beats, 2)
	assert.Equal(t, "end", last.Event, "no heartbeat after end")

	time.Sleep(30 * time.Millisecond)
	w.mu.Lock()
	assert.Equal(t, "end", w.frames[len(w.frames)-1].Event)
	w.mu.Unlock()
}

func TestStreamWriteFailureStopsPump(t *testing.T) {
	api := &fakeAPI{events: []domain.RunEvent{deltaEvent("a"), deltaEvent("b"), deltaEvent("c")}, hold: true}
	st := openTestStream(t, api, domain.ChatRequest{BotID: "b1", Message: "hi"})
	w := &recordingWriter{failFrom: 3} // padding, ready, first delta

	done := make(chan error, 1)
	go func() { done <- st.Pump(context.Background(), w) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not stop after write failure")
	}
	assert.Equal(t, causeWrite, st.endCause)
	assert.Equal(t, 1, w.closes)
}

func TestInactiveBotStreamFrames(t *testing.T) {
	tests := []struct {
		name     string
		fallback string
	}{
		{"plain", "Come back later"},
		{"trailing whitespace", "Come back later\n"},
		{"parenthesised number", "See our FAQ (2) for help"},
		{"marker only", "[1]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{bots: map[string]*domain.Bot{
				"b1": {ID: "b1", Status: domain.BotStatusInactive, FallbackMessage: tt.fallback},
			}}
			api := &fakeAPI{}
			svc := newTestService(store, api)

			st, err := svc.OpenStream(context.Background(), domain.ChatRequest{BotID: "b1", Message: "hi", Stream: true})
			require.NoError(t, err)
			w := &recordingWriter{}
			require.NoError(t, st.Pump(context.Background(), w))

			assert.Empty(t, api.Calls())
			require.Equal(t, []string{"ready", "delta", "end"}, w.eventNames())
			ev := w.events()
			assert.Equal(t, map[string]any{"thread_id": nil}, ev[0].Payload)
			assert.Equal(t, tt.fallback, ev[1].Payload["text"])
			assert.Equal(t, tt.fallback, ev[2].Payload["text"])
			assert.Equal(t, 1, w.closes)

			resp, err := svc.Reply(context.Background(), domain.ChatRequest{BotID: "b1", Message: "hi"})
			require.NoError(t, err)
			assert.Equal(t, tt.fallback, resp.Text, "buffered and streamed fallback agree")
		})
	}
}

func TestInactiveBotStreamEchoesCallerThread(t *testing.T) {
	store := &fakeStore{bots: map[string]*domain.Bot{"b1": {ID: "b1", Status: "INACTIVE"}}}
	svc := newTestService(store, &fakeAPI{})

	st, err := svc.OpenStream(context.Background(), domain.ChatRequest{BotID: "b1", Message: "hi", ThreadID: "t9"})
	require.NoError(t, err)
	w := &recordingWriter{}
	require.NoError(t, st.Pump(context.Background(), w))

	ev := w.events()
	assert.Equal(t, "t9", ev[0].Payload["thread_id"])
	assert.Equal(t, domain.DefaultFallbackMessage, ev[2].Payload["text"])
}

func TestOpenStreamSetupFailure(t *testing.T) {
	api := &fakeAPI{failOn: map[string]error{"StreamRun": errors.New("API error 400: bad")}}
	svc := newTestService(&fakeStore{bots: map[string]*domain.Bot{"b1": activeBot()}}, api)

	_, err := svc.OpenStream(context.Background(), domain.ChatRequest{BotID: "b1", Message: "hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStreamSetup)
	assert.Contains(t, err.Error(), "API error 400")
}

func TestOpenStreamEarlyFailuresKeepTheirMapping(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeAPI{})
	_, err := svc.OpenStream(context.Background(), domain.ChatRequest{BotID: "nope", Message: "hi"})
	assert.ErrorIs(t, err, domain.ErrBotNotFound)
	assert.NotErrorIs(t, err, domain.ErrStreamSetup)

	_, err = svc.OpenStream(context.Background(), domain.ChatRequest{BotID: "b1"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestStreamTransitions(t *testing.T) {
	s := &Stream{}
	assert.False(t, s.transition(stateAwaitingReady))
	assert.True(t, s.transition(stateStreaming))
	assert.False(t, s.transition(stateStreaming))
	assert.True(t, s.transition(stateEnded))
	assert.False(t, s.transition(stateEnded))
	assert.False(t, s.transition(stateStreaming))
	assert.Equal(t, "ended", s.state.String())
}
