package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"chat-relay/internal/domain"
	"chat-relay/internal/infra/config"
	"chat-relay/internal/infra/metrics"
)

type streamState int

const (
	stateAwaitingReady streamState = iota
	stateStreaming
	stateEnded
)

func (s streamState) String() string {
	switch s {
	case stateAwaitingReady:
		return "awaiting_ready"
	case stateStreaming:
		return "streaming"
	case stateEnded:
		return "ended"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// transitions lists the legal moves of the stream state machine. Ended is
// terminal and entered exactly once.
var transitions = map[streamState]map[streamState]bool{
	stateAwaitingReady: {stateStreaming: true, stateEnded: true},
	stateStreaming:     {stateEnded: true},
}

// End causes, used as log fields and metric labels.
const (
	causeCompleted = "completed"
	causeFailed    = "failed"
	causeEOF       = "eof"
	causeReadError = "read_error"
	causeClient    = "client_gone"
	causeWrite     = "write_error"
)

// Stream transcodes one upstream run into client frames. All of its state
// is owned by a single request and released by the end guard.
type Stream struct {
	threadID string
	cfg      config.RelayConfig
	logger   *slog.Logger

	// Upstream source; nil for a fallback stream.
	events <-chan domain.RunEvent
	cancel context.CancelFunc
	// Fallback text for inactive bots.
	fallback string

	mu        sync.Mutex
	state     streamState
	w         domain.FrameWriter
	acc       strings.Builder
	last      string
	stopBeat  chan struct{}
	endCause  string
	closeOnce sync.Once
}

func newUpstreamStream(threadID string, events <-chan domain.RunEvent, cancel context.CancelFunc, cfg config.RelayConfig, logger *slog.Logger) *Stream {
	return &Stream{
		threadID: threadID,
		events:   events,
		cancel:   cancel,
		cfg:      cfg,
		logger:   logger,
		stopBeat: make(chan struct{}),
	}
}

func newFallbackStream(threadID, fallback string, cfg config.RelayConfig, logger *slog.Logger) *Stream {
	return &Stream{
		threadID: threadID,
		fallback: fallback,
		cancel:   func() {},
		cfg:      cfg,
		logger:   logger,
		stopBeat: make(chan struct{}),
	}
}

// ThreadID returns the thread announced in the ready frame; empty when the
// conversation has none.
func (s *Stream) ThreadID() string { return s.threadID }

// Pump writes the stream to w until the run finishes, fails, the upstream
// drops or ctx is cancelled. Exactly one ready and one end frame are
// written and w is closed exactly once, on every path.
func (s *Stream) Pump(ctx context.Context, w domain.FrameWriter) error {
	s.mu.Lock()
	s.w = w
	s.mu.Unlock()
	defer s.end(causeEOF)

	if err := s.open(); err != nil {
		s.end(causeWrite)
		return err
	}

	if s.events == nil {
		if !s.writeFallback() {
			s.end(causeWrite)
			return nil
		}
		s.end(causeCompleted)
		return nil
	}

	go s.heartbeat()

	for {
		select {
		case <-ctx.Done():
			s.end(causeClient)
			return ctx.Err()
		case ev, ok := <-s.events:
			if !ok {
				s.end(causeEOF)
				return nil
			}
			if ev.Err != nil {
				s.logger.Warn("upstream stream read failed", "error", ev.Err)
				s.end(causeReadError)
				return nil
			}
			switch classify(ev) {
			case kindDelta:
				text, ok := extractDelta(ev.Data)
				if !ok {
					continue
				}
				if !s.onDelta(text) {
					s.end(causeWrite)
					return nil
				}
			case kindFailure:
				s.logger.Warn("upstream run failed", "event", ev.Name, "data", string(ev.Data))
				s.end(causeFailed)
				return nil
			case kindCompletion:
				s.end(causeCompleted)
				return nil
			}
		}
	}
}

// transition moves the state machine; callers hold s.mu.
func (s *Stream) transition(to streamState) bool {
	if !transitions[s.state][to] {
		return false
	}
	s.state = to
	return true
}

// open writes the padding comment and the ready frame.
func (s *Stream) open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateAwaitingReady {
		return fmt.Errorf("stream already %s", s.state)
	}
	if s.cfg.PaddingBytes > 0 {
		if err := s.w.WriteComment(strings.Repeat(" ", s.cfg.PaddingBytes)); err != nil {
			return err
		}
	}
	if err := s.w.WriteEvent(domain.FrameReady, domain.ReadyPayload{ThreadID: domain.NullableString(s.threadID)}); err != nil {
		return err
	}
	metrics.StreamFrames.WithLabelValues(domain.FrameReady).Inc()
	s.transition(stateStreaming)
	return nil
}

// onDelta strips citations from a fragment, drops duplicates and forwards
// the rest. It reports false when the client write failed.
func (s *Stream) onDelta(fragment string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateStreaming {
		return true
	}
	text := StripCitations(fragment)
	if text == "" || text == s.last || strings.HasSuffix(s.acc.String(), text) {
		return true
	}
	s.last = text
	s.acc.WriteString(text)

	if err := s.w.WriteEvent(domain.FrameDelta, domain.DeltaPayload{Text: text}); err != nil {
		s.logger.Debug("delta write failed", "error", err)
		return false
	}
	metrics.StreamFrames.WithLabelValues(domain.FrameDelta).Inc()
	return true
}

// writeFallback sends the fallback as a single delta, untouched, and makes
// it the end text. It reports false when the client write failed.
func (s *Stream) writeFallback() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateStreaming {
		return true
	}
	s.acc.WriteString(s.fallback)
	if err := s.w.WriteEvent(domain.FrameDelta, domain.DeltaPayload{Text: s.fallback}); err != nil {
		s.logger.Debug("delta write failed", "error", err)
		return false
	}
	metrics.StreamFrames.WithLabelValues(domain.FrameDelta).Inc()
	return true
}

func (s *Stream) heartbeat() {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopBeat:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.state == stateStreaming {
				if err := s.w.WriteComment("keep-alive"); err == nil {
					metrics.StreamFrames.WithLabelValues("heartbeat").Inc()
				}
			}
			s.mu.Unlock()
		}
	}
}

// end is the idempotent end guard. The first call writes the end frame with
// the sanitized accumulated text (the fallback as is for fallback streams), stops the heartbeat, releases the
// upstream and closes the writer. Later calls do nothing and report false.
func (s *Stream) end(cause string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	announced := s.state == stateStreaming
	if !s.transition(stateEnded) {
		return false
	}
	s.endCause = cause
	close(s.stopBeat)
	s.cancel()

	text := s.acc.String()
	if s.events != nil {
		text = Sanitize(text)
	}
	if s.w != nil {
		// An end frame is only meaningful after ready.
		if announced {
			if err := s.w.WriteEvent(domain.FrameEnd, domain.EndPayload{ThreadID: domain.NullableString(s.threadID), Text: text}); err == nil {
				metrics.StreamFrames.WithLabelValues(domain.FrameEnd).Inc()
			}
		}
		s.closeOnce.Do(func() {
			if err := s.w.Close(); err != nil {
				s.logger.Debug("stream close failed", "error", err)
			}
		})
	}

	metrics.StreamEnds.WithLabelValues(cause).Inc()
	metrics.ChatRequests.WithLabelValues("stream", cause).Inc()
	s.logger.Info("stream ended", "cause", cause, "chars", len(text))
	return true
}
