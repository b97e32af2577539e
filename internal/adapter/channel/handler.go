package channel

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"chat-relay/internal/domain"
	"chat-relay/internal/infra/logger"
	"chat-relay/internal/usecase/relay"
)

const (
	msgMissingFields = "chatbot_id and message are required"
	msgBotNotFound   = "Chatbot not found"
	msgBodyTooLarge  = "request body too large"
)

// Relay is the chat surface the handler drives.
type Relay interface {
	Reply(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error)
	OpenStream(ctx context.Context, req domain.ChatRequest) (*relay.Stream, error)
}

// ChatHandler serves POST /api/v1/chat.
type ChatHandler struct {
	relay   Relay
	maxBody int64
	logger  *slog.Logger
}

// NewChatHandler creates a handler capping request bodies at maxBody bytes.
func NewChatHandler(r Relay, maxBody int64, logger *slog.Logger) *ChatHandler {
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &ChatHandler{relay: r, maxBody: maxBody, logger: logger}
}

func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context(), h.logger)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, msgBodyTooLarge)
			return
		}
		// A truncated body is handled like a malformed one.
		body = nil
	}

	req, err := decodeChatRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, msgMissingFields)
		return
	}

	log = log.With("bot_id", req.BotID, "stream", req.Stream)
	ctx := logger.WithContext(r.Context(), log)

	if req.Stream {
		h.serveStream(ctx, w, req, log)
		return
	}

	resp, err := h.relay.Reply(ctx, req)
	if err != nil {
		h.fail(w, err, log)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ChatHandler) serveStream(ctx context.Context, w http.ResponseWriter, req domain.ChatRequest, log *slog.Logger) {
	st, err := h.relay.OpenStream(ctx, req)
	if err != nil {
		h.fail(w, err, log)
		return
	}
	if err := st.Pump(ctx, newSSEWriter(w)); err != nil {
		log.Debug("stream pump stopped", "error", err)
	}
}

func (h *ChatHandler) fail(w http.ResponseWriter, err error, log *slog.Logger) {
	status, msg := errorResponse(err)
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	log.Log(context.Background(), level, "chat request failed",
		"status", status, "code", domain.ErrorCodeOf(err), "error", err)
	writeError(w, status, msg)
}

// errorResponse maps a relay error to its HTTP status and client message.
func errorResponse(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, msgMissingFields
	case errors.Is(err, domain.ErrBotNotFound):
		return http.StatusNotFound, msgBotNotFound
	case errors.Is(err, domain.ErrBotMisconfigured):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrStreamSetup):
		return http.StatusBadGateway, err.Error()
	}
	return http.StatusInternalServerError, err.Error()
}

func handleOptions(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, domain.ChatResponse{OK: false, Error: msg})
}
