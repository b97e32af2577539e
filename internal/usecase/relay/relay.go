// Package relay bridges chat requests to an upstream assistant API. It
// resolves the bot, manages the conversation thread and answers either with
// one buffered reply or a stream of frames.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"chat-relay/internal/domain"
	"chat-relay/internal/infra/config"
	"chat-relay/internal/infra/logger"
	"chat-relay/internal/infra/metrics"
	"chat-relay/internal/infra/tracer"
)

// Service answers chat requests. It holds no per-request state and is safe
// for concurrent use.
type Service struct {
	bots   domain.BotStore
	api    domain.AssistantAPI
	cfg    config.RelayConfig
	logger *slog.Logger
}

// NewService creates a relay service. Zero-valued timings in cfg fall back
// to config.Defaults.
func NewService(bots domain.BotStore, api domain.AssistantAPI, cfg config.RelayConfig, logger *slog.Logger) *Service {
	def := config.Defaults().Relay
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = def.PollTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.MessageLimit <= 0 {
		cfg.MessageLimit = def.MessageLimit
	}
	if cfg.MaxSentences <= 0 {
		cfg.MaxSentences = def.MaxSentences
	}
	return &Service{bots: bots, api: api, cfg: cfg, logger: logger}
}

// Reply answers req with one consolidated text. Inactive bots get their
// fallback without any upstream call.
func (s *Service) Reply(ctx context.Context, req domain.ChatRequest) (resp *domain.ChatResponse, err error) {
	ctx, span := tracer.StartSpan(ctx, "relay.reply", trace.WithAttributes(tracer.BotAttr(req.BotID)))
	defer func() {
		metrics.ChatRequests.WithLabelValues("buffered", metrics.Outcome(err)).Inc()
		tracer.Finish(span, err)
	}()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx, s.logger).With("bot_id", req.BotID)

	bot, err := s.resolveBot(ctx, req.BotID)
	if err != nil {
		return nil, err
	}
	if !bot.Active() {
		metrics.InactiveReplies.Inc()
		log.Info("bot inactive, returning fallback")
		return &domain.ChatResponse{OK: true, Text: bot.Fallback()}, nil
	}

	threadID, err := s.prepareThread(ctx, bot, req)
	if err != nil {
		return nil, domain.WrapOp("relay.reply", err)
	}
	log = log.With("thread_id", threadID)

	run, err := s.api.CreateRun(ctx, s.runRequest(bot, threadID))
	if err != nil {
		return nil, domain.WrapOp("relay.reply", err)
	}
	log = log.With("run_id", run.ID)

	status, timedOut, err := s.awaitRun(ctx, run)
	if err != nil {
		return nil, domain.WrapOp("relay.reply", err)
	}
	switch {
	case timedOut:
		metrics.RunTerminalStatus.WithLabelValues("timeout").Inc()
		log.Warn("run did not finish before poll timeout", "status", status, "timeout", s.cfg.PollTimeout)
	case status != domain.RunCompleted:
		metrics.RunTerminalStatus.WithLabelValues(string(status)).Inc()
		log.Warn("run ended without completing", "status", status)
	default:
		metrics.RunTerminalStatus.WithLabelValues(string(status)).Inc()
	}

	msgs, err := s.api.ListMessages(ctx, threadID, s.cfg.MessageLimit)
	if err != nil {
		return nil, domain.WrapOp("relay.reply", err)
	}
	text := Sanitize(latestAssistantText(msgs))
	if text == "" {
		log.Info("no assistant text found, using fallback")
		text = bot.Fallback()
	}

	log.Debug("reply ready", "chars", len(text))
	return &domain.ChatResponse{OK: true, Text: text, ThreadID: threadID}, nil
}

// OpenStream performs every step that can fail before the first byte is
// written to the client, and returns a Stream ready to be pumped. A failure
// to open the upstream stream wraps domain.ErrStreamSetup.
func (s *Service) OpenStream(ctx context.Context, req domain.ChatRequest) (st *Stream, err error) {
	ctx, span := tracer.StartSpan(ctx, "relay.open_stream", trace.WithAttributes(tracer.BotAttr(req.BotID)))
	defer func() {
		if err != nil {
			metrics.ChatRequests.WithLabelValues("stream", "error").Inc()
		}
		tracer.Finish(span, err)
	}()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx, s.logger).With("bot_id", req.BotID)

	bot, err := s.resolveBot(ctx, req.BotID)
	if err != nil {
		return nil, err
	}
	if !bot.Active() {
		metrics.InactiveReplies.Inc()
		log.Info("bot inactive, streaming fallback")
		return newFallbackStream(req.ThreadID, bot.Fallback(), s.cfg, log), nil
	}

	threadID, err := s.prepareThread(ctx, bot, req)
	if err != nil {
		return nil, domain.WrapOp("relay.open_stream", err)
	}

	// Cancelled by the stream's end guard, or earlier by the client leaving.
	streamCtx, cancel := context.WithCancel(ctx)
	events, err := s.api.StreamRun(streamCtx, s.runRequest(bot, threadID))
	if err != nil {
		cancel()
		return nil, domain.NewDomainError("relay.open_stream", domain.ErrStreamSetup, err.Error())
	}

	return newUpstreamStream(threadID, events, cancel, s.cfg, log.With("thread_id", threadID)), nil
}

func (s *Service) resolveBot(ctx context.Context, id string) (*domain.Bot, error) {
	ctx, span := tracer.StartSpan(ctx, "relay.resolve_bot", trace.WithAttributes(tracer.BotAttr(id)))
	bot, err := s.bots.GetBot(ctx, id)
	tracer.Finish(span, err)
	if err != nil {
		return nil, domain.WrapOp("relay.resolve_bot", err)
	}
	return bot, nil
}

// prepareThread checks the bot can reach the assistant, creates a thread
// when the caller has none, and appends the user's message.
func (s *Service) prepareThread(ctx context.Context, bot *domain.Bot, req domain.ChatRequest) (string, error) {
	if strings.TrimSpace(bot.AssistantID) == "" {
		return "", domain.NewDomainError("relay.prepare_thread", domain.ErrBotMisconfigured,
			fmt.Sprintf("bot %q has no assistant", bot.ID))
	}

	threadID := req.ThreadID
	if threadID == "" {
		id, err := s.api.CreateThread(ctx)
		if err != nil {
			return "", err
		}
		threadID = id
	}

	if err := s.api.AddMessage(ctx, threadID, req.Message, req.UserID); err != nil {
		return "", err
	}
	return threadID, nil
}

func (s *Service) runRequest(bot *domain.Bot, threadID string) domain.RunRequest {
	return domain.RunRequest{
		ThreadID:     threadID,
		AssistantID:  bot.AssistantID,
		Instructions: BuildInstructions(bot, s.cfg.MaxSentences),
	}
}

// latestAssistantText returns the first assistant text part of msgs, which
// are ordered newest first.
func latestAssistantText(msgs []domain.ThreadMessage) string {
	for _, m := range msgs {
		if m.Role != domain.RoleAssistant {
			continue
		}
		if text, ok := m.FirstText(); ok {
			return text
		}
	}
	return ""
}
