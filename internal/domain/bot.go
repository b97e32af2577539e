package domain

import (
	"context"
	"strings"
)

// BotStatus is the administrative state of a bot as stored.
// Values are compared case-insensitively; only "inactive" disables a bot.
type BotStatus string

const (
	BotStatusReady    BotStatus = "ready"
	BotStatusActive   BotStatus = "active"
	BotStatusInactive BotStatus = "inactive"
)

// DefaultFallbackMessage is returned when a bot has no fallback configured.
const DefaultFallbackMessage = "Sorry, I can't answer right now. Please try again later."

// NoInformationPhrase is the exact reply the assistant is instructed to give
// when the linked knowledge does not cover a question.
const NoInformationPhrase = "I don't have that information."

// Bot is a read-only snapshot of one chatbot's configuration.
type Bot struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Status          BotStatus `json:"status"`
	AssistantID     string    `json:"assistant_id,omitempty"`
	FallbackMessage string    `json:"fallback_message,omitempty"`
}

// Active reports whether the bot may reach the upstream assistant.
// An absent status counts as ready.
func (b *Bot) Active() bool {
	return BotStatus(strings.ToLower(strings.TrimSpace(string(b.Status)))) != BotStatusInactive
}

// Fallback returns the configured fallback text or DefaultFallbackMessage.
func (b *Bot) Fallback() string {
	if s := strings.TrimSpace(b.FallbackMessage); s != "" {
		return b.FallbackMessage
	}
	return DefaultFallbackMessage
}

// DisplayName returns the bot name, or a neutral label when unnamed.
func (b *Bot) DisplayName() string {
	if s := strings.TrimSpace(b.Name); s != "" {
		return s
	}
	return "Assistant"
}

// BotStore resolves bot configuration. Implementations perform exactly one
// read per call and return ErrBotNotFound for unknown ids.
type BotStore interface {
	GetBot(ctx context.Context, id string) (*Bot, error)
}
