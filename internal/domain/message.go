package domain

import (
	"fmt"
	"strings"
)

// Role constants for thread message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatRequest is one inbound chat turn addressed to a bot.
type ChatRequest struct {
	BotID    string `json:"chatbot_id"`
	Message  string `json:"message"`
	ThreadID string `json:"thread_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Stream   bool   `json:"stream,omitempty"`
}

// Validate reports ErrInvalidInput when a mandatory field is blank.
func (r ChatRequest) Validate() error {
	if strings.TrimSpace(r.BotID) == "" || strings.TrimSpace(r.Message) == "" {
		return fmt.Errorf("%w: chatbot_id and message are required", ErrInvalidInput)
	}
	return nil
}

// ChatResponse is the non-streaming answer envelope.
type ChatResponse struct {
	OK       bool   `json:"ok"`
	Text     string `json:"text,omitempty"`
	ThreadID string `json:"thread_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ThreadMessage is one message of an upstream thread as returned by a
// message listing.
type ThreadMessage struct {
	ID      string
	Role    string
	Content []ContentPart
}

// ContentPart is one typed part of a ThreadMessage.
type ContentPart struct {
	Type string // "text", "image_file", ...
	Text string
}

// FirstText returns the first non-empty text part of the message.
func (m ThreadMessage) FirstText() (string, bool) {
	for _, p := range m.Content {
		if p.Type == "text" && p.Text != "" {
			return p.Text, true
		}
	}
	return "", false
}
