package relay

import (
	"bytes"
	"encoding/json"
	"strings"

	"chat-relay/internal/domain"
)

type eventKind int

const (
	kindIgnore eventKind = iota
	kindDelta
	kindFailure
	kindCompletion
)

var (
	deltaEvents = map[string]bool{
		"thread.message.delta":       true,
		"response.output_text.delta": true,
		"message.delta":              true,
		"delta":                      true,
	}
	failureEvents = map[string]bool{
		"thread.run.failed":    true,
		"thread.run.cancelled": true,
		"thread.run.expired":   true,
		"response.failed":      true,
		"error":                true,
	}
	completionEvents = map[string]bool{
		"thread.run.completed": true,
		"response.completed":   true,
		"done":                 true,
	}
)

var doneSentinel = []byte("[DONE]")

// classify maps an upstream frame to what the stream should do with it.
// Unnamed frames fall back to the payload's "object" or "type" field.
func classify(ev domain.RunEvent) eventKind {
	if bytes.Equal(bytes.TrimSpace(ev.Data), doneSentinel) {
		return kindCompletion
	}
	name := ev.Name
	if name == "" {
		name = payloadType(ev.Data)
	}
	switch {
	case deltaEvents[name]:
		return kindDelta
	case failureEvents[name]:
		return kindFailure
	case completionEvents[name]:
		return kindCompletion
	}
	return kindIgnore
}

func payloadType(data []byte) string {
	var p struct {
		Object string `json:"object"`
		Type   string `json:"type"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return ""
	}
	if p.Object != "" {
		return p.Object
	}
	return p.Type
}

// deltaMatcher extracts text from one known delta payload shape.
type deltaMatcher func(data []byte) (string, bool)

// deltaMatchers are tried in order; the first non-empty match wins.
var deltaMatchers = []deltaMatcher{
	matchPlainDelta,
	matchContentParts,
	matchOutputText,
}

// extractDelta returns the text carried by a delta payload.
func extractDelta(data []byte) (string, bool) {
	for _, m := range deltaMatchers {
		if s, ok := m(data); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

// {"delta":"..."}
func matchPlainDelta(data []byte) (string, bool) {
	var p struct {
		Delta json.RawMessage `json:"delta"`
	}
	if err := json.Unmarshal(data, &p); err != nil || len(p.Delta) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(p.Delta, &s); err != nil {
		return "", false
	}
	return s, true
}

// {"delta":{"content":[{"type":"text","text":{"value":"..."}}]}}
func matchContentParts(data []byte) (string, bool) {
	var p struct {
		Delta struct {
			Content []struct {
				Type string `json:"type"`
				Text struct {
					Value string `json:"value"`
				} `json:"text"`
			} `json:"content"`
		} `json:"delta"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return "", false
	}
	var b strings.Builder
	for _, c := range p.Delta.Content {
		if c.Type == "text" {
			b.WriteString(c.Text.Value)
		}
	}
	return b.String(), b.Len() > 0
}

// {"output_text":"..."}, {"text":{"value":"..."}} or {"text":"..."}
func matchOutputText(data []byte) (string, bool) {
	var p struct {
		OutputText string          `json:"output_text"`
		Text       json.RawMessage `json:"text"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return "", false
	}
	if p.OutputText != "" {
		return p.OutputText, true
	}
	if len(p.Text) == 0 {
		return "", false
	}
	var v struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(p.Text, &v); err == nil && v.Value != "" {
		return v.Value, true
	}
	var s string
	if err := json.Unmarshal(p.Text, &s); err == nil {
		return s, s != ""
	}
	return "", false
}
