package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"chat-relay/internal/domain"
)

// chatRequestSchema type-checks the required pair. Optional fields are
// read leniently and a wrongly typed one counts as absent. Presence is
// checked by domain.ChatRequest.Validate so the error text stays stable.
const chatRequestSchema = `{
	"type": "object",
	"properties": {
		"chatbot_id": {"type": ["string", "null"]},
		"botId":      {"type": ["string", "null"]},
		"message":    {"type": ["string", "null"]}
	}
}`

var requestSchema = compileRequestSchema()

func compileRequestSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("chat_request.json", strings.NewReader(chatRequestSchema)); err != nil {
		panic(fmt.Sprintf("add chat request schema: %v", err))
	}
	return compiler.MustCompile("chat_request.json")
}

// decodeChatRequest turns a raw body into a ChatRequest. A body that is not
// a JSON object is treated as empty. Snake case fields win over their
// camelCase aliases.
func decodeChatRequest(body []byte) (domain.ChatRequest, error) {
	fields := map[string]any{}
	var raw any
	if err := json.Unmarshal(body, &raw); err == nil {
		if m, ok := raw.(map[string]any); ok {
			fields = m
		}
	}

	if err := requestSchema.Validate(fields); err != nil {
		return domain.ChatRequest{}, fmt.Errorf("%w: %s", domain.ErrInvalidInput, schemaMessage(err))
	}

	return domain.ChatRequest{
		BotID:    pick(fields, "chatbot_id", "botId"),
		Message:  pick(fields, "message"),
		ThreadID: pick(fields, "thread_id", "threadId"),
		UserID:   pick(fields, "user_id", "userId"),
		Stream:   streamFlag(fields["stream"]),
	}, nil
}

// streamFlag accepts a JSON boolean or its string form; anything else is false.
func streamFlag(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(t))
		return b
	}
	return false
}

// pick returns the first non-empty string among keys.
func pick(fields map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := fields[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// schemaMessage reduces a schema error to its first leaf, e.g.
// "/stream: expected boolean or null, but got string".
func schemaMessage(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	loc := ve.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return loc + ": " + ve.Message
}
