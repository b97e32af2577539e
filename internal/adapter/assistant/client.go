package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"chat-relay/internal/domain"
	"chat-relay/internal/infra/config"
	"chat-relay/internal/infra/metrics"
	"chat-relay/internal/infra/tracer"
)

// Client implements domain.AssistantAPI against an OpenAI Assistants v2
// compatible endpoint. It never retries.
type Client struct {
	apiKey       string
	baseURL      string
	beta         string
	client       *http.Client
	streamClient *http.Client
	logger       *slog.Logger
}

// NewClient creates a client with pooled transport and configured timeouts.
func NewClient(cfg config.AssistantConfig, logger *slog.Logger) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	client := NewHTTPClient(cfg)
	// Streams outlive any fixed request timeout; ResponseHeaderTimeout on
	// the shared transport still bounds stream setup.
	streamClient := &http.Client{Transport: client.Transport}

	return &Client{
		apiKey:       cfg.APIKey,
		baseURL:      baseURL,
		beta:         cfg.BetaHeader,
		client:       client,
		streamClient: streamClient,
		logger:       logger,
	}
}

func (c *Client) headers() map[string]string {
	h := map[string]string{}
	if c.apiKey != "" {
		h["Authorization"] = "Bearer " + c.apiKey
	}
	if c.beta != "" {
		h["OpenAI-Beta"] = c.beta
	}
	return h
}

func (c *Client) threadURL(threadID string, parts ...string) string {
	u := c.baseURL + "/threads/" + url.PathEscape(threadID)
	for _, p := range parts {
		u += "/" + url.PathEscape(p)
	}
	return u
}

// call wraps one upstream request in a span and a latency observation.
func (c *Client) call(ctx context.Context, op string, attrs []trace.SpanStartOption, fn func(ctx context.Context) error) error {
	ctx, span := tracer.StartSpan(ctx, "assistant."+op, attrs...)
	start := time.Now()
	err := fn(ctx)
	metrics.UpstreamLatency.WithLabelValues(op, metrics.Outcome(err)).Observe(time.Since(start).Seconds())
	tracer.Finish(span, err)
	if err != nil {
		return domain.NewSubSystemError("assistant", "assistant."+op, err, "")
	}
	return nil
}

// CreateThread implements domain.AssistantAPI.
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	var id string
	err := c.call(ctx, "create_thread", nil, func(ctx context.Context) error {
		respBody, err := doJSONRequest(ctx, c.client, http.MethodPost, c.baseURL+"/threads", []byte("{}"), c.headers())
		if err != nil {
			return err
		}
		var t threadObject
		if err := json.Unmarshal(respBody, &t); err != nil {
			return fmt.Errorf("unmarshal thread: %w", err)
		}
		if t.ID == "" {
			return fmt.Errorf("%w: thread response without id", domain.ErrProviderError)
		}
		id = t.ID
		return nil
	})
	if err != nil {
		return "", err
	}
	c.logger.Debug("assistant thread created", "thread_id", id)
	return id, nil
}

// AddMessage implements domain.AssistantAPI.
func (c *Client) AddMessage(ctx context.Context, threadID, content, userID string) error {
	attrs := []trace.SpanStartOption{trace.WithAttributes(tracer.ThreadAttr(threadID))}
	return c.call(ctx, "add_message", attrs, func(ctx context.Context) error {
		req := messageCreateRequest{Role: domain.RoleUser, Content: content}
		if userID != "" {
			req.Metadata = map[string]string{"user_id": userID}
		}
		body, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		_, err = doJSONRequest(ctx, c.client, http.MethodPost, c.threadURL(threadID, "messages"), body, c.headers())
		return err
	})
}

// CreateRun implements domain.AssistantAPI.
func (c *Client) CreateRun(ctx context.Context, req domain.RunRequest) (*domain.Run, error) {
	attrs := []trace.SpanStartOption{trace.WithAttributes(tracer.ThreadAttr(req.ThreadID))}
	var run *domain.Run
	err := c.call(ctx, "create_run", attrs, func(ctx context.Context) error {
		body, err := json.Marshal(toRunCreateRequest(req, false))
		if err != nil {
			return fmt.Errorf("marshal run: %w", err)
		}
		respBody, err := doJSONRequest(ctx, c.client, http.MethodPost, c.threadURL(req.ThreadID, "runs"), body, c.headers())
		if err != nil {
			return err
		}
		run, err = decodeRun(respBody, req.ThreadID)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.logger.Debug("assistant run created", "thread_id", run.ThreadID, "run_id", run.ID, "status", run.Status)
	return run, nil
}

// GetRun implements domain.AssistantAPI.
func (c *Client) GetRun(ctx context.Context, threadID, runID string) (*domain.Run, error) {
	attrs := []trace.SpanStartOption{trace.WithAttributes(tracer.ThreadAttr(threadID), tracer.RunAttr(runID))}
	var run *domain.Run
	err := c.call(ctx, "get_run", attrs, func(ctx context.Context) error {
		respBody, err := doJSONRequest(ctx, c.client, http.MethodGet, c.threadURL(threadID, "runs", runID), nil, c.headers())
		if err != nil {
			return err
		}
		run, err = decodeRun(respBody, threadID)
		return err
	})
	return run, err
}

// ListMessages implements domain.AssistantAPI.
func (c *Client) ListMessages(ctx context.Context, threadID string, limit int) ([]domain.ThreadMessage, error) {
	attrs := []trace.SpanStartOption{trace.WithAttributes(tracer.ThreadAttr(threadID), tracer.IntAttr("relay.limit", limit))}
	var msgs []domain.ThreadMessage
	err := c.call(ctx, "list_messages", attrs, func(ctx context.Context) error {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(limit))
		q.Set("order", "desc")
		respBody, err := doJSONRequest(ctx, c.client, http.MethodGet, c.threadURL(threadID, "messages")+"?"+q.Encode(), nil, c.headers())
		if err != nil {
			return err
		}
		var list messageList
		if err := json.Unmarshal(respBody, &list); err != nil {
			return fmt.Errorf("unmarshal messages: %w", err)
		}
		msgs = fromMessageList(list)
		return nil
	})
	return msgs, err
}

// StreamRun implements domain.AssistantAPI. Only stream setup is covered by
// the span; the returned channel carries the rest of the run.
func (c *Client) StreamRun(ctx context.Context, req domain.RunRequest) (<-chan domain.RunEvent, error) {
	attrs := []trace.SpanStartOption{trace.WithAttributes(tracer.ThreadAttr(req.ThreadID))}
	var resp *http.Response
	err := c.call(ctx, "stream_run", attrs, func(ctx context.Context) error {
		body, err := json.Marshal(toRunCreateRequest(req, true))
		if err != nil {
			return fmt.Errorf("marshal run: %w", err)
		}
		resp, err = doStreamRequest(ctx, c.streamClient, c.threadURL(req.ThreadID, "runs"), body, c.headers())
		return err
	})
	if err != nil {
		return nil, err
	}
	return parseRunEvents(ctx, resp.Body), nil
}

var _ domain.AssistantAPI = (*Client)(nil)

// --- Assistants API wire types ---

type threadObject struct {
	ID string `json:"id"`
}

type messageCreateRequest struct {
	Role     string            `json:"role"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type runCreateRequest struct {
	AssistantID  string `json:"assistant_id"`
	Instructions string `json:"instructions,omitempty"`
	Stream       bool   `json:"stream,omitempty"`
}

type runObject struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	Status   string `json:"status"`
}

type messageList struct {
	Data []messageObject `json:"data"`
}

type messageObject struct {
	ID      string           `json:"id"`
	Role    string           `json:"role"`
	Content []messageContent `json:"content"`
}

type messageContent struct {
	Type string `json:"type"`
	Text *struct {
		Value string `json:"value"`
	} `json:"text,omitempty"`
}

func toRunCreateRequest(req domain.RunRequest, stream bool) runCreateRequest {
	return runCreateRequest{
		AssistantID:  req.AssistantID,
		Instructions: req.Instructions,
		Stream:       stream,
	}
}

func decodeRun(body []byte, threadID string) (*domain.Run, error) {
	var r runObject
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	if r.ID == "" {
		return nil, fmt.Errorf("%w: run response without id", domain.ErrProviderError)
	}
	if r.ThreadID == "" {
		r.ThreadID = threadID
	}
	return &domain.Run{ID: r.ID, ThreadID: r.ThreadID, Status: domain.RunStatus(r.Status)}, nil
}

func fromMessageList(list messageList) []domain.ThreadMessage {
	out := make([]domain.ThreadMessage, 0, len(list.Data))
	for _, m := range list.Data {
		tm := domain.ThreadMessage{ID: m.ID, Role: m.Role}
		for _, c := range m.Content {
			part := domain.ContentPart{Type: c.Type}
			if c.Text != nil {
				part.Text = c.Text.Value
			}
			tm.Content = append(tm.Content, part)
		}
		out = append(out, tm)
	}
	return out
}
