package botstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chat-relay/internal/domain"
	"chat-relay/internal/infra/config"
)

const restColumns = "id,name,status,assistant_id,fallback_message"

// RESTStore reads bots through a PostgREST-compatible endpoint.
type RESTStore struct {
	endpoint   string
	serviceKey string
	client     *http.Client
}

// NewRESTStore creates a store for {url}/rest/v1/{table}.
func NewRESTStore(cfg config.StoreConfig) (*RESTStore, error) {
	base := strings.TrimRight(cfg.URL, "/")
	if base == "" {
		return nil, fmt.Errorf("rest store: url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RESTStore{
		endpoint:   base + "/rest/v1/" + url.PathEscape(cfg.Table),
		serviceKey: cfg.ServiceKey,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

// GetBot implements domain.BotStore.
func (s *RESTStore) GetBot(ctx context.Context, id string) (*domain.Bot, error) {
	q := url.Values{}
	q.Set("id", "eq."+id)
	q.Set("select", restColumns)
	q.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.serviceKey != "" {
		req.Header.Set("apikey", s.serviceKey)
		req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("store error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var rows []restRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, domain.ErrBotNotFound
	}
	return rows[0].bot(), nil
}

// Close implements Store.
func (s *RESTStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

type restRow struct {
	ID              string  `json:"id"`
	Name            *string `json:"name"`
	Status          *string `json:"status"`
	AssistantID     *string `json:"assistant_id"`
	FallbackMessage *string `json:"fallback_message"`
}

func (r restRow) bot() *domain.Bot {
	return &domain.Bot{
		ID:              r.ID,
		Name:            deref(r.Name),
		Status:          domain.BotStatus(deref(r.Status)),
		AssistantID:     deref(r.AssistantID),
		FallbackMessage: deref(r.FallbackMessage),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
