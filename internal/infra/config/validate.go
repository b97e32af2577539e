package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
// Credentials are not required here; see RequireCredentials.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateServer(cfg, ve)
	validateAssistant(cfg, ve)
	validateRelay(cfg, ve)
	validateStore(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

// RequireCredentials checks the secrets needed to serve traffic.
func RequireCredentials(cfg *Config) error {
	ve := &ValidationError{}
	if cfg.Assistant.APIKey == "" {
		ve.Add("assistant.api_key is empty (set via RELAY_ASSISTANT_API_KEY or OPENAI_API_KEY)")
	}
	if cfg.Store.Driver == "rest" && cfg.Store.ServiceKey == "" {
		ve.Add("store.service_key is empty (set via RELAY_STORE_SERVICE_KEY or SUPABASE_SERVICE_ROLE_KEY)")
	}
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateServer(cfg *Config, ve *ValidationError) {
	s := cfg.Server
	if s.Addr == "" {
		ve.Add("server.addr must not be empty")
	} else if _, _, err := net.SplitHostPort(s.Addr); err != nil {
		ve.Add("server.addr %q is invalid: %v", s.Addr, err)
	}
	if s.MaxBodyBytes <= 0 {
		ve.Add("server.max_body_bytes must be > 0")
	}
	if s.RateLimit.Enabled {
		if s.RateLimit.RequestsPerMin <= 0 {
			ve.Add("server.rate_limit.requests_per_min must be > 0 when rate limiting is enabled")
		}
		if s.RateLimit.Burst <= 0 {
			ve.Add("server.rate_limit.burst must be > 0 when rate limiting is enabled")
		}
		if u := s.RateLimit.RedisURL; u != "" {
			if parsed, err := url.Parse(u); err != nil || !validRedisSchemes[parsed.Scheme] {
				ve.Add("server.rate_limit.redis_url %q must use redis://, rediss:// or unix://", u)
			}
		}
	}
}

var validRedisSchemes = map[string]bool{"redis": true, "rediss": true, "unix": true}

func validateAssistant(cfg *Config, ve *ValidationError) {
	a := cfg.Assistant
	if a.BaseURL == "" {
		ve.Add("assistant.base_url must not be empty")
	} else if u, err := url.Parse(a.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		ve.Add("assistant.base_url %q is not an absolute URL", a.BaseURL)
	}
	if a.ConnTimeout < 0 || a.RespTimeout < 0 {
		ve.Add("assistant timeouts must be >= 0")
	}
	if a.CircuitBreaker.Enabled && a.CircuitBreaker.MaxFailures == 0 {
		ve.Add("assistant.circuit_breaker.max_failures must be > 0 when enabled")
	}
}

func validateRelay(cfg *Config, ve *ValidationError) {
	r := cfg.Relay
	if r.PollInterval <= 0 {
		ve.Add("relay.poll_interval must be > 0")
	}
	if r.PollTimeout <= 0 {
		ve.Add("relay.poll_timeout must be > 0")
	}
	if r.PollInterval > 0 && r.PollTimeout > 0 && r.PollInterval > r.PollTimeout {
		ve.Add("relay.poll_interval must not exceed relay.poll_timeout")
	}
	if r.HeartbeatInterval <= 0 {
		ve.Add("relay.heartbeat_interval must be > 0")
	}
	if r.PaddingBytes < 0 {
		ve.Add("relay.padding_bytes must be >= 0")
	}
	if r.MessageLimit <= 0 || r.MessageLimit > 100 {
		ve.Add("relay.message_limit must be between 1 and 100")
	}
	if r.MaxSentences <= 0 {
		ve.Add("relay.max_sentences must be > 0")
	}
}

var validStoreDrivers = map[string]bool{
	"rest":     true,
	"postgres": true,
	"sqlite":   true,
}

func validateStore(cfg *Config, ve *ValidationError) {
	s := cfg.Store
	if !validStoreDrivers[s.Driver] {
		ve.Add("store.driver %q is invalid (want: rest, postgres, sqlite)", s.Driver)
		return
	}
	if s.Table == "" {
		ve.Add("store.table must not be empty")
	}
	switch s.Driver {
	case "rest":
		if s.URL == "" {
			ve.Add("store.url is required when driver is rest")
		} else if u, err := url.Parse(s.URL); err != nil || u.Scheme == "" || u.Host == "" {
			ve.Add("store.url %q is not an absolute URL", s.URL)
		}
	case "postgres":
		if s.DSN == "" {
			ve.Add("store.dsn is required when driver is postgres")
		}
	case "sqlite":
		if s.Path == "" {
			ve.Add("store.path is required when driver is sqlite")
		}
	}
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "warning": true, "error": true,
}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q is invalid (want: noop, stdout)", cfg.Tracer.Exporter)
	}
}
