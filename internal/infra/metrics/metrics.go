package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path"},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_rate_limit_hits_total",
			Help: "Requests rejected by the per-IP rate limiter",
		},
	)

	// Relay metrics
	ChatRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_chat_requests_total",
			Help: "Chat requests by mode and outcome",
		},
		[]string{"mode", "outcome"}, // mode: "buffered" or "stream"
	)

	InactiveReplies = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_inactive_replies_total",
			Help: "Replies short-circuited because the bot is inactive",
		},
	)

	RunTerminalStatus = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_run_terminal_status_total",
			Help: "Observed final run statuses, including poll timeouts",
		},
		[]string{"status"},
	)

	StreamFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_stream_frames_total",
			Help: "Frames written to streaming clients",
		},
		[]string{"event"},
	)

	StreamEnds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_stream_ends_total",
			Help: "Stream terminations by cause",
		},
		[]string{"cause"},
	)

	// Infrastructure metrics
	UpstreamLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_upstream_latency_seconds",
			Help:    "Assistant API call latency",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation", "outcome"},
	)

	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_store_latency_seconds",
			Help:    "Bot store lookup latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"driver"},
	)
)

// Outcome maps an error to a low-cardinality label value.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
