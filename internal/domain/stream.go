package domain

// Frame event names sent to streaming clients.
const (
	FrameReady = "ready"
	FrameDelta = "delta"
	FrameEnd   = "end"
)

// ReadyPayload is the payload of the single "ready" frame.
// ThreadID is null when the conversation has no thread yet.
type ReadyPayload struct {
	ThreadID *string `json:"thread_id"`
}

// DeltaPayload is the payload of each "delta" frame.
type DeltaPayload struct {
	Text string `json:"text"`
}

// EndPayload is the payload of the single terminating "end" frame.
type EndPayload struct {
	ThreadID *string `json:"thread_id"`
	Text     string  `json:"text"`
}

// FrameWriter emits client-facing stream frames. Close is called exactly once.
type FrameWriter interface {
	WriteEvent(event string, payload any) error
	WriteComment(text string) error
	Close() error
}

// RunEvent is one upstream server-sent event. Err is set on the final event
// when the upstream reader failed.
type RunEvent struct {
	Name string
	Data []byte
	Err  error
}

// NullableString returns nil for an empty string.
func NullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
