package domain

import "context"

// RunStatus is the lifecycle state of an upstream run.
type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunInProgress     RunStatus = "in_progress"
	RunRequiresAction RunStatus = "requires_action"
	RunCancelling     RunStatus = "cancelling"
	RunCompleted      RunStatus = "completed"
	RunFailed         RunStatus = "failed"
	RunCancelled      RunStatus = "cancelled"
	RunExpired        RunStatus = "expired"
)

// Terminal reports whether the run can no longer change state.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled, RunExpired:
		return true
	}
	return false
}

// Run is a single assistant invocation against a thread.
type Run struct {
	ID       string
	ThreadID string
	Status   RunStatus
}

// RunRequest describes a run to create.
type RunRequest struct {
	ThreadID     string
	AssistantID  string
	Instructions string
}

// AssistantAPI is the upstream thread/message/run surface the relay uses.
type AssistantAPI interface {
	// CreateThread starts a new empty conversation thread.
	CreateThread(ctx context.Context) (string, error)
	// AddMessage appends a user turn; userID, when set, is attached as metadata.
	AddMessage(ctx context.Context, threadID, content, userID string) error
	// CreateRun starts a buffered run.
	CreateRun(ctx context.Context, req RunRequest) (*Run, error)
	// GetRun fetches the current state of a run.
	GetRun(ctx context.Context, threadID, runID string) (*Run, error)
	// ListMessages returns up to limit messages, newest first.
	ListMessages(ctx context.Context, threadID string, limit int) ([]ThreadMessage, error)
	// StreamRun starts a streaming run. The channel yields upstream frames and
	// is closed when the stream ends, fails, or ctx is cancelled.
	StreamRun(ctx context.Context, req RunRequest) (<-chan RunEvent, error)
}
