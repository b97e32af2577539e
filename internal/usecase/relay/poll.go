package relay

import (
	"context"
	"time"

	"chat-relay/internal/domain"
)

// awaitRun polls the run until it reaches a terminal status or the poll
// timeout elapses. Reaching the timeout is not an error: timedOut is set and
// the caller proceeds with whatever the thread holds. Cancellation of ctx
// and upstream errors abort the wait.
func (s *Service) awaitRun(ctx context.Context, run *domain.Run) (status domain.RunStatus, timedOut bool, err error) {
	pollCtx, cancel := context.WithTimeout(ctx, s.cfg.PollTimeout)
	defer cancel()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	status = run.Status
	for !status.Terminal() {
		select {
		case <-pollCtx.Done():
			if err := ctx.Err(); err != nil {
				return status, false, err
			}
			return status, true, nil
		case <-ticker.C:
		}

		current, err := s.api.GetRun(pollCtx, run.ThreadID, run.ID)
		if err != nil {
			if ctx.Err() == nil && pollCtx.Err() != nil {
				return status, true, nil
			}
			return status, false, err
		}
		status = current.Status
	}
	return status, false, nil
}
