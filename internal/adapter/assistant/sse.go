package assistant

import (
	"bufio"
	"bytes"
	"context"
	"io"

	"chat-relay/internal/domain"
)

// maxFrameLine bounds a single SSE line; message deltas can be large.
const maxFrameLine = 1 << 20

// parseRunEvents reads blank-line separated SSE frames from body and emits one
// RunEvent per frame. Multiple data lines are joined with "\n"; comment lines
// and unknown fields are ignored. A read error is delivered as a final event
// with Err set. The channel is closed when the body ends or ctx is cancelled.
func parseRunEvents(ctx context.Context, body io.ReadCloser) <-chan domain.RunEvent {
	ch := make(chan domain.RunEvent, 16)
	go func() {
		defer close(ch)
		defer body.Close()

		send := func(ev domain.RunEvent) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var (
			name    string
			data    [][]byte
			pending bool
		)
		flush := func() bool {
			if !pending {
				return true
			}
			ev := domain.RunEvent{Name: name, Data: bytes.Join(data, []byte("\n"))}
			name, data, pending = "", nil, false
			return send(ev)
		}

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxFrameLine)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}
			line := scanner.Bytes()

			if len(line) == 0 {
				if !flush() {
					return
				}
				continue
			}
			if line[0] == ':' {
				continue
			}

			field, value, _ := bytes.Cut(line, []byte(":"))
			value = bytes.TrimPrefix(value, []byte(" "))
			switch string(field) {
			case "event":
				name = string(value)
				pending = true
			case "data":
				data = append(data, append([]byte(nil), value...))
				pending = true
			}
		}

		if err := scanner.Err(); err != nil {
			if ctx.Err() != nil {
				return
			}
			if !flush() {
				return
			}
			send(domain.RunEvent{Err: err})
			return
		}
		flush()
	}()
	return ch
}
