package apiclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// Progress status values reported by the client itself.
const (
	StatusError = "error"

	MsgParseFailed    = "Failed to parse progress update"
	MsgConnectionLost = "Lost connection to conversion service"
)

// Progress is one update of the conversion progress feed.
type Progress struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Subscription is an open progress feed. Close it on every exit path.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Close stops the feed and waits for the reader to exit. It is safe to call
// more than once and from any goroutine.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
	<-s.done
}

// Done is closed once the feed has stopped.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// SubscribeProgress opens GET /convert/stream and calls fn for every
// message. A message that is not valid JSON is reported as an error update.
// When the stream fails, fn receives a final error update and the
// subscription closes itself. fn runs on the reader goroutine.
func (c *Client) SubscribeProgress(ctx context.Context, fn func(Progress)) (*Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/convert/stream", nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open progress stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("failed to open progress stream: %s", resp.Status)
	}

	sub := &Subscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		defer resp.Body.Close()

		err := readEvents(bufio.NewScanner(resp.Body), func(data string) {
			var p Progress
			if err := json.Unmarshal([]byte(data), &p); err != nil {
				c.log.Warn("Error parsing progress update", "error", err)
				fn(Progress{Status: StatusError, Message: MsgParseFailed})
				return
			}
			fn(p)
		})
		if ctx.Err() != nil {
			return
		}
		c.log.Warn("Progress stream failed", "error", err)
		fn(Progress{Status: StatusError, Message: MsgConnectionLost})
		sub.once.Do(cancel)
	}()
	return sub, nil
}

// readEvents dispatches the data of each server-sent event until the stream
// ends. Multi-line data fields are joined with newlines.
func readEvents(sc *bufio.Scanner, dispatch func(data string)) error {
	var data []string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				dispatch(strings.Join(data, "\n"))
				data = data[:0]
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return fmt.Errorf("stream closed")
}
