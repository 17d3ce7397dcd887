package chatclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	eventMessageSent   = "message.sent"
	defaultRetryDelay  = time.Second
	maxStreamLineBytes = 1 << 20
)

// ErrStopStream can be returned by a handler to end Follow without error.
var ErrStopStream = errors.New("stop stream")

// StreamOptions tunes Follow.
type StreamOptions struct {
	// LastID resumes after this message id; zero replays the whole thread.
	LastID uint64
	// RetryDelay is the wait after a failed connection. A clean end of
	// stream reconnects immediately.
	RetryDelay time.Duration
	// OnError observes connection failures before each retry.
	OnError func(error)
}

// Follow reads the SSE fallback stream of an order and calls handle for each
// new message, in order. When the server ends a stream, Follow reconnects at
// once with the last delivered id so nothing is redelivered. It returns when
// ctx ends, the handler fails, or the server answers with a client error.
func (c *Client) Follow(ctx context.Context, orderID uint64, opts StreamOptions, handle func(Message) error) error {
	retry := opts.RetryDelay
	if retry <= 0 {
		retry = defaultRetryDelay
	}
	lastID := opts.LastID
	for {
		err := c.streamOnce(ctx, orderID, &lastID, handle)
		switch {
		case errors.Is(err, ErrStopStream):
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case err == nil:
			continue
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
			return err
		}
		var handlerErr handlerError
		if errors.As(err, &handlerErr) {
			return handlerErr.err
		}
		if opts.OnError != nil {
			opts.OnError(err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retry):
		}
	}
}

type handlerError struct {
	err error
}

func (e handlerError) Error() string { return e.err.Error() }

func (e handlerError) Unwrap() error { return e.err }

func (c *Client) streamOnce(ctx context.Context, orderID uint64, lastID *uint64, handle func(Message) error) error {
	url := c.orderPath(orderID, "/stream") + "?last_id=" + strconv.FormatUint(*lastID, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if *lastID > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatUint(*lastID, 10))
	}
	c.authorize(req)

	resp, err := c.streamHTTP.Do(req)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	return readEvents(resp.Body, func(evt sseEvent) error {
		if evt.event != "" && evt.event != eventMessageSent {
			return nil
		}
		var msg Message
		if err := json.Unmarshal([]byte(evt.data), &msg); err != nil {
			return fmt.Errorf("decode stream message: %w", err)
		}
		if msg.ID <= *lastID {
			return nil
		}
		if err := handle(msg); err != nil {
			if errors.Is(err, ErrStopStream) {
				return err
			}
			return handlerError{err: err}
		}
		*lastID = msg.ID
		return nil
	})
}

type sseEvent struct {
	id    string
	event string
	data  string
}

// readEvents parses a text/event-stream body. Comment lines (heartbeats) are
// skipped; a blank line dispatches the pending event. A clean EOF is nil.
func readEvents(body io.Reader, dispatch func(sseEvent) error) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLineBytes)
	var (
		pending sseEvent
		data    []string
	)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if len(data) > 0 {
				pending.data = strings.Join(data, "\n")
				if err := dispatch(pending); err != nil {
					return err
				}
			}
			pending = sseEvent{}
			data = data[:0]
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			pending.id = value
		case "event":
			pending.event = value
		case "data":
			data = append(data, value)
		}
	}
	return scanner.Err()
}
