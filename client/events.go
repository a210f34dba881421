package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
)

// Event types sent on the event stream.
const (
	EventAlertRaised   = "alert.raised"
	EventAlertResolved = "alert.resolved"
	EventSyncCompleted = "sync.completed"
	EventSyncFailed    = "sync.failed"
)

// Largest single stream message read.
const maxEventBytes = 1 << 20

var (
	// ErrStreamReset means the server no longer holds the events after the
	// requested ID. Re-read current state and watch again from zero.
	ErrStreamReset = errors.New("tenantwatch: event stream reset")

	// ErrStreamClosed means the server is shutting down. Reconnect later
	// with the last seen ID.
	ErrStreamClosed = errors.New("tenantwatch: event stream closed by server")
)

// Event is one message from the event stream.
type Event struct {
	ID       uint64          `json:"id"`
	Type     string          `json:"type"`
	TenantID string          `json:"tenant_id"`
	Data     json.RawMessage `json:"data"`
	Time     time.Time       `json:"time"`
}

// Alert decodes the payload of an alert.* event.
func (e Event) Alert() (*Alert, error) {
	var a Alert
	if err := json.Unmarshal(e.Data, &a); err != nil {
		return nil, fmt.Errorf("decoding %s event: %w", e.Type, err)
	}
	return &a, nil
}

// Run decodes the payload of a sync.* event.
func (e Event) Run() (*SyncRun, error) {
	var r SyncRun
	if err := json.Unmarshal(e.Data, &r); err != nil {
		return nil, fmt.Errorf("decoding %s event: %w", e.Type, err)
	}
	return &r, nil
}

// EventService reads the live event stream.
type EventService struct {
	c *Client
}

// Watch streams events for the key's tenants to fn until ctx is done, the
// connection drops, or fn returns an error. A lastEventID above zero resumes
// after that event. The returned ID is the last one passed to fn, to resume
// from on the next call.
func (s *EventService) Watch(ctx context.Context, lastEventID uint64, fn func(Event) error) (uint64, error) {
	u, err := s.streamURL()
	if err != nil {
		return lastEventID, err
	}

	header := http.Header{}
	header.Set("User-Agent", s.c.userAgent)
	if s.c.apiKey != "" {
		header.Set("Authorization", "Bearer "+s.c.apiKey)
	}

	conn, resp, err := websocket.Dial(ctx, u, &websocket.DialOptions{
		HTTPClient: s.c.httpClient,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			body, _ := io.ReadAll(resp.Body)
			return lastEventID, parseAPIError(resp.StatusCode, body)
		}
		return lastEventID, fmt.Errorf("connecting event stream: %w", err)
	}
	defer conn.CloseNow() //nolint:errcheck // teardown

	conn.SetReadLimit(maxEventBytes)

	if lastEventID > 0 {
		sub, _ := json.Marshal(map[string]any{"type": "subscribe", "last_event_id": lastEventID})
		if err := conn.Write(ctx, websocket.MessageText, sub); err != nil {
			return lastEventID, fmt.Errorf("subscribing: %w", err)
		}
	}

	last := lastEventID

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			return last, fmt.Errorf("reading event stream: %w", err)
		}

		var msg struct {
			Event
			Reason string `json:"reason"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			return last, fmt.Errorf("decoding event: %w", err)
		}

		switch msg.Type {
		case "reset":
			conn.Close(websocket.StatusNormalClosure, "") //nolint:errcheck // best effort
			return last, ErrStreamReset
		case "shutdown":
			return last, ErrStreamClosed
		}

		if err := fn(msg.Event); err != nil {
			conn.Close(websocket.StatusNormalClosure, "") //nolint:errcheck // best effort
			return last, err
		}

		if msg.ID > last {
			last = msg.ID
		}
	}
}

// streamURL maps the http(s) base URL to ws(s).
func (s *EventService) streamURL() (string, error) {
	u, err := url.Parse(s.c.baseURL + "/api/v1/events")
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	return u.String(), nil
}
