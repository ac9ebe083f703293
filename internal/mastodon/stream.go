package mastodon

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/dmitrijs2005/fedisync/internal/common"
	"github.com/dmitrijs2005/fedisync/internal/models"
	"github.com/gorilla/websocket"
)

// Event is one message of the streaming API. Item is set for events whose
// payload is an entity (update, status.update, notification).
type Event struct {
	Type    string
	Stream  []string
	Item    models.Item
	Payload string
}

type wireEvent struct {
	Stream  []string `json:"stream"`
	Event   string   `json:"event"`
	Payload string   `json:"payload"`
}

// StreamURL returns the websocket endpoint for stream on domain.
func (c *Client) StreamURL(domain, stream string) string {
	base := c.BaseURL(domain)
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/api/v1/streaming?stream=" + url.QueryEscape(stream)
}

// Stream subscribes to stream (e.g. "user") and calls fn for each event
// until ctx is done, the connection drops, or fn returns an error.
func (c *Client) Stream(ctx context.Context, domain, stream string, fn func(context.Context, Event) error) error {
	header, err := c.authHeaders(ctx, domain)
	if err != nil {
		return err
	}
	header.Del("Accept")

	dialer := websocket.Dialer{HandshakeTimeout: c.httpClient.Timeout}
	conn, resp, err := dialer.DialContext(ctx, c.StreamURL(domain, stream), header)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			if c.headers != nil {
				c.headers.Invalidate(domain)
			}
			return fmt.Errorf("%w: %s streaming", common.ErrUnauthenticated, domain)
		}
		return &TransportError{URL: c.StreamURL(domain, stream), Err: err}
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		var msg wireEvent
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &TransportError{URL: c.StreamURL(domain, stream), Err: err}
		}

		ev := Event{Type: msg.Event, Stream: msg.Stream, Payload: msg.Payload}
		if strings.HasPrefix(strings.TrimSpace(msg.Payload), "{") {
			var item models.Item
			if err := models.DecodeJSON([]byte(msg.Payload), &item); err == nil {
				ev.Item = item
			}
		}
		if err := fn(ctx, ev); err != nil {
			return err
		}
	}
}
