// Package httprelay talks to a chat relay over plain HTTP: frames are posted one by one
// and inbound frames arrive on a server-sent event stream.
package httprelay

import (
	"club-link/applog"
	"club-link/protocol"
	"club-link/transport"
	"context"
	"encoding/json"
	"fmt"
	"go.uber.org/zap"
	"net/http"
	"resty.dev/v3"
	"sync"
	"time"
)

const defaultReconnectInterval = 5 * time.Second

type Client struct {
	relayURL          string
	room              string
	member            protocol.MemberId
	reconnectInterval time.Duration
	httpClient        *resty.Client

	mu      sync.Mutex
	handler func(transport.Frame)
}

func New(relayURL, room string, member protocol.MemberId, reconnectInterval time.Duration) *Client {
	if reconnectInterval <= 0 {
		reconnectInterval = defaultReconnectInterval
	}
	return &Client{
		relayURL:          relayURL,
		room:              room,
		member:            member,
		reconnectInterval: reconnectInterval,
		httpClient:        resty.New(),
	}
}

func (c *Client) Close() error {
	return c.httpClient.Close()
}

// Send posts frame to the relay. The relay answers 409 while the member has no open
// event stream, which maps to transport.ErrNotConnected.
func (c *Client) Send(ctx context.Context, frame transport.Frame) error {
	endpoint, err := transport.Endpoint(c.relayURL, c.room, "messages", c.member)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(frame).
		Post(endpoint.String())
	if err != nil {
		return fmt.Errorf("posting frame failed: %w", err)
	}

	switch resp.StatusCode() {
	case http.StatusAccepted, http.StatusOK:
		return nil
	case http.StatusConflict:
		return transport.ErrNotConnected
	default:
		return fmt.Errorf("posting frame failed: %v", resp.Status())
	}
}

func (c *Client) Subscribe(handler func(transport.Frame)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
	return nil
}

// Run listens on the relay's event stream until ctx is done, reopening it after every
// disconnect.
func (c *Client) Run(ctx context.Context) error {
	endpoint, err := transport.Endpoint(c.relayURL, c.room, "events", c.member)
	if err != nil {
		return err
	}

	for {
		eventSource := resty.NewEventSource().
			SetURL(endpoint.String()).
			SetHeader("Accept", "text/event-stream").
			OnMessage(c.onEvent, nil)

		stop := context.AfterFunc(ctx, eventSource.Close)
		applog.Info("Listening on chat relay event stream", zap.String("room", c.room))
		if err := eventSource.Get(); err != nil && ctx.Err() == nil {
			applog.Warn("Chat relay event stream failed",
				zap.String("url", endpoint.Redacted()),
				zap.Error(err),
			)
		}
		stop()

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.reconnectInterval):
		}
	}
}

func (c *Client) onEvent(message any) {
	event, ok := message.(*resty.Event)
	if !ok {
		applog.Warn("Unexpected event stream payload", zap.Any("message", message))
		return
	}

	var frame transport.Frame
	if err := json.Unmarshal([]byte(event.Data), &frame); err != nil {
		applog.Warn("Could not decode relay frame", zap.Error(err))
		return
	}

	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler != nil {
		handler(frame)
	}
}
