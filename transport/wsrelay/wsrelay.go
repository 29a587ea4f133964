// Package wsrelay connects to a chat relay over a websocket and keeps that connection
// alive for the lifetime of a context.
package wsrelay

import (
	"club-link/applog"
	"club-link/protocol"
	"club-link/transport"
	"context"
	"errors"
	"fmt"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"sync"
	"time"
)

const (
	handshakeTimeout         = 10 * time.Second
	defaultReconnectInterval = 5 * time.Second
	pongWait                 = 60 * time.Second
	pingInterval             = pongWait * 9 / 10
)

type Client struct {
	relayURL          string
	room              string
	member            protocol.MemberId
	reconnectInterval time.Duration
	dialer            *websocket.Dialer

	mu           sync.Mutex
	conn         *websocket.Conn
	handler      func(transport.Frame)
	onConnection func(connected bool)
	writeMu      sync.Mutex
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
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

// Run dials the relay and keeps reconnecting until ctx is done. Sends fail with
// transport.ErrNotConnected whenever no connection is up.
func (c *Client) Run(ctx context.Context) error {
	endpoint, err := transport.Endpoint(c.relayURL, c.room, "ws", c.member)
	if err != nil {
		return err
	}
	switch endpoint.Scheme {
	case "http":
		endpoint.Scheme = "ws"
	case "https":
		endpoint.Scheme = "wss"
	}

	for {
		conn, _, err := c.dialer.DialContext(ctx, endpoint.String(), nil)
		if err != nil {
			applog.Warn("Could not connect to chat relay",
				zap.String("url", endpoint.Redacted()),
				zap.Error(err),
			)
		} else {
			applog.Info("Connected to chat relay", zap.String("room", c.room))
			c.serve(ctx, conn)
			applog.Info("Disconnected from chat relay", zap.String("room", c.room))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.reconnectInterval):
		}
	}
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	c.setConn(conn)

	done := make(chan struct{})
	defer func() {
		close(done)
		c.setConn(nil)
		_ = conn.Close()
	}()

	go c.keepAlive(ctx, conn, done)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame transport.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				ctx.Err() == nil {
				applog.Debug("Chat relay read failed", zap.Error(err))
			}
			return
		}

		c.mu.Lock()
		handler := c.handler
		c.mu.Unlock()
		if handler != nil {
			handler(frame)
		}
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	notify := c.onConnection
	c.mu.Unlock()
	if notify != nil {
		notify(conn != nil)
	}
}

// OnConnectionChange registers fn to be told whenever the relay connection comes up or
// goes down.
func (c *Client) OnConnectionChange(fn func(connected bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnection = fn
}

func (c *Client) keepAlive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.writeMu.Lock()
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			c.writeMu.Unlock()
			_ = conn.Close()
			return
		case <-done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(handshakeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *Client) Send(ctx context.Context, frame transport.Frame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return transport.ErrNotConnected
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(handshakeTimeout)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := conn.WriteJSON(frame); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return transport.ErrNotConnected
		}
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (c *Client) Subscribe(handler func(transport.Frame)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
	return nil
}
