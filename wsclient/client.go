// Copyright 2026 The hbridge Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package wsclient is the browser plane's control-channel client: a single
// socket to the fixed server URL, with infinite reconnect on a fixed delay
// and active cancellation of every in-flight fetch when the socket drops.
//
// Grounded on the teacher's mcp/websocket.go WebSocketClientTransport (dial
// shape) and streamableClientConn's reconnect loop (retried in a background
// goroutine, one send path, one receive path).
package wsclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/riverrun/hbridge/config"
	"github.com/riverrun/hbridge/frame"
)

// RequestHandler processes one incoming RequestSpec. It is invoked in its
// own goroutine and should honor ctx cancellation, which fires when the
// control channel drops.
type RequestHandler func(ctx context.Context, spec *frame.RequestSpec)

// Client is the single control-channel connection the browser plane
// maintains to the server plane.
type Client struct {
	url     string
	handler RequestHandler
	logger  *slog.Logger
	dialer  *websocket.Dialer

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	writeMu   sync.Mutex
	inFlight  map[string]context.CancelFunc
}

// New returns a Client that will call handler for every RequestSpec it
// receives once Run is started.
func New(url string, handler RequestHandler, logger *slog.Logger) *Client {
	return &Client{
		url:      url,
		handler:  handler,
		logger:   logger,
		dialer:   websocket.DefaultDialer,
		inFlight: make(map[string]context.CancelFunc),
	}
}

// Run dials the control channel and reconnects forever on a fixed delay
// until ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.runOnce(ctx); err != nil {
			c.logger.Warn("control channel connection ended", "error", err)
		}

		c.setDisconnected()
		c.abortAll()

		select {
		case <-ctx.Done():
			return
		case <-time.After(config.ReconnectDelay):
		}
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	conn.SetReadLimit(config.MaxFramePayload)

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.logger.Info("control channel connected", "url", c.url)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return err
		}
		if messageType != websocket.TextMessage {
			continue
		}

		f, err := frame.Decode(data)
		if err != nil {
			c.logger.Warn("control channel: dropping malformed frame", "error", err)
			continue
		}
		spec, ok := f.(*frame.RequestSpec)
		if !ok {
			// The browser plane only ever receives RequestSpecs.
			c.logger.Warn("control channel: ignoring unexpected frame from server", "frame", fmt.Sprintf("%T", f))
			continue
		}

		reqCtx, cancel := context.WithCancel(ctx)
		c.track(spec.RequestID, cancel)
		go func() {
			defer c.untrack(spec.RequestID)
			c.handler(reqCtx, spec)
		}()
	}
}

func (c *Client) setDisconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = nil
	c.connected = false
}

func (c *Client) track(id string, cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight[id] = cancel
}

func (c *Client) untrack(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, id)
}

// abortAll cancels every in-flight fetch; their subsequent Send calls will
// simply be dropped because the connection is down.
func (c *Client) abortAll() {
	c.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(c.inFlight))
	for id, cancel := range c.inFlight {
		cancels = append(cancels, cancel)
		delete(c.inFlight, id)
	}
	c.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// Send JSON-serializes f and transmits it as a single text message. If the
// client is disconnected, the frame is dropped and an error is logged.
func (c *Client) Send(f frame.Frame) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if !connected || conn == nil {
		err := fmt.Errorf("wsclient: send dropped, control channel disconnected")
		c.logger.Error("send failed", "request_id", frame.RequestID(f), "error", err)
		return err
	}

	data, err := frame.Encode(f)
	if err != nil {
		return fmt.Errorf("wsclient: encode: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}
