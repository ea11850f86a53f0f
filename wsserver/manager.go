// Copyright 2026 The hbridge Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package wsserver is the control-channel manager on the server side: it
// accepts at most one bound browser WebSocket connection at a time,
// dispatches inbound frames to a handler, and serializes outbound writes.
//
// Grounded on the teacher's mcp/websocket.go WebSocketServerTransport and
// the broadcast/connection-manager shape used for fan-out disconnect
// handling in in-process WebSocket hubs.
package wsserver

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/riverrun/hbridge/config"
	"github.com/riverrun/hbridge/frame"
)

// Handler receives decoded frames and the disconnect signal from the bound
// browser connection. Implementations must not block for long inside
// HandleFrame; the receive loop processes one frame at a time.
type Handler interface {
	HandleFrame(f frame.Frame)
	HandleDisconnect()
}

// ErrNotBound is returned by Send when no browser is currently bound.
var ErrNotBound = fmt.Errorf("wsserver: no browser connection bound")

// Manager owns the single active control-channel connection.
type Manager struct {
	upgrader websocket.Upgrader
	handler  Handler
	logger   *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	writeMu sync.Mutex
}

// NewManager returns a Manager ready to accept connections at an HTTP
// endpoint via ServeHTTP.
func NewManager(handler Handler, logger *slog.Logger) *Manager {
	return &Manager{
		handler: handler,
		logger:  logger,
		upgrader: websocket.Upgrader{
			// Very long prompts can produce very long frames.
			ReadBufferSize:    4096,
			WriteBufferSize:   4096,
			EnableCompression: false, // per-message compression destabilizes large frames
			CheckOrigin:       func(r *http.Request) bool { return true },
		},
	}
}

// SetHandler installs the frame/disconnect handler. Callers must set this
// before the Manager starts accepting connections; it breaks the
// construction cycle between a Dispatcher (which needs a Sender) and the
// Manager (which needs a Handler).
func (m *Manager) SetHandler(h Handler) {
	m.handler = h
}

// Bound reports whether a browser connection is currently accepted.
func (m *Manager) Bound() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// ServeHTTP upgrades the request to a WebSocket connection and binds it,
// replacing any previous binding without grace.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, fmt.Sprintf("websocket upgrade failed: %v", err), http.StatusBadRequest)
		return
	}
	conn.SetReadLimit(config.MaxFramePayload)

	m.bind(conn)
	go m.readLoop(conn)
}

// bind installs conn as the current binding, dropping and closing any prior
// connection and synchronously notifying the handler of its disconnect
// before accepting frames from the new one. This keeps the pending table
// consistent: no request ever straddles two bindings.
func (m *Manager) bind(conn *websocket.Conn) {
	m.mu.Lock()
	old := m.conn
	m.conn = conn
	m.mu.Unlock()

	if old != nil {
		old.Close()
		m.logger.Warn("control channel rebound, dropping previous browser connection")
		m.handler.HandleDisconnect()
	}
}

func (m *Manager) readLoop(conn *websocket.Conn) {
	defer func() {
		m.mu.Lock()
		owned := m.conn == conn
		if owned {
			m.conn = nil
		}
		m.mu.Unlock()
		if owned {
			m.handler.HandleDisconnect()
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			m.logger.Info("control channel closed", "error", err)
			return
		}
		if messageType != websocket.TextMessage {
			m.logger.Warn("control channel: ignoring non-text message", "type", messageType)
			continue
		}

		f, err := frame.Decode(data)
		if err != nil {
			m.logger.Warn("control channel: dropping malformed frame", "error", err)
			continue
		}
		m.handler.HandleFrame(f)
	}
}

// Send serializes f and writes it to the bound connection. Writes are
// serialized with a mutex since many dispatcher goroutines may send
// concurrently on the single outbound socket.
func (m *Manager) Send(f frame.Frame) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotBound
	}

	data, err := frame.Encode(f)
	if err != nil {
		return fmt.Errorf("wsserver: encode: %w", err)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}
