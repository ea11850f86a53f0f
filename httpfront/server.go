// Copyright 2026 The hbridge Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package httpfront is the local HTTP front-end: CORS, the health endpoint,
// body-size limiting, and routing every other path to the Dispatcher.
//
// Grounded on the teacher's StreamableHTTPHandler (mcp/streamable.go), which
// plays the same "accept local HTTP, apply cross-cutting policy, hand off
// to a per-session transport" role.
package httpfront

import (
	"net/http"
	"time"

	json "github.com/segmentio/encoding/json"

	"github.com/riverrun/hbridge/config"
)

var corsMethods = "GET, POST, PUT, DELETE, OPTIONS"
var corsHeaders = "Content-Type, Authorization"

// BrowserStatus reports whether a browser plane is currently bound, for the
// health endpoint and the 503 short-circuit.
type BrowserStatus interface {
	Bound() bool
}

// Server is the local HTTP front-end. Dispatcher handles every request that
// isn't CORS preflight or /health.
type Server struct {
	Dispatcher http.Handler
	Status     BrowserStatus
	Now        func() time.Time // overridable for tests; defaults to time.Now
}

// New returns a Server wrapping dispatcher for CORS, health, body limits,
// and the browser-not-bound 503.
func New(dispatcher http.Handler, status BrowserStatus) *Server {
	return &Server{Dispatcher: dispatcher, Status: status, Now: time.Now}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", corsMethods)
	w.Header().Set("Access-Control-Allow-Headers", corsHeaders)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		s.serveHealth(w)
		return
	}

	if !s.Status.Bound() {
		writeError(w, http.StatusServiceUnavailable, "browser not connected; start the browser plane")
		return
	}

	// JSON and plain text share the same 50 MiB ceiling.
	r.Body = http.MaxBytesReader(w, r.Body, config.MaxJSONBody)
	s.Dispatcher.ServeHTTP(w, r)
}

func (s *Server) serveHealth(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":           "ok",
		"browserConnected": s.Status.Bound(),
		"timestamp":        s.Now().UTC().Format(time.RFC3339),
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   http.StatusText(status),
		"message": message,
	})
}
