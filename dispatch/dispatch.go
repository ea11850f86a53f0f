// Copyright 2026 The hbridge Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package dispatch implements the server-side per-request state machine:
// it turns one local HTTP request into a transmitted RequestSpec, and turns
// the resulting stream of event frames back into bytes written to that
// request's response, multiplexing many concurrent requests over the
// single control channel.
//
// Grounded on the teacher's StreamableServerTransport request/response
// correlation in mcp/streamable.go (the same "register a pending handle,
// resolve it from an unrelated receive goroutine" shape), adapted from
// JSON-RPC request/response matching to the four-event streaming protocol.
package dispatch

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	json "github.com/segmentio/encoding/json"

	"github.com/riverrun/hbridge/config"
	"github.com/riverrun/hbridge/frame"
	"github.com/riverrun/hbridge/pending"
	"github.com/riverrun/hbridge/rewrite"
	"github.com/riverrun/hbridge/sanitize"
)

// Sender is the control-channel manager's view used by the Dispatcher.
type Sender interface {
	Send(f frame.Frame) error
	Bound() bool
}

// bodyMethods are the methods a RequestSpec.Body may accompany; per the data
// model a body is absent for every other method.
var bodyMethods = map[string]bool{"POST": true, "PUT": true, "PATCH": true}

// Dispatcher owns the Pending table and the transitions in and out of it.
// It is registered as the wsserver.Handler for the bound browser connection.
type Dispatcher struct {
	table              *pending.Table
	sender             Sender
	logger             *slog.Logger
	initialIdleTimeout time.Duration

	counter uint64
}

// New returns a Dispatcher. initialIdleTimeout governs only the window
// given to a freshly transmitted request, before any response_headers or
// chunk has reset it to [config.ProgressIdleTimeout].
func New(table *pending.Table, sender Sender, logger *slog.Logger, initialIdleTimeout time.Duration) *Dispatcher {
	return &Dispatcher{
		table:              table,
		sender:             sender,
		logger:             logger,
		initialIdleTimeout: initialIdleTimeout,
	}
}

// nextRequestID combines a monotonically increasing counter with a
// wall-clock value, unique for the process lifetime.
func (d *Dispatcher) nextRequestID() string {
	n := atomic.AddUint64(&d.counter, 1)
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), n)
}

// ServeHTTP implements the (begin) -> Transmitted transition and then
// blocks until the entry reaches a terminal state, so the caller's HTTP
// handler goroutine is what actually streams bytes to the client.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !d.sender.Bound() {
		writeJSONError(w, http.StatusServiceUnavailable, "browser not connected", "")
		return
	}

	var bodyPtr *string
	if bodyMethods[r.Method] {
		var err error
		bodyPtr, err = readBody(r)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "failed to read request body", "")
			return
		}
	}

	result, err := rewrite.Apply(r.URL.Path, queryParams(r.URL.Query()), bodyPtr)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if result.PathRepaired {
		d.logger.Info("repaired doubled /models/models/ path", "original", r.URL.Path, "repaired", result.Path)
	}

	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	headers = sanitize.StripRequestHeaders(headers, false)

	id := d.nextRequestID()
	timer := time.AfterFunc(d.initialIdleTimeout, func() { d.onIdle(id) })
	entry := pending.NewEntry(id, w, timer)
	if err := d.table.Insert(id, entry); err != nil {
		timer.Stop()
		d.logger.Error("dispatch: duplicate request_id", "request_id", id, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error", id)
		return
	}

	spec := &frame.RequestSpec{
		RequestID:   id,
		Method:      r.Method,
		Path:        result.Path,
		QueryParams: result.Query,
		Headers:     headers,
		Body:        result.Body,
	}
	if err := d.sender.Send(spec); err != nil {
		if taken, ok := d.table.Take(id); ok {
			taken.IdleTimer.Stop()
			writeJSONError(w, http.StatusBadGateway, "Browser disconnected", id)
			taken.Finish()
		}
		return
	}

	<-entry.Done
}

func readBody(r *http.Request) (*string, error) {
	if r.Body == nil || r.ContentLength == 0 {
		return nil, nil
	}
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, nil
	}
	s := string(b)
	return &s, nil
}

func queryParams(v url.Values) frame.QueryParams {
	out := make(frame.QueryParams, len(v))
	for k, vals := range v {
		out[k] = vals
	}
	return out
}

// HandleFrame dispatches an inbound event frame by request_id. It is called
// from the control-channel manager's single receive goroutine.
func (d *Dispatcher) HandleFrame(f frame.Frame) {
	switch e := f.(type) {
	case *frame.ResponseHeadersEvent:
		d.onHeaders(e)
	case *frame.ChunkEvent:
		d.onChunk(e)
	case *frame.StreamCloseEvent:
		d.onStreamClose(e)
	case *frame.ErrorEvent:
		d.onError(e)
	default:
		d.logger.Warn("dispatch: dropping unexpected frame kind", "type", fmt.Sprintf("%T", f))
	}
}

// HandleDisconnect is the browser-gone broadcast: every still-pending entry
// fails with 502 if headers were never sent, or is simply released so its
// handler goroutine returns, if it was already streaming.
func (d *Dispatcher) HandleDisconnect() {
	for _, entry := range d.table.Drain() {
		entry.IdleTimer.Stop()
		entry.Lock()
		if !entry.HeadersSent {
			writeJSONError(entry.Writer, http.StatusBadGateway, "Browser disconnected", entry.RequestID)
		}
		entry.Unlock()
		entry.Finish()
	}
}

// onHeaders, onChunk, onStreamClose, onError, and onIdle all read or write
// entry.HeadersSent and entry.Writer/Flusher. onHeaders/onChunk run on the
// control-channel receive goroutine and reach the entry via Table.Peek,
// which leaves it in the table; onIdle runs on its own time.AfterFunc
// goroutine and can therefore race with an in-flight onChunk/onHeaders for
// the same entry (the timer may already have fired before a chunk resets
// it). entry.Lock/Unlock serializes all of that so the client's
// ResponseWriter is never written from two goroutines at once, per the
// "owned exclusively by its dispatcher task" contract in spec §5.
func (d *Dispatcher) onHeaders(e *frame.ResponseHeadersEvent) {
	entry, ok := d.table.Peek(e.RequestID)
	if !ok {
		d.logger.Warn("dispatch: response_headers for unknown request_id", "request_id", e.RequestID)
		return
	}
	entry.Lock()
	defer entry.Unlock()
	entry.IdleTimer.Reset(config.ProgressIdleTimeout)
	if entry.HeadersSent {
		return
	}
	writeUpstreamHeaders(entry, e.Status, e.Headers)
}

func (d *Dispatcher) onChunk(e *frame.ChunkEvent) {
	entry, ok := d.table.Peek(e.RequestID)
	if !ok {
		d.logger.Warn("dispatch: chunk for unknown request_id", "request_id", e.RequestID)
		return
	}
	entry.Lock()
	defer entry.Unlock()
	entry.IdleTimer.Reset(config.ProgressIdleTimeout)
	if !entry.HeadersSent {
		// Protocol violation: a chunk arrived before response_headers.
		// Force a 200 + SSE header set so the byte ordering guarantee
		// still holds — the chunk itself is written right after.
		writeUpstreamHeaders(entry, http.StatusOK, nil)
	}
	if _, err := io.WriteString(entry.Writer, e.Data); err != nil {
		// The local client has gone away: drop the entry so its handler
		// goroutine returns. No cancel is sent to the browser.
		d.logger.Warn("dispatch: client write failed, dropping request", "request_id", e.RequestID, "error", err)
		if _, ok := d.table.Take(e.RequestID); ok {
			entry.IdleTimer.Stop()
			entry.Finish()
		}
		return
	}
	if entry.Flusher != nil {
		entry.Flusher.Flush()
	}
}

func (d *Dispatcher) onStreamClose(e *frame.StreamCloseEvent) {
	entry, ok := d.table.Take(e.RequestID)
	if !ok {
		return // already terminal: idempotent no-op
	}
	entry.IdleTimer.Stop()
	entry.Lock()
	if !entry.HeadersSent {
		writeUpstreamHeaders(entry, http.StatusOK, nil)
	}
	entry.Unlock()
	entry.Finish()
}

func (d *Dispatcher) onError(e *frame.ErrorEvent) {
	entry, ok := d.table.Take(e.RequestID)
	if !ok {
		return
	}
	entry.IdleTimer.Stop()
	entry.Lock()
	if !entry.HeadersSent {
		status := e.Status
		if status == 0 {
			status = http.StatusInternalServerError
		}
		writeJSONError(entry.Writer, status, e.Message, e.RequestID)
	}
	entry.Unlock()
	entry.Finish()
}

func (d *Dispatcher) onIdle(id string) {
	entry, ok := d.table.Take(id)
	if !ok {
		return // already terminated by another path before the timer fired
	}
	entry.Lock()
	if !entry.HeadersSent {
		writeJSONError(entry.Writer, http.StatusGatewayTimeout, "request timeout", id)
	}
	entry.Unlock()
	entry.Finish()
}

// writeUpstreamHeaders applies the response-header filter and content-type
// salvage, then commits status and headers to entry.Writer. Callers must
// hold entry's lock and call this only while entry.HeadersSent is still
// false.
func writeUpstreamHeaders(entry *pending.Entry, status int, headers map[string]string) {
	filtered := sanitize.FilterResponseHeaders(headers)
	filtered = sanitize.SalvageContentType(status, filtered)
	for k, v := range filtered {
		entry.Writer.Header().Set(k, v)
	}
	entry.Writer.WriteHeader(status)
	entry.HeadersSent = true
}

// writeJSONError writes the standard {error, message, request_id} body used
// for every error the dispatcher attributes to a specific request.
func writeJSONError(w http.ResponseWriter, status int, message, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	payload := map[string]string{
		"error":   http.StatusText(status),
		"message": message,
	}
	if requestID != "" {
		payload["request_id"] = requestID
	}
	json.NewEncoder(w).Encode(payload)
}
