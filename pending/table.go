// Copyright 2026 The hbridge Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package pending implements the concurrency-safe request_id -> PendingEntry
// table described by the dispatcher's state machine. The table itself is
// protected by one coarse-grained mutex (mirrors the teacher's
// StreamableServerTransport bookkeeping maps, which use a single mutex for
// all of outgoingMessages/signals/streamRequests). Each Entry additionally
// carries its own mutex, since an entry's response writer and HeadersSent
// flag are reached from both the control-channel receive goroutine and the
// idle timer's goroutine.
package pending

import (
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Entry is the server's per-request bookkeeping while a browser-side
// operation is in flight. It is created when a RequestSpec is transmitted
// and destroyed on exactly one terminal transition.
//
// The Table's own mutex only protects the id->Entry map; it says nothing
// about the fields below, which are reached from two different goroutines
// (the control-channel receive loop via Peek, and the idle timer's own
// goroutine via its time.AfterFunc callback). mu serializes those accesses
// so that HeadersSent and the response writer are never touched by two
// goroutines at once, matching the "owned exclusively by its dispatcher
// task" contract.
type Entry struct {
	RequestID string

	mu sync.Mutex

	// Writer and Flusher target the local client's HTTP response. Every
	// read or write of these, and of HeadersSent, must hold mu.
	Writer  http.ResponseWriter
	Flusher http.Flusher

	// HeadersSent freezes the client's response status/header set once true.
	HeadersSent bool

	// IdleTimer fires if no progress event arrives in time; it is reset on
	// every response_headers/chunk event and cancelled on any terminal
	// transition.
	IdleTimer *time.Timer

	Created time.Time

	// Done is closed exactly once, when the entry reaches a terminal state,
	// to release the HTTP handler goroutine blocked on it.
	Done chan struct{}
}

// NewEntry constructs an Entry ready for insertion.
func NewEntry(requestID string, w http.ResponseWriter, timer *time.Timer) *Entry {
	flusher, _ := w.(http.Flusher)
	return &Entry{
		RequestID: requestID,
		Writer:    w,
		Flusher:   flusher,
		IdleTimer: timer,
		Created:   time.Now(),
		Done:      make(chan struct{}),
	}
}

// Lock serializes access to Writer, Flusher, and HeadersSent across the
// control-channel receive goroutine and the idle timer's goroutine.
func (e *Entry) Lock() { e.mu.Lock() }

// Unlock releases the lock acquired by Lock.
func (e *Entry) Unlock() { e.mu.Unlock() }

// Finish closes Done. Safe to call only once per entry; the dispatcher
// guarantees this by calling it only on an entry it has just removed from
// the table with Table.Take or Table.Drain.
func (e *Entry) Finish() {
	close(e.Done)
}

// ErrDuplicateID is returned by Insert when request_id is already present.
// Under correct counter use this should never happen.
type ErrDuplicateID struct {
	RequestID string
}

func (e *ErrDuplicateID) Error() string {
	return fmt.Sprintf("pending: duplicate request_id %q", e.RequestID)
}

// Table is a concurrency-safe map from request_id to *Entry.
type Table struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// New returns an empty Table.
func New() *Table {
	return &Table{entries: make(map[string]*Entry)}
}

// Insert adds entry under id. It fails with *ErrDuplicateID if id is
// already present.
func (t *Table) Insert(id string, entry *Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[id]; ok {
		return &ErrDuplicateID{RequestID: id}
	}
	t.entries[id] = entry
	return nil
}

// Take atomically removes and returns the entry for id. Used on terminal
// frames and idle expiry. The second call for an id that has already been
// taken returns (nil, false), making terminal handling naturally idempotent.
func (t *Table) Take(id string) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	return e, ok
}

// Peek borrows the entry under lock, without removing it. Used to apply
// chunk and response_headers events, which do not terminate the entry.
func (t *Table) Peek(id string) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	return e, ok
}

// Drain removes and returns every entry in the table. Used on browser
// disconnect to fail all in-flight requests.
func (t *Table) Drain() []*Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Entry, 0, len(t.entries))
	for id, e := range t.entries {
		out = append(out, e)
		delete(t.entries, id)
	}
	return out
}

// Len reports the number of live entries, for tests asserting no leaks.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
