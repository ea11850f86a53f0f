// Copyright 2026 The hbridge Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package dispatch

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/riverrun/hbridge/frame"
	"github.com/riverrun/hbridge/pending"
)

type fakeSender struct {
	bound bool
	sent  chan frame.Frame
}

func newFakeSender(bound bool) *fakeSender {
	return &fakeSender{bound: bound, sent: make(chan frame.Frame, 8)}
}

func (s *fakeSender) Bound() bool { return s.bound }

func (s *fakeSender) Send(f frame.Frame) error {
	s.sent <- f
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitSpec(t *testing.T, sender *fakeSender) *frame.RequestSpec {
	t.Helper()
	select {
	case f := <-sender.sent:
		spec, ok := f.(*frame.RequestSpec)
		if !ok {
			t.Fatalf("sent frame is %T, want *frame.RequestSpec", f)
		}
		return spec
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for transmitted RequestSpec")
		return nil
	}
}

func TestDispatcherHappyStreamingRewritesBodyAndStreamsChunks(t *testing.T) {
	sender := newFakeSender(true)
	table := pending.New()
	d := New(table, sender, testLogger(), time.Minute)

	body := `{"contents":[{"parts":[{"text":"hi"}]}],"tools":[{"x":1}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1beta/models/gemini-pro:generateContent", strings.NewReader(body))
	req.ContentLength = int64(len(body))
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		d.ServeHTTP(rec, req)
		close(done)
	}()

	spec := waitSpec(t, sender)
	if spec.Body == nil {
		t.Fatal("forwarded body is nil")
	}
	if strings.Contains(*spec.Body, `"tools"`) {
		t.Errorf("forwarded body still has tools: %s", *spec.Body)
	}
	if !strings.Contains(*spec.Body, `"safetySettings"`) {
		t.Errorf("forwarded body missing safetySettings: %s", *spec.Body)
	}

	d.HandleFrame(&frame.ResponseHeadersEvent{RequestID: spec.RequestID, Status: 200, Headers: map[string]string{}})
	d.HandleFrame(&frame.ChunkEvent{RequestID: spec.RequestID, Data: "dat"})
	d.HandleFrame(&frame.ChunkEvent{RequestID: spec.RequestID, Data: "a: A\n\n"})
	d.HandleFrame(&frame.StreamCloseEvent{RequestID: spec.RequestID})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ServeHTTP never returned")
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content-type = %q, want text/event-stream", ct)
	}
	if rec.Body.String() != "data: A\n\n" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "data: A\n\n")
	}
	if n := table.Len(); n != 0 {
		t.Errorf("pending table not drained, len = %d", n)
	}
}

func TestDispatcherPathRepairAndKeyStripping(t *testing.T) {
	sender := newFakeSender(true)
	table := pending.New()
	d := New(table, sender, testLogger(), time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/v1beta/models/models/gemini-pro?key=ee&alt=sse", nil)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		d.ServeHTTP(rec, req)
		close(done)
	}()

	spec := waitSpec(t, sender)
	if spec.Path != "/v1beta/models/gemini-pro" {
		t.Errorf("path = %q, want /v1beta/models/gemini-pro", spec.Path)
	}
	if _, ok := spec.QueryParams["key"]; ok {
		t.Errorf("query_params still has key: %v", spec.QueryParams)
	}
	if spec.QueryParams["alt"][0] != "sse" {
		t.Errorf("query_params alt = %v", spec.QueryParams["alt"])
	}

	d.HandleFrame(&frame.StreamCloseEvent{RequestID: spec.RequestID})
	<-done
}

func TestDispatcherPreHeadersChunkForcesSSEHeaders(t *testing.T) {
	sender := newFakeSender(true)
	table := pending.New()
	d := New(table, sender, testLogger(), time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/v1beta/models", nil)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		d.ServeHTTP(rec, req)
		close(done)
	}()

	spec := waitSpec(t, sender)
	d.HandleFrame(&frame.ChunkEvent{RequestID: spec.RequestID, Data: "x"})
	d.HandleFrame(&frame.StreamCloseEvent{RequestID: spec.RequestID})
	<-done

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content-type = %q, want text/event-stream", ct)
	}
	if rec.Body.String() != "x" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "x")
	}
}

func TestDispatcherErrorBeforeHeadersWritesStructuredBody(t *testing.T) {
	sender := newFakeSender(true)
	table := pending.New()
	d := New(table, sender, testLogger(), time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/v1beta/models", nil)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		d.ServeHTTP(rec, req)
		close(done)
	}()

	spec := waitSpec(t, sender)
	d.HandleFrame(&frame.ErrorEvent{RequestID: spec.RequestID, Status: 503, Message: "upstream status 503"})
	<-done

	if rec.Code != 503 {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), spec.RequestID) {
		t.Errorf("body missing request_id: %s", rec.Body.String())
	}
}

func TestDispatcherBrowserDisconnectBeforeHeadersReturns502(t *testing.T) {
	sender := newFakeSender(true)
	table := pending.New()
	d := New(table, sender, testLogger(), time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/v1beta/models", nil)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		d.ServeHTTP(rec, req)
		close(done)
	}()

	waitSpec(t, sender)
	d.HandleDisconnect()
	<-done

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
	if n := table.Len(); n != 0 {
		t.Errorf("table not drained, len = %d", n)
	}
}

func TestDispatcherIdleTimeoutBeforeHeadersReturns504(t *testing.T) {
	sender := newFakeSender(true)
	table := pending.New()
	d := New(table, sender, testLogger(), 20*time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/v1beta/models", nil)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		d.ServeHTTP(rec, req)
		close(done)
	}()

	waitSpec(t, sender)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ServeHTTP never returned after idle timeout")
	}

	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", rec.Code)
	}
	if n := table.Len(); n != 0 {
		t.Errorf("table not drained, len = %d", n)
	}
}

func TestDispatcherRejectsWhenBrowserNotBound(t *testing.T) {
	sender := newFakeSender(false)
	table := pending.New()
	d := New(table, sender, testLogger(), time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/v1beta/models", nil)
	rec := httptest.NewRecorder()

	d.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestDispatcherConcurrentChunksAndIdleTimeoutDoNotRace(t *testing.T) {
	sender := newFakeSender(true)
	table := pending.New()
	// response_headers and every chunk reset the idle timer to
	// config.ProgressIdleTimeout, so the timer cannot be relied on to fire
	// during the burst; onIdle is invoked directly on its own goroutine
	// instead, exercising the same entry from both goroutines at once.
	d := New(table, sender, testLogger(), 5*time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/v1beta/models", nil)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		d.ServeHTTP(rec, req)
		close(done)
	}()

	spec := waitSpec(t, sender)
	d.HandleFrame(&frame.ResponseHeadersEvent{RequestID: spec.RequestID, Status: 200, Headers: map[string]string{}})

	chunksDone := make(chan struct{})
	go func() {
		defer close(chunksDone)
		for i := 0; i < 200; i++ {
			d.HandleFrame(&frame.ChunkEvent{RequestID: spec.RequestID, Data: "x"})
		}
	}()
	go d.onIdle(spec.RequestID)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ServeHTTP never returned")
	}
	<-chunksDone

	if n := table.Len(); n != 0 {
		t.Errorf("pending table not drained, len = %d", n)
	}
}

func TestDispatcherUnknownRequestIDFramesAreDropped(t *testing.T) {
	sender := newFakeSender(true)
	table := pending.New()
	d := New(table, sender, testLogger(), time.Minute)

	// None of these should panic even though no entry exists.
	d.HandleFrame(&frame.ResponseHeadersEvent{RequestID: "ghost", Status: 200})
	d.HandleFrame(&frame.ChunkEvent{RequestID: "ghost", Data: "x"})
	d.HandleFrame(&frame.StreamCloseEvent{RequestID: "ghost"})
	d.HandleFrame(&frame.ErrorEvent{RequestID: "ghost", Status: 500, Message: "boom"})
}
