// Copyright 2026 The hbridge Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package frame

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func body(s string) *string { return &s }

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		f    Frame
	}{
		{
			name: "request with body and multi-valued query",
			f: &RequestSpec{
				RequestID:   "1700000000-1",
				Method:      "POST",
				Path:        "/v1beta/models/gemini-pro:generateContent",
				QueryParams: QueryParams{"alt": {"sse"}, "tag": {"a", "b"}},
				Headers:     map[string]string{"content-type": "application/json"},
				Body:        body(`{"contents":[]}`),
			},
		},
		{
			name: "request without body",
			f: &RequestSpec{
				RequestID: "1700000000-2",
				Method:    "GET",
				Path:      "/v1beta/models",
			},
		},
		{
			name: "response_headers",
			f:    &ResponseHeadersEvent{RequestID: "1700000000-1", Status: 200, Headers: map[string]string{"content-type": "text/event-stream"}},
		},
		{
			name: "chunk",
			f:    &ChunkEvent{RequestID: "1700000000-1", Data: "data: A\n\n"},
		},
		{
			name: "stream_close",
			f:    &StreamCloseEvent{RequestID: "1700000000-1"},
		},
		{
			name: "error",
			f:    &ErrorEvent{RequestID: "1700000000-1", Status: 500, Message: "upstream exhausted retries"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.f)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if diff := cmp.Diff(tt.f, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}

			// Re-encoding the decoded value must reproduce the same bytes
			// modulo key order, which for a fixed struct shape means
			// byte-identical output.
			data2, err := Encode(got)
			if err != nil {
				t.Fatalf("re-Encode: %v", err)
			}
			if string(data) != string(data2) {
				t.Errorf("re-encode mismatch:\nfirst:  %s\nsecond: %s", data, data2)
			}
		})
	}
}

func TestDecodeUnknownKeysIgnored(t *testing.T) {
	data := []byte(`{"request_id":"1","event_type":"chunk","data":"x","bogus_field":"ignored"}`)
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := &ChunkEvent{RequestID: "1", Data: "x"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeUnknownEventType(t *testing.T) {
	data := []byte(`{"request_id":"1","event_type":"frobnicate"}`)
	_, err := Decode(data)
	if err == nil {
		t.Fatal("expected error for unknown event_type")
	}
	var unkErr *ErrUnknownEventType
	if !errors.As(err, &unkErr) {
		t.Fatalf("expected ErrUnknownEventType, got %T: %v", err, err)
	}
	if unkErr.RequestID != "1" || unkErr.EventType != "frobnicate" {
		t.Errorf("unexpected error contents: %+v", unkErr)
	}
}

func TestQueryParamsAcceptsBareString(t *testing.T) {
	data := []byte(`{"request_id":"1","method":"GET","path":"/x","query_params":{"key":"ee","alt":"sse"}}`)
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	rs, ok := got.(*RequestSpec)
	if !ok {
		t.Fatalf("got %T, want *RequestSpec", got)
	}
	want := QueryParams{"key": {"ee"}, "alt": {"sse"}}
	if diff := cmp.Diff(want, rs.QueryParams); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}
