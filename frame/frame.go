// Copyright 2026 The hbridge Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package frame defines the wire envelope exchanged on the control channel
// between the server plane and the browser plane.
//
// Every message is a single JSON text frame. A [RequestSpec] flows server to
// browser; the four event kinds flow browser to server. There is no shared
// mutable state here — encoding and decoding are pure functions over values.
package frame

import (
	"fmt"

	json "github.com/segmentio/encoding/json"
)

// EventType discriminates the browser-to-server event frames.
type EventType string

const (
	EventResponseHeaders EventType = "response_headers"
	EventChunk           EventType = "chunk"
	EventStreamClose     EventType = "stream_close"
	EventError           EventType = "error"
)

// Frame is implemented by every value that can travel on the control
// channel. It is a closed sum type: [RequestSpec] and the four Event
// structs below.
type Frame interface {
	frameRequestID() string
}

// QueryParams maps a query key to one or more values. The wire form accepts
// either a bare string or a list of strings per key (multi-valued params are
// allowed); it is always encoded as a list for a consistent round trip.
type QueryParams map[string][]string

// UnmarshalJSON accepts both `"k": "v"` and `"k": ["v1","v2"]` per key.
func (q *QueryParams) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(QueryParams, len(raw))
	for k, v := range raw {
		var list []string
		if err := json.Unmarshal(v, &list); err == nil {
			out[k] = list
			continue
		}
		var single string
		if err := json.Unmarshal(v, &single); err != nil {
			return fmt.Errorf("query_params[%q]: %w", k, err)
		}
		out[k] = []string{single}
	}
	*q = out
	return nil
}

// RequestSpec is the server->browser message: one outgoing HTTP call for the
// browser plane to perform.
type RequestSpec struct {
	RequestID   string            `json:"request_id"`
	Method      string            `json:"method"`
	Path        string            `json:"path"`
	QueryParams QueryParams       `json:"query_params,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        *string           `json:"body,omitempty"`
}

func (r *RequestSpec) frameRequestID() string { return r.RequestID }

// ResponseHeadersEvent arrives exactly once per request, before any chunk.
type ResponseHeadersEvent struct {
	RequestID string
	Status    int
	Headers   map[string]string
}

func (e *ResponseHeadersEvent) frameRequestID() string { return e.RequestID }

// ChunkEvent carries one ordered slice of the response body as UTF-8 text.
type ChunkEvent struct {
	RequestID string
	Data      string
}

func (e *ChunkEvent) frameRequestID() string { return e.RequestID }

// StreamCloseEvent is the terminal success event; at most one per request.
type StreamCloseEvent struct {
	RequestID string
}

func (e *StreamCloseEvent) frameRequestID() string { return e.RequestID }

// ErrorEvent is the terminal failure event; at most one per request, and
// mutually exclusive with StreamCloseEvent.
type ErrorEvent struct {
	RequestID string
	Status    int
	Message   string
}

func (e *ErrorEvent) frameRequestID() string { return e.RequestID }

// RequestID returns the request_id carried by any frame.
func RequestID(f Frame) string { return f.frameRequestID() }

// wireMessage is the on-the-wire JSON shape. It is a superset of every frame
// kind's fields; unused fields are omitted on encode and ignored on decode.
// Keeping one struct for both directions means Encode/Decode are a single
// round-trippable pair, mirroring how the teacher's jsonrpc2 codec encodes
// one envelope for requests, responses, and notifications alike.
type wireMessage struct {
	RequestID string `json:"request_id"`
	EventType string `json:"event_type,omitempty"`

	// RequestSpec fields.
	Method      string            `json:"method,omitempty"`
	Path        string            `json:"path,omitempty"`
	QueryParams QueryParams       `json:"query_params,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        *string           `json:"body,omitempty"`

	// response_headers / error fields.
	Status int `json:"status,omitempty"`

	// chunk fields.
	Data string `json:"data,omitempty"`

	// error fields.
	Message string `json:"message,omitempty"`
}

// Encode serializes f to its wire representation.
func Encode(f Frame) ([]byte, error) {
	var wm wireMessage
	switch v := f.(type) {
	case *RequestSpec:
		wm = wireMessage{
			RequestID:   v.RequestID,
			Method:      v.Method,
			Path:        v.Path,
			QueryParams: v.QueryParams,
			Headers:     v.Headers,
			Body:        v.Body,
		}
	case *ResponseHeadersEvent:
		wm = wireMessage{
			RequestID: v.RequestID,
			EventType: string(EventResponseHeaders),
			Status:    v.Status,
			Headers:   v.Headers,
		}
	case *ChunkEvent:
		wm = wireMessage{
			RequestID: v.RequestID,
			EventType: string(EventChunk),
			Data:      v.Data,
		}
	case *StreamCloseEvent:
		wm = wireMessage{
			RequestID: v.RequestID,
			EventType: string(EventStreamClose),
		}
	case *ErrorEvent:
		wm = wireMessage{
			RequestID: v.RequestID,
			EventType: string(EventError),
			Status:    v.Status,
			Message:   v.Message,
		}
	default:
		return nil, fmt.Errorf("frame: unsupported frame type %T", f)
	}
	return json.Marshal(wm)
}

// ErrUnknownEventType is returned by Decode when event_type is non-empty but
// not one of the four known kinds. Per spec this is logged and dropped; it
// never mutates protocol state.
type ErrUnknownEventType struct {
	RequestID string
	EventType string
}

func (e *ErrUnknownEventType) Error() string {
	return fmt.Sprintf("frame: unknown event_type %q for request %q", e.EventType, e.RequestID)
}

// Decode parses a single wire message. Unknown JSON keys are ignored
// (forward compatibility); an unrecognized event_type returns
// [ErrUnknownEventType] rather than failing the whole socket.
func Decode(data []byte) (Frame, error) {
	var wm wireMessage
	if err := json.Unmarshal(data, &wm); err != nil {
		return nil, fmt.Errorf("frame: decode: %w", err)
	}

	if wm.EventType == "" {
		// No event_type => this is a RequestSpec.
		return &RequestSpec{
			RequestID:   wm.RequestID,
			Method:      wm.Method,
			Path:        wm.Path,
			QueryParams: wm.QueryParams,
			Headers:     wm.Headers,
			Body:        wm.Body,
		}, nil
	}

	switch EventType(wm.EventType) {
	case EventResponseHeaders:
		return &ResponseHeadersEvent{RequestID: wm.RequestID, Status: wm.Status, Headers: wm.Headers}, nil
	case EventChunk:
		return &ChunkEvent{RequestID: wm.RequestID, Data: wm.Data}, nil
	case EventStreamClose:
		return &StreamCloseEvent{RequestID: wm.RequestID}, nil
	case EventError:
		return &ErrorEvent{RequestID: wm.RequestID, Status: wm.Status, Message: wm.Message}, nil
	default:
		return nil, &ErrUnknownEventType{RequestID: wm.RequestID, EventType: wm.EventType}
	}
}
