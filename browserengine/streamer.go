// Copyright 2026 The hbridge Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package browserengine

import (
	"io"
	"net/http"

	"github.com/riverrun/hbridge/frame"
)

// Sender transmits one frame over the control channel. It is satisfied by
// *wsclient.Client; kept as an interface here so this package does not
// depend on the control-channel transport.
type Sender interface {
	Send(f frame.Frame) error
}

// Streamer reads a successful upstream response and emits it as framed
// events, preserving byte order and multi-byte UTF-8 sequences across
// chunk boundaries.
type Streamer struct {
	ReadSize int // buffer size per Body.Read; defaults to 32KiB if zero
}

func (s *Streamer) readSize() int {
	if s.ReadSize > 0 {
		return s.ReadSize
	}
	return 32 * 1024
}

// Stream emits response_headers, then zero or more chunk frames, then
// exactly one of stream_close or error. If sending response_headers or a
// chunk fails, Stream stops at once and sends nothing further. resp.Body is
// always closed before Stream returns.
func (s *Streamer) Stream(requestID string, resp *http.Response, send Sender) {
	defer resp.Body.Close()

	headers := flattenHeaders(resp.Header)
	if err := send.Send(&frame.ResponseHeadersEvent{
		RequestID: requestID,
		Status:    resp.StatusCode,
		Headers:   headers,
	}); err != nil {
		return // control channel is down; further sends would be dropped too
	}

	var dec utf8Decoder
	buf := make([]byte, s.readSize())
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if text := dec.Push(buf[:n]); text != "" {
				if sendErr := send.Send(&frame.ChunkEvent{RequestID: requestID, Data: text}); sendErr != nil {
					return
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				if tail := dec.Flush(); tail != "" {
					send.Send(&frame.ChunkEvent{RequestID: requestID, Data: tail})
				}
				send.Send(&frame.StreamCloseEvent{RequestID: requestID})
				return
			}
			send.Send(&frame.ErrorEvent{
				RequestID: requestID,
				Status:    500,
				Message:   "stream read failed: " + err.Error(),
			})
			return
		}
	}
}

// flattenHeaders converts an http.Header (which may have multiple values
// per key) to the flat, case-preserving single-value map the wire protocol
// uses, keeping the first value for any repeated header.
func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
