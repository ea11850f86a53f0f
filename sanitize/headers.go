// Copyright 2026 The hbridge Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package sanitize holds the pure functions that strip and rewrite HTTP
// headers crossing the plane boundary. Nothing here holds state; every
// function is idempotent, so applying it twice is the same as applying it
// once.
package sanitize

import "strings"

// requestStripAlways are removed, case-insensitively, from every forwarded
// request regardless of which plane is doing the stripping.
var requestStripAlways = []string{"host", "connection", "content-length"}

// requestStripBrowserOnly are additionally removed when the browser's own
// fetch stack will re-populate them; setting them explicitly would be
// rejected by that stack anyway.
var requestStripBrowserOnly = []string{
	"origin", "referer", "user-agent",
	"sec-fetch-mode", "sec-fetch-site", "sec-fetch-dest",
}

// responseStrip are dropped from upstream response headers before they are
// replayed to the local client, because the server re-chunks the body.
var responseStrip = []string{"transfer-encoding", "content-encoding", "content-length", "connection"}

func lowerSet(names []string) map[string]struct{} {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[strings.ToLower(n)] = struct{}{}
	}
	return m
}

// StripRequestHeaders returns a copy of h with the hop-by-hop and
// browser-forbidden headers removed. Set browserSide to true when applying
// this on the browser plane (the additional sec-fetch-*/origin/referer/
// user-agent headers are stripped there, not on the server).
func StripRequestHeaders(h map[string]string, browserSide bool) map[string]string {
	drop := lowerSet(requestStripAlways)
	if browserSide {
		for k := range lowerSet(requestStripBrowserOnly) {
			drop[k] = struct{}{}
		}
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if _, ok := drop[strings.ToLower(k)]; ok {
			continue
		}
		out[k] = v
	}
	return out
}

// FilterResponseHeaders returns a copy of h with the headers that would
// break re-chunking removed.
func FilterResponseHeaders(h map[string]string) map[string]string {
	drop := lowerSet(responseStrip)
	out := make(map[string]string, len(h))
	for k, v := range h {
		if _, ok := drop[strings.ToLower(k)]; ok {
			continue
		}
		out[k] = v
	}
	return out
}

// hasHeader reports whether h contains name, case-insensitively.
func hasHeader(h map[string]string, name string) bool {
	for k := range h {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

// SalvageContentType synthesizes a content-type for the common case of an
// upstream SSE response that arrives with no explicit type after filtering:
// many upstream streaming responses omit content-type once transfer-encoding
// is stripped, and the local client needs one to interpret the body.
func SalvageContentType(status int, headers map[string]string) map[string]string {
	if status != 200 || hasHeader(headers, "content-type") {
		return headers
	}
	out := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		out[k] = v
	}
	out["content-type"] = "text/event-stream"
	return out
}
