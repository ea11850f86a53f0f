// Copyright 2026 The hbridge Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package browserengine implements the browser-side execution engine: the
// retrying fetch against the fixed upstream host, and the chunked response
// streamer that turns the HTTP body into framed events.
//
// Grounded on the teacher's streamableClientConn.postMessage retry loop
// (mcp/streamable.go) and isRetryable's status-code classification, adapted
// from exponential backoff to the spec's fixed 15-attempt/1-second policy.
package browserengine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/riverrun/hbridge/config"
	"github.com/riverrun/hbridge/frame"
	"github.com/riverrun/hbridge/sanitize"
)

// bodyMethods are the methods that carry a request body.
var bodyMethods = map[string]bool{"POST": true, "PUT": true, "PATCH": true}

// Fetcher performs the outgoing HTTPS call the browser plane makes on
// behalf of one RequestSpec, standing in for the browser's fetch stack.
type Fetcher struct {
	Client       *http.Client
	UpstreamHost string
}

// NewFetcher returns a Fetcher using http.DefaultClient's transport
// settings and the given upstream host.
func NewFetcher(upstreamHost string) *Fetcher {
	return &Fetcher{Client: http.DefaultClient, UpstreamHost: upstreamHost}
}

// upstreamStatusError carries the last observed non-2xx status and a
// best-effort body excerpt, so the final error frame message is useful.
type upstreamStatusError struct {
	Status  int
	Excerpt string
}

func (e *upstreamStatusError) Error() string {
	if e.Excerpt == "" {
		return fmt.Sprintf("upstream status %d", e.Status)
	}
	return fmt.Sprintf("upstream status %d: %s", e.Status, e.Excerpt)
}

// Fetch builds the absolute upstream URL and retries the call up to
// [config.BrowserMaxAttempts] times with a fixed [config.BrowserRetryDelay]
// between attempts. A 2xx response is returned immediately, even though its
// body has not been read yet — streaming failures after this point are not
// retried. ctx cancellation short-circuits retries immediately.
func (f *Fetcher) Fetch(ctx context.Context, spec *frame.RequestSpec) (*http.Response, error) {
	target := buildURL(f.UpstreamHost, spec.Path, spec.QueryParams)

	var lastErr error
	for attempt := 1; attempt <= config.BrowserMaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("browserengine: aborted: %w", ctx.Err())
		}

		resp, err := f.attempt(ctx, target, spec)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if attempt == config.BrowserMaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("browserengine: aborted: %w", ctx.Err())
		case <-time.After(config.BrowserRetryDelay):
		}
	}
	return nil, fmt.Errorf("browserengine: upstream fetch failed after %d attempts: %w", config.BrowserMaxAttempts, lastErr)
}

// attempt performs a single try. Any non-2xx status is treated as a failed
// attempt, matching the browser's fetch-throws-or-non-2xx retry trigger.
func (f *Fetcher) attempt(ctx context.Context, target string, spec *frame.RequestSpec) (*http.Response, error) {
	var bodyReader io.Reader
	if spec.Body != nil && bodyMethods[spec.Method] {
		bodyReader = strings.NewReader(*spec.Body)
	}

	req, err := http.NewRequestWithContext(ctx, spec.Method, target, bodyReader)
	if err != nil {
		return nil, err
	}
	for k, v := range sanitize.StripRequestHeaders(spec.Headers, true) {
		req.Header.Set(k, v)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt := bestEffortExcerpt(resp.Body)
		resp.Body.Close()
		return nil, &upstreamStatusError{Status: resp.StatusCode, Excerpt: excerpt}
	}
	return resp, nil
}

// bestEffortExcerpt reads a small prefix of body for inclusion in an error
// message. Read failures are ignored; this is diagnostic only.
func bestEffortExcerpt(body io.Reader) string {
	const maxExcerpt = 512
	buf := make([]byte, maxExcerpt)
	n, _ := io.ReadFull(body, buf)
	return strings.TrimSpace(string(buf[:n]))
}

// buildURL constructs https://<host>/<path-without-leading-slash>[?query].
func buildURL(host, path string, query frame.QueryParams) string {
	u := &url.URL{
		Scheme: "https",
		Host:   host,
		Path:   "/" + strings.TrimPrefix(path, "/"),
	}
	if len(query) > 0 {
		values := make(url.Values, len(query))
		for k, v := range query {
			values[k] = v
		}
		u.RawQuery = values.Encode()
	}
	return u.String()
}
