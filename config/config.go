// Copyright 2026 The hbridge Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package config holds the tunable knobs shared by both binaries. There is
// no configuration file and no required environment variables, per the
// external interface surface; everything is a flag with a documented
// default, in the style of the teacher's example mains.
package config

import (
	"flag"
	"time"
)

const (
	// DefaultHTTPAddr is where the server plane accepts local HTTP requests.
	DefaultHTTPAddr = "127.0.0.1:8889"
	// DefaultControlAddr is where the server plane accepts the control
	// channel WebSocket connection.
	DefaultControlAddr = "127.0.0.1:9998"
	// DefaultUpstreamHost is the fixed upstream the browser plane calls.
	DefaultUpstreamHost = "generativelanguage.googleapis.com"

	// DefaultInitialIdleTimeoutLong is the generous initial idle window
	// given to a freshly transmitted request, per the "long" resolution of
	// the idle-timer Open Question.
	DefaultInitialIdleTimeoutLong = 600 * time.Second
	// InitialIdleTimeoutShort is the alternative short initial window,
	// available for deployments that prefer it.
	InitialIdleTimeoutShort = 120 * time.Second

	// ProgressIdleTimeout is the fixed window any response_headers or chunk
	// event resets the idle timer to.
	ProgressIdleTimeout = 300 * time.Second

	// MaxFramePayload bounds a single control-channel message.
	MaxFramePayload = 100 * 1024 * 1024
	// MaxJSONBody and MaxTextBody bound the local client's request body.
	MaxJSONBody = 50 * 1024 * 1024
	MaxTextBody = 50 * 1024 * 1024

	// BrowserMaxAttempts and BrowserRetryDelay govern the browser plane's
	// fetch retry policy.
	BrowserMaxAttempts = 15
	BrowserRetryDelay  = time.Second

	// ReconnectDelay is the browser plane's fixed control-channel reconnect
	// interval.
	ReconnectDelay = 5 * time.Second
)

// Server is the resolved configuration for the server plane.
type Server struct {
	HTTPAddr           string
	ControlAddr        string
	InitialIdleTimeout time.Duration
}

// ServerFlags registers the server plane's flags on fs. Call Resolve after
// fs.Parse to get the final Server config.
type ServerFlags struct {
	httpAddr    *string
	controlAddr *string
	shortTimer  *bool
}

// RegisterServerFlags registers the server plane's flags on fs.
func RegisterServerFlags(fs *flag.FlagSet) *ServerFlags {
	return &ServerFlags{
		httpAddr:    fs.String("http", DefaultHTTPAddr, "address for the local HTTP front-end"),
		controlAddr: fs.String("control", DefaultControlAddr, "address for the control-channel WebSocket"),
		shortTimer:  fs.Bool("short-idle-timeout", false, "use the 120s initial idle timeout instead of the 600s default"),
	}
}

// Resolve converts parsed flags into a Server config.
func (f *ServerFlags) Resolve() Server {
	timeout := DefaultInitialIdleTimeoutLong
	if *f.shortTimer {
		timeout = InitialIdleTimeoutShort
	}
	return Server{
		HTTPAddr:           *f.httpAddr,
		ControlAddr:        *f.controlAddr,
		InitialIdleTimeout: timeout,
	}
}

// Browser is the resolved configuration for the browser plane.
type Browser struct {
	ControlURL   string
	UpstreamHost string
}

// BrowserFlags registers the browser plane's flags on fs.
type BrowserFlags struct {
	controlURL   *string
	upstreamHost *string
}

// RegisterBrowserFlags registers the browser plane's flags on fs.
func RegisterBrowserFlags(fs *flag.FlagSet) *BrowserFlags {
	return &BrowserFlags{
		controlURL:   fs.String("control-url", "ws://"+DefaultControlAddr, "control channel WebSocket URL to dial"),
		upstreamHost: fs.String("upstream", DefaultUpstreamHost, "fixed upstream host to call"),
	}
}

// Resolve converts parsed flags into a Browser config.
func (f *BrowserFlags) Resolve() Browser {
	return Browser{
		ControlURL:   *f.controlURL,
		UpstreamHost: *f.upstreamHost,
	}
}
