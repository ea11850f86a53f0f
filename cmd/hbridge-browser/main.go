// Copyright 2026 The hbridge Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Command hbridge-browser runs the browser plane: it dials the server
// plane's control channel, performs the outgoing HTTPS calls the real
// browser's fetch stack would make, and streams the response back as
// framed events.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/riverrun/hbridge/browserengine"
	"github.com/riverrun/hbridge/config"
	"github.com/riverrun/hbridge/frame"
	"github.com/riverrun/hbridge/wsclient"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	fs := flag.NewFlagSet("hbridge-browser", flag.ExitOnError)
	flags := config.RegisterBrowserFlags(fs)
	fs.Parse(os.Args[1:])
	cfg := flags.Resolve()

	fetcher := browserengine.NewFetcher(cfg.UpstreamHost)
	streamer := &browserengine.Streamer{}

	var client *wsclient.Client
	handler := func(ctx context.Context, spec *frame.RequestSpec) {
		resp, err := fetcher.Fetch(ctx, spec)
		if err != nil {
			client.Send(&frame.ErrorEvent{RequestID: spec.RequestID, Status: 502, Message: err.Error()})
			return
		}
		streamer.Stream(spec.RequestID, resp, client)
	}

	client = wsclient.New(cfg.ControlURL, handler, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("browser plane starting", "control_url", cfg.ControlURL, "upstream", cfg.UpstreamHost)
	client.Run(ctx)
	logger.Info("browser plane stopped")
}
