// Copyright 2026 The hbridge Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Command hbridge-server runs the server plane: the local HTTP front-end
// and the control-channel manager that a single hbridge-browser process
// binds to.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/riverrun/hbridge/config"
	"github.com/riverrun/hbridge/dispatch"
	"github.com/riverrun/hbridge/httpfront"
	"github.com/riverrun/hbridge/pending"
	"github.com/riverrun/hbridge/wsserver"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	fs := flag.NewFlagSet("hbridge-server", flag.ExitOnError)
	flags := config.RegisterServerFlags(fs)
	fs.Parse(os.Args[1:])
	cfg := flags.Resolve()

	warnIfExposed(logger, "http_addr", cfg.HTTPAddr)
	warnIfExposed(logger, "control_addr", cfg.ControlAddr)

	table := pending.New()
	manager := wsserver.NewManager(nil, logger) // handler attached below
	d := dispatch.New(table, manager, logger, cfg.InitialIdleTimeout)
	manager.SetHandler(d)

	front := httpfront.New(d, manager)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	controlMux := http.NewServeMux()
	controlMux.Handle("/", manager)
	controlSrv := &http.Server{Addr: cfg.ControlAddr, Handler: controlMux}

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: front}

	errc := make(chan error, 2)
	go func() {
		logger.Info("control channel listening", "addr", cfg.ControlAddr)
		errc <- controlSrv.ListenAndServe()
	}()
	go func() {
		logger.Info("http front-end listening", "addr", cfg.HTTPAddr)
		errc <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server exited", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	controlSrv.Close()
	httpSrv.Close()
}

// warnIfExposed logs a warning when addr ("host:port" or a bare host) is not
// loopback. Neither the HTTP front-end nor the control channel authenticate
// their caller, so binding either beyond this machine is a deliberate
// operator choice that deserves a loud warning, not a silent default.
func warnIfExposed(logger *slog.Logger, field, addr string) {
	if isLoopback(addr) {
		return
	}
	logger.Warn("listening on a non-loopback address; this endpoint has no authentication", field, addr)
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = strings.Trim(addr, "[]")
	}
	if host == "localhost" {
		return true
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	return ip.IsLoopback()
}
