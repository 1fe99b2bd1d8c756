// SPDX-License-Identifier: LGPL-3.0-or-later

// Command worker launches the camofleet worker: the tier that forwards
// session lifecycle and WebSocket requests to one runner instance,
// adding VNC-capability metadata to the responses it relays (spec §4.6).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"

	"camofleet/internal/httpx"
	"camofleet/internal/logger"
	"camofleet/internal/worker/api"
	"camofleet/internal/worker/forwarder"
	"camofleet/internal/worker/wconfig"
)

const version = "0.1.0"

func main() {
	versionFlag := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("camofleet-worker version %s\n", version)
		os.Exit(0)
	}

	cfg, err := wconfig.Load()
	if err != nil {
		pterm.Error.Printfln("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	log := logger.New(logLevelFromEnv())
	pterm.Info.Printfln("Starting camofleet worker v%s", version)
	pterm.Info.Printfln("Forwarding to runner at: %s", cfg.RunnerBaseURL)
	pterm.Info.Printfln("API server will listen on: %s", cfg.Base.Addr())

	pool := httpx.NewPool()
	requestTimeout := time.Duration(cfg.Base.RequestTimeout * float64(time.Second))
	fwd := forwarder.New(pool, cfg, requestTimeout)

	srv := api.NewServer(log, fwd, cfg.Base, version)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	pterm.Success.Println("Worker started successfully")

	select {
	case sig := <-sigCh:
		pterm.Warning.Printfln("Received signal: %v", sig)
		shutdown(srv, pool)
	case err := <-errCh:
		pterm.Error.Printfln("Server error: %v", err)
		shutdown(srv, pool)
		os.Exit(1)
	}
}

func shutdown(srv *api.Server, pool *httpx.Pool) {
	pterm.Info.Println("Shutting down gracefully...")
	ctx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := srv.Shutdown(ctx); err != nil {
		pterm.Error.Printfln("Server shutdown error: %v", err)
	}
	pool.Shutdown()
	pterm.Success.Println("Worker stopped gracefully")
}

func logLevelFromEnv() string {
	if level := os.Getenv("WORKER_LOG_LEVEL"); level != "" {
		return level
	}
	return "info"
}
