// SPDX-License-Identifier: LGPL-3.0-or-later

// Command controlplane launches the camofleet control-plane: the tier
// that dispatches session requests across a configured worker roster and
// aggregates their health and session listings (spec §4.7, §4.8).
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

	"camofleet/internal/controlplane/api"
	"camofleet/internal/controlplane/ccconfig"
	"camofleet/internal/controlplane/dispatcher"
	"camofleet/internal/httpx"
	"camofleet/internal/logger"
)

const version = "0.1.0"

func main() {
	versionFlag := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("camofleet-control-plane version %s\n", version)
		os.Exit(0)
	}

	cfg, err := ccconfig.Load()
	if err != nil {
		pterm.Error.Printfln("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	log := logger.New(logLevelFromEnv())
	pterm.Info.Printfln("Starting camofleet control-plane v%s", version)
	pterm.Info.Printfln("Dispatching across %d worker(s)", len(cfg.Workers))
	pterm.Info.Printfln("API server will listen on: %s", cfg.Base.Addr())

	pool := httpx.NewPool()
	requestTimeout := time.Duration(cfg.Base.RequestTimeout * float64(time.Second))
	disp := dispatcher.New(log, pool, cfg, requestTimeout)

	srv := api.NewServer(log, disp, cfg.Base, version)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	pterm.Success.Println("Control-plane started successfully")

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
	pterm.Success.Println("Control-plane stopped gracefully")
}

func logLevelFromEnv() string {
	if level := os.Getenv("CONTROL_LOG_LEVEL"); level != "" {
		return level
	}
	return "info"
}
