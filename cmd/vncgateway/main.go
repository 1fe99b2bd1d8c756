// SPDX-License-Identifier: LGPL-3.0-or-later

// Command vncgateway launches the camofleet VNC gateway: the tier that
// proxies browser-facing noVNC HTTP/WS traffic to a runner's
// dynamically allocated display ports (spec §4.10).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"

	"camofleet/internal/logger"
	"camofleet/internal/vncgateway/api"
	"camofleet/internal/vncgateway/proxy"
	"camofleet/internal/vncgateway/vgconfig"
)

const version = "0.1.0"

func main() {
	versionFlag := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("camofleet-vnc-gateway version %s\n", version)
		os.Exit(0)
	}

	cfg, err := vgconfig.Load()
	if err != nil {
		pterm.Error.Printfln("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	log := logger.New(logLevelFromEnv())
	pterm.Info.Printfln("Starting camofleet vnc gateway v%s", version)
	pterm.Info.Printfln("Proxying to runner host: %s (ports %d-%d)", cfg.RunnerHost, cfg.MinPort, cfg.MaxPort)
	pterm.Info.Printfln("API server will listen on: %s", cfg.Base.Addr())

	httpClient := &http.Client{Timeout: time.Duration(cfg.Base.RequestTimeout * float64(time.Second))}
	httpProxy := proxy.NewHTTPProxy(cfg, httpClient)
	capacity := proxy.NewCapacity(cfg.MaxConcurrentSessions)
	wsProxy := proxy.NewWSProxy(cfg, log, capacity)

	srv := api.NewServer(log, cfg, httpProxy, wsProxy, capacity)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	pterm.Success.Println("VNC gateway started successfully")

	select {
	case sig := <-sigCh:
		pterm.Warning.Printfln("Received signal: %v", sig)
		shutdown(srv)
	case err := <-errCh:
		pterm.Error.Printfln("Server error: %v", err)
		shutdown(srv)
		os.Exit(1)
	}
}

func shutdown(srv *api.Server) {
	pterm.Info.Println("Shutting down gracefully, draining in-flight sessions...")
	ctx, stop := context.WithTimeout(context.Background(), 60*time.Second)
	defer stop()
	if err := srv.Shutdown(ctx); err != nil {
		pterm.Error.Printfln("Server shutdown error: %v", err)
	}
	pterm.Success.Println("VNC gateway stopped gracefully")
}

func logLevelFromEnv() string {
	if level := os.Getenv("VNCGATEWAY_LOG_LEVEL"); level != "" {
		return level
	}
	return "info"
}
