// SPDX-License-Identifier: LGPL-3.0-or-later

// Command runner launches the camofleet runner: the tier that owns one
// host's display/port pool and spawns browser-automation-server and VNC
// subprocess chains on demand (spec §3, §4.1-§4.5).
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

	"camofleet/internal/logger"
	"camofleet/internal/runner/api"
	"camofleet/internal/runner/pool"
	"camofleet/internal/runner/prewarm"
	"camofleet/internal/runner/rconfig"
	"camofleet/internal/runner/reaper"
	"camofleet/internal/runner/session"
	"camofleet/internal/runner/subprocess"
)

const version = "0.1.0"

func main() {
	versionFlag := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("camofleet-runner version %s\n", version)
		os.Exit(0)
	}

	cfg, err := rconfig.Load()
	if err != nil {
		pterm.Error.Printfln("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	log := logger.New(logLevelFromEnv())

	pterm.Info.Printfln("Starting camofleet runner v%s", version)
	pterm.Info.Printfln("API server will listen on: %s", cfg.Base.Addr())

	rp, err := pool.New(
		pool.Range{Min: cfg.VNCDisplayMin, Max: cfg.VNCDisplayMax},
		pool.Range{Min: cfg.VNCPortMin, Max: cfg.VNCPortMax},
		pool.Range{Min: cfg.VNCWSPortMin, Max: cfg.VNCWSPortMax},
	)
	if err != nil {
		pterm.Error.Printfln("Failed to build resource pool: %v", err)
		os.Exit(1)
	}
	pterm.Success.Printfln("Resource pool ready (capacity: %d)", cfg.Capacity())

	drivers := subprocess.DriverBinaries{Node: cfg.DriverNodeBinary, CLI: cfg.DriverCLIBinary}
	vncSettings := subprocess.VncChainSettings{
		Resolution:     cfg.VNCResolution,
		StartupTimeout: time.Duration(cfg.VNCStartupTimeoutSeconds * float64(time.Second)),
		WebAssetsPath:  cfg.VNCWebAssetsPath,
	}
	launchTimeout := time.Duration(cfg.BrowserLaunchTimeoutSeconds * float64(time.Second))

	mgr := session.New(log, rp, nil, drivers, cfg.DefaultBrowser, launchTimeout, vncSettings,
		session.VNCBases{WSBase: cfg.VNCWSBase, HTTPBase: cfg.VNCHTTPBase},
		session.Defaults{
			IdleTTLSeconds: cfg.SessionDefaults.IdleTTLSeconds,
			Headless:       cfg.SessionDefaults.Headless,
			StartURL:       cfg.SessionDefaults.StartURL,
		}, cfg.StartURLWait)

	pw := prewarm.New(log, rp, mgr, drivers, cfg.DefaultBrowser, launchTimeout, vncSettings,
		cfg.PrewarmHeadlessTarget, cfg.PrewarmVNCTarget,
		time.Duration(cfg.PrewarmCheckIntervalSeconds)*time.Second)
	mgr.SetPrewarm(pw)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pw.Start(ctx)

	idleReaper := reaper.New(log, time.Duration(cfg.CleanupIntervalSeconds)*time.Second, mgr.ReapExpired)
	idleReaper.Start(ctx)

	srv := api.NewServer(log, mgr, rp, pw, cfg.Base, version)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	pterm.Success.Println("Runner started successfully")

	select {
	case sig := <-sigCh:
		pterm.Warning.Printfln("Received signal: %v", sig)
		shutdown(log, srv, idleReaper, pw, mgr, cancel)
	case err := <-errCh:
		pterm.Error.Printfln("Server error: %v", err)
		shutdown(log, srv, idleReaper, pw, mgr, cancel)
		os.Exit(1)
	}
}

func shutdown(log logger.Logger, srv *api.Server, r *reaper.Reaper, pw *prewarm.Pool, mgr *session.Manager, cancel context.CancelFunc) {
	pterm.Info.Println("Shutting down gracefully...")
	ctx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()

	if err := srv.Shutdown(ctx); err != nil {
		pterm.Error.Printfln("Server shutdown error: %v", err)
	}
	r.Stop()
	pw.Close()
	mgr.Shutdown()
	cancel()
	pterm.Success.Println("Runner stopped gracefully")
}

func logLevelFromEnv() string {
	if level := os.Getenv("RUNNER_LOG_LEVEL"); level != "" {
		return level
	}
	return "info"
}
