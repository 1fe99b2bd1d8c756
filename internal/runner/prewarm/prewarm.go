// SPDX-License-Identifier: LGPL-3.0-or-later

// Package prewarm maintains ready-to-hand-out browser servers (headless
// and VNC-bound) so session creation can skip the cold-start launch path
// (spec §4.3).
package prewarm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"camofleet/internal/logger"
	"camofleet/internal/runner/launchconfig"
	"camofleet/internal/runner/pool"
	"camofleet/internal/runner/subprocess"
)

// Resource is one ready-to-use bundle: a launched browser server, plus a
// VNC chain when the entry is VNC-bound.
type Resource struct {
	Server   *subprocess.BrowserServerHandle
	Vnc      *subprocess.VncChain
	Headless bool
}

// Launcher composes the inputs LaunchBrowserServer/LaunchVncChain need.
// Implemented by the session manager so prewarm never has to know how a
// launch config is assembled from settings and proxy defaults.
type Launcher interface {
	// HeadlessDocument builds the launch config for a prewarmed
	// headless entry (no VNC display, no proxy override).
	HeadlessDocument() launchconfig.Document
	// VncDocument builds the launch config for a prewarmed VNC entry
	// bound to the given logical display (e.g. ":101").
	VncDocument(display string) launchconfig.Document
}

// Pool maintains the two prewarm stacks and their background top-up loop.
type Pool struct {
	log      logger.Logger
	pool     *pool.ResourcePool
	launcher Launcher
	drivers  subprocess.DriverBinaries
	browser  string

	launchTimeout time.Duration
	vncSettings   subprocess.VncChainSettings

	headlessTarget int
	vncTarget      int
	checkInterval  time.Duration

	inventoryMu sync.Mutex
	headless    []Resource
	vnc         []Resource

	topUpMu sync.Mutex

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a Pool. If VNC tooling is unavailable, vncTarget is forced
// to 0 and a one-time info log records the downgrade (spec §4.3) —
// callers should pass the raw configured target; New performs the check.
func New(log logger.Logger, p *pool.ResourcePool, launcher Launcher, drivers subprocess.DriverBinaries, browser string, launchTimeout time.Duration, vncSettings subprocess.VncChainSettings, headlessTarget, vncTarget int, checkInterval time.Duration) *Pool {
	if vncTarget > 0 && !subprocess.VncToolingAvailable() {
		log.Info("vnc tooling unavailable; disabling vnc prewarm", "configured_target", vncTarget)
		vncTarget = 0
	}
	return &Pool{
		log:            log,
		pool:           p,
		launcher:       launcher,
		drivers:        drivers,
		browser:        browser,
		launchTimeout:  launchTimeout,
		vncSettings:    vncSettings,
		headlessTarget: headlessTarget,
		vncTarget:      vncTarget,
		checkInterval:  checkInterval,
	}
}

// requiresBackgroundLoop reports whether either target is positive.
func (p *Pool) requiresBackgroundLoop() bool {
	return p.headlessTarget > 0 || p.vncTarget > 0
}

// Start performs an initial top-up and, if either target is positive,
// schedules the background maintenance loop at checkInterval, bound to
// ctx.
func (p *Pool) Start(ctx context.Context) {
	if !p.requiresBackgroundLoop() {
		return
	}
	p.TopUpOnce(ctx)

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.cron = cron.New()
	spec := fmt.Sprintf("@every %s", p.checkInterval)
	if _, err := p.cron.AddFunc(spec, func() { p.TopUpOnce(p.ctx) }); err != nil {
		p.log.Warn("prewarm failed to schedule top-up loop", "error", err, "interval", p.checkInterval)
		return
	}
	p.cron.Start()
}

// Acquire pops a matching ready entry, or returns nil if none is
// available (the caller then launches on demand). vnc entries are never
// handed out for a headless request and vice versa.
func (p *Pool) Acquire(vnc, headless bool) *Resource {
	p.inventoryMu.Lock()
	defer p.inventoryMu.Unlock()

	if vnc && len(p.vnc) > 0 {
		last := len(p.vnc) - 1
		r := p.vnc[last]
		p.vnc = p.vnc[:last]
		return &r
	}
	if !vnc && headless && len(p.headless) > 0 {
		last := len(p.headless) - 1
		r := p.headless[last]
		p.headless = p.headless[:last]
		return &r
	}
	return nil
}

// RequestTopUp kicks one top-up round without blocking the caller.
func (p *Pool) RequestTopUp() {
	if !p.requiresBackgroundLoop() {
		return
	}
	go p.TopUpOnce(context.Background())
}

// TopUpOnce launches entries until both stacks reach their targets, or a
// launch fails (logged and treated as backpressure — it stops that
// stack's top-up for this round rather than retrying in a tight loop).
func (p *Pool) TopUpOnce(ctx context.Context) {
	p.topUpMu.Lock()
	defer p.topUpMu.Unlock()

	p.inventoryMu.Lock()
	needHeadless := p.headlessTarget - len(p.headless)
	needVnc := p.vncTarget - len(p.vnc)
	p.inventoryMu.Unlock()

	for i := 0; i < needHeadless; i++ {
		doc := p.launcher.HeadlessDocument()
		server, err := subprocess.LaunchBrowserServer(ctx, p.log, p.drivers, p.browser, doc, p.launchTimeout)
		if err != nil {
			p.log.Warn("failed to prewarm headless server", "error", err)
			break
		}
		p.inventoryMu.Lock()
		p.headless = append(p.headless, Resource{Server: server, Headless: true})
		p.inventoryMu.Unlock()
	}

	for i := 0; i < needVnc; i++ {
		slot, err := p.pool.Acquire()
		if err != nil {
			p.log.Warn("failed to prewarm vnc server: no capacity", "error", err)
			break
		}
		chain, err := subprocess.LaunchVncChain(ctx, p.log, slot, p.vncSettings)
		if err != nil {
			p.pool.Release(slot)
			p.log.Warn("failed to prewarm vnc server", "error", err)
			break
		}
		doc := p.launcher.VncDocument(chain.Display)
		server, err := subprocess.LaunchBrowserServer(ctx, p.log, p.drivers, p.browser, doc, p.launchTimeout)
		if err != nil {
			chain.Teardown(p.log)
			p.pool.Release(slot)
			p.log.Warn("failed to prewarm vnc server", "error", err)
			break
		}
		p.inventoryMu.Lock()
		p.vnc = append(p.vnc, Resource{Server: server, Vnc: chain, Headless: false})
		p.inventoryMu.Unlock()
	}
}

// Close stops the background loop and drains both stacks, releasing
// every entry's resources. Safe to call even if Start was never called.
func (p *Pool) Close() {
	if p.cancel != nil {
		p.cancel()
		<-p.cron.Stop().Done()
	}
	p.Drain()
}

// Drain empties both stacks and releases every entry's resources. Used
// directly by Close and exposed for tests.
func (p *Pool) Drain() {
	p.inventoryMu.Lock()
	entries := make([]Resource, 0, len(p.headless)+len(p.vnc))
	entries = append(entries, p.headless...)
	entries = append(entries, p.vnc...)
	p.headless = nil
	p.vnc = nil
	p.inventoryMu.Unlock()

	for _, e := range entries {
		_ = e.Server.Close()
		if e.Vnc != nil {
			e.Vnc.Teardown(p.log)
			p.pool.Release(e.Vnc.Slot)
		}
	}
}

// Stats reports current stack depths, for diagnostics.
type Stats struct {
	HeadlessReady int
	VncReady      int
}

func (p *Pool) Stats() Stats {
	p.inventoryMu.Lock()
	defer p.inventoryMu.Unlock()
	return Stats{HeadlessReady: len(p.headless), VncReady: len(p.vnc)}
}

// VncEnabled reports whether this pool will ever maintain VNC entries:
// true only when a positive target survived the tooling-availability
// check in New. A pool whose target was downgraded reports false.
func (p *Pool) VncEnabled() bool {
	return p.vncTarget > 0
}
