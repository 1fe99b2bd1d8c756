// SPDX-License-Identifier: LGPL-3.0-or-later

// Package reaper runs a callback on a fixed interval until cancelled —
// the runner's idle-TTL sweep (spec §4.4). Selecting which sessions have
// gone idle and tearing them down outside the session table's lock is
// the callback owner's responsibility (the session manager); this
// package only owns the ticking and failure isolation.
package reaper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"camofleet/internal/logger"
)

// Reaper invokes Tick on every interval tick until Stop is called. A
// panicking callback is recovered and logged rather than allowed to end
// idle-TTL enforcement for good.
type Reaper struct {
	log      logger.Logger
	interval time.Duration
	tick     func(ctx context.Context)

	cron    *cron.Cron
	entryID cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
}

// New builds a Reaper. tick is called with a context cancelled the
// moment Stop runs.
func New(log logger.Logger, interval time.Duration, tick func(ctx context.Context)) *Reaper {
	return &Reaper{log: log, interval: interval, tick: tick, cron: cron.New()}
}

// Start schedules the tick at the configured interval and starts the
// underlying cron scheduler. Calling Start twice without an intervening
// Stop is a no-op.
func (r *Reaper) Start(ctx context.Context) {
	if r.cancel != nil {
		return
	}
	r.ctx, r.cancel = context.WithCancel(ctx)

	spec := fmt.Sprintf("@every %s", r.interval)
	entryID, err := r.cron.AddFunc(spec, r.safeTick)
	if err != nil {
		r.log.Warn("idle reaper failed to schedule", "error", err, "interval", r.interval)
		return
	}
	r.entryID = entryID
	r.cron.Start()
}

func (r *Reaper) safeTick() {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Warn("idle reaper tick panicked", "recovered", rec)
		}
	}()
	select {
	case <-r.ctx.Done():
		return
	default:
	}
	r.tick(r.ctx)
}

// Stop removes the scheduled tick, cancels the tick context, and blocks
// until any in-flight tick returns. Safe to call even if Start was
// never called.
func (r *Reaper) Stop() {
	if r.cancel == nil {
		return
	}
	r.cron.Remove(r.entryID)
	r.cancel()
	<-r.cron.Stop().Done()
	r.cancel = nil
}
