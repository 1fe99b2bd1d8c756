// SPDX-License-Identifier: LGPL-3.0-or-later

package reaper

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camofleet/internal/logger"
)

func TestReaperTicksUntilStopped(t *testing.T) {
	var count int32
	r := New(logger.New("error"), 10*time.Millisecond, func(ctx context.Context) {
		atomic.AddInt32(&count, 1)
	})

	r.Start(context.Background())
	time.Sleep(55 * time.Millisecond)
	r.Stop()

	got := atomic.LoadInt32(&count)
	assert.GreaterOrEqual(t, got, int32(2))

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, got, atomic.LoadInt32(&count))
}

func TestReaperStopsOnContextCancel(t *testing.T) {
	var count int32
	r := New(logger.New("error"), 10*time.Millisecond, func(ctx context.Context) {
		atomic.AddInt32(&count, 1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	time.Sleep(25 * time.Millisecond)
	cancel()
	time.Sleep(25 * time.Millisecond)

	got := atomic.LoadInt32(&count)
	time.Sleep(25 * time.Millisecond)
	assert.Equal(t, got, atomic.LoadInt32(&count))
}

func TestReaperTickPanicIsIsolated(t *testing.T) {
	var calls int32
	r := New(logger.New("error"), 10*time.Millisecond, func(ctx context.Context) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			panic("boom")
		}
	})

	r.Start(context.Background())
	time.Sleep(55 * time.Millisecond)
	r.Stop()

	require.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

type fakeExpirable struct {
	lastSeen time.Time
	ttl      int
}

func (f fakeExpirable) LastSeenAt() time.Time { return f.lastSeen }
func (f fakeExpirable) IdleTTLSeconds() int   { return f.ttl }

func TestSelectExpiredPicksOnlyPastDeadline(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	items := []fakeExpirable{
		{lastSeen: now.Add(-30 * time.Second), ttl: 10}, // expired
		{lastSeen: now.Add(-5 * time.Second), ttl: 10},  // not yet
		{lastSeen: now.Add(-10 * time.Second), ttl: 10}, // exactly at deadline
	}

	expired := SelectExpired(items, now)
	assert.Len(t, expired, 2)
	assert.Equal(t, items[0], expired[0])
	assert.Equal(t, items[2], expired[1])
}
