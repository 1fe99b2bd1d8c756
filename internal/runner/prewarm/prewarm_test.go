// SPDX-License-Identifier: LGPL-3.0-or-later

package prewarm

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camofleet/internal/logger"
	"camofleet/internal/runner/launchconfig"
	"camofleet/internal/runner/pool"
	"camofleet/internal/runner/subprocess"
)

type fakeLauncher struct{}

func (fakeLauncher) HeadlessDocument() launchconfig.Document {
	return launchconfig.Build(launchconfig.Params{Headless: true})
}

func (fakeLauncher) VncDocument(display string) launchconfig.Document {
	return launchconfig.Build(launchconfig.Params{Headless: false, Env: map[string]string{"DISPLAY": display}})
}

func echoDriverScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "driver.sh")
	body := "#!/bin/sh\necho \"ws://127.0.0.1:9999/devtools/browser/abc\"\nsleep 5\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func newTestPool(t *testing.T, headlessTarget, vncTarget int, checkInterval time.Duration) (*Pool, *pool.ResourcePool) {
	t.Helper()
	rp, err := pool.New(pool.Range{Min: 100, Max: 101}, pool.Range{Min: 5900, Max: 5901}, pool.Range{Min: 6900, Max: 6901})
	require.NoError(t, err)

	drivers := subprocess.DriverBinaries{Node: "/bin/sh", CLI: echoDriverScript(t)}
	p := New(logger.New("error"), rp, fakeLauncher{}, drivers, "firefox", time.Second,
		subprocess.VncChainSettings{Resolution: "1920x1080x24", StartupTimeout: time.Second}, headlessTarget, vncTarget, checkInterval)
	return p, rp
}

func TestTopUpOnceFillsHeadlessTarget(t *testing.T) {
	p, _ := newTestPool(t, 2, 0, time.Hour)
	p.TopUpOnce(context.Background())

	assert.Equal(t, Stats{HeadlessReady: 2, VncReady: 0}, p.Stats())
	p.Drain()
}

func TestAcquireHeadlessPopsFromStack(t *testing.T) {
	p, _ := newTestPool(t, 1, 0, time.Hour)
	p.TopUpOnce(context.Background())

	r := p.Acquire(false, true)
	require.NotNil(t, r)
	assert.Equal(t, 0, p.Stats().HeadlessReady)

	assert.Nil(t, p.Acquire(false, true))
	_ = r.Server.Close()
}

func TestAcquireVncNeverReturnsHeadlessEntry(t *testing.T) {
	p, _ := newTestPool(t, 1, 0, time.Hour)
	p.TopUpOnce(context.Background())

	assert.Nil(t, p.Acquire(true, false))
	p.Drain()
}

func TestVncTargetForcedToZeroWhenToolingUnavailable(t *testing.T) {
	p, _ := newTestPool(t, 0, 3, time.Hour)
	assert.False(t, p.VncEnabled())
	assert.Equal(t, Stats{}, p.Stats())
}

func TestDrainReleasesAllEntries(t *testing.T) {
	p, _ := newTestPool(t, 2, 0, time.Hour)
	p.TopUpOnce(context.Background())
	require.Equal(t, 2, p.Stats().HeadlessReady)

	p.Drain()
	assert.Equal(t, Stats{}, p.Stats())
}

func TestCloseStopsBackgroundLoopAndDrains(t *testing.T) {
	p, _ := newTestPool(t, 1, 0, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, p.Stats().HeadlessReady)

	p.Close()
	assert.Equal(t, Stats{}, p.Stats())
}
