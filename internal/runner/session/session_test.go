// SPDX-License-Identifier: LGPL-3.0-or-later

package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camofleet/internal/dto"
	"camofleet/internal/logger"
	"camofleet/internal/runner/pool"
	"camofleet/internal/runner/prewarm"
	"camofleet/internal/runner/subprocess"
)

func echoDriverScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "driver.sh")
	body := "#!/bin/sh\necho \"ws://127.0.0.1:9999/devtools/browser/abc\"\nsleep 30\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	rp, err := pool.New(pool.Range{Min: 100, Max: 101}, pool.Range{Min: 5900, Max: 5901}, pool.Range{Min: 6900, Max: 6901})
	require.NoError(t, err)

	log := logger.New("error")
	drivers := subprocess.DriverBinaries{Node: "/bin/sh", CLI: echoDriverScript(t)}
	mgr := New(log, rp, nil, drivers, "firefox", time.Second,
		subprocess.VncChainSettings{Resolution: "1920x1080x24", StartupTimeout: time.Second},
		VNCBases{WSBase: "wss://vnc.example", HTTPBase: "https://vnc.example"},
		Defaults{IdleTTLSeconds: 60, Headless: true, StartURL: ""}, "load")

	pw := prewarm.New(log, rp, mgr, drivers, "firefox", time.Second,
		subprocess.VncChainSettings{Resolution: "1920x1080x24", StartupTimeout: time.Second}, 0, 0, time.Hour)
	mgr.prewarm = pw
	return mgr
}

func TestCreateHeadlessSessionReady(t *testing.T) {
	mgr := newTestManager(t)
	detail, err := mgr.Create(context.Background(), dto.CreateSessionRequest{})
	require.NoError(t, err)
	assert.Equal(t, dto.StatusReady, detail.Status)
	assert.Equal(t, "ws://127.0.0.1:9999/devtools/browser/abc", detail.WSEndpoint)
	assert.Equal(t, 60, detail.IdleTTLSeconds)
	assert.True(t, detail.Headless)
	assert.False(t, detail.VNC)
}

func TestCreateVNCFailsWhenToolingUnavailable(t *testing.T) {
	mgr := newTestManager(t)
	_, err := mgr.Create(context.Background(), dto.CreateSessionRequest{VNC: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, dto.ErrVNCUnavailable)
}

func TestCreateRejectsInvalidRequest(t *testing.T) {
	mgr := newTestManager(t)
	bad := -1
	_, err := mgr.Create(context.Background(), dto.CreateSessionRequest{IdleTTLSeconds: &bad})
	require.Error(t, err)
	assert.ErrorIs(t, err, dto.ErrConfigInvalid)
}

func TestGetUnknownReturnsFalse(t *testing.T) {
	mgr := newTestManager(t)
	_, ok := mgr.Get("nope")
	assert.False(t, ok)
}

func TestTouchUpdatesLastSeenAt(t *testing.T) {
	mgr := newTestManager(t)
	detail, err := mgr.Create(context.Background(), dto.CreateSessionRequest{})
	require.NoError(t, err)

	before := detail.LastSeenAt
	time.Sleep(5 * time.Millisecond)
	touched, ok := mgr.Touch(detail.ID)
	require.True(t, ok)
	assert.True(t, touched.LastSeenAt.After(before))
}

func TestDeleteIsIdempotent(t *testing.T) {
	mgr := newTestManager(t)
	detail, err := mgr.Create(context.Background(), dto.CreateSessionRequest{})
	require.NoError(t, err)

	deleted, ok := mgr.Delete(detail.ID)
	require.True(t, ok)
	assert.Equal(t, detail.ID, deleted.ID)

	_, ok = mgr.Delete(detail.ID)
	assert.False(t, ok)
}

func TestListReturnsAllLiveSessions(t *testing.T) {
	mgr := newTestManager(t)
	_, err := mgr.Create(context.Background(), dto.CreateSessionRequest{})
	require.NoError(t, err)
	_, err = mgr.Create(context.Background(), dto.CreateSessionRequest{})
	require.NoError(t, err)

	assert.Len(t, mgr.List(), 2)
}

func TestReapExpiredTearsDownStaleSessions(t *testing.T) {
	mgr := newTestManager(t)
	detail, err := mgr.Create(context.Background(), dto.CreateSessionRequest{})
	require.NoError(t, err)

	mgr.mu.Lock()
	mgr.sessions[detail.ID].LastSeenAt = time.Now().UTC().Add(-time.Hour)
	mgr.mu.Unlock()

	mgr.ReapExpired(context.Background())

	_, ok := mgr.Get(detail.ID)
	assert.False(t, ok)
}

func TestShutdownRejectsFurtherCreatesAndTearsDownLive(t *testing.T) {
	mgr := newTestManager(t)
	detail, err := mgr.Create(context.Background(), dto.CreateSessionRequest{})
	require.NoError(t, err)

	mgr.Shutdown()

	assert.Equal(t, 0, mgr.Len())
	_, ok := mgr.Get(detail.ID)
	assert.False(t, ok)

	_, err = mgr.Create(context.Background(), dto.CreateSessionRequest{})
	assert.ErrorIs(t, err, dto.ErrShuttingDown)
}
