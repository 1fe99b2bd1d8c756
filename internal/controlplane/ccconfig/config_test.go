// SPDX-License-Identifier: LGPL-3.0-or-later

package ccconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsToSingleLocalWorker(t *testing.T) {
	t.Setenv("CONTROL_WORKERS_FILE", "")
	s, err := Load()
	require.NoError(t, err)
	require.Len(t, s.Workers, 1)
	assert.Equal(t, "local", s.Workers[0].Name)
	assert.Equal(t, 8, s.ListSessionsConcurrency)
	assert.Equal(t, VncRewritePlaceholder, s.VncRewriteMode)
}

func TestLoadReadsWorkersFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "workers.yaml")
	yaml := `
- name: alpha
  url: http://alpha:8080
  supports_vnc: true
  vnc_ws: "ws://alpha-vnc/{id}"
  vnc_http: "http://alpha-vnc/{id}"
- name: beta
  url: http://beta:8080
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("CONTROL_WORKERS_FILE", path)
	t.Setenv("CONTROL_LIST_SESSIONS_CONCURRENCY", "2")

	s, err := Load()
	require.NoError(t, err)
	require.Len(t, s.Workers, 2)
	assert.Equal(t, "alpha", s.Workers[0].Name)
	assert.True(t, s.Workers[0].SupportsVNC)
	assert.Equal(t, 2, s.ListSessionsConcurrency)
}

func TestLoadRejectsDuplicateWorkerNames(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "workers.yaml")
	yaml := `
- name: dup
  url: http://a:8080
- name: dup
  url: http://b:8080
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("CONTROL_WORKERS_FILE", path)

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsUnknownRewriteMode(t *testing.T) {
	t.Setenv("CONTROL_WORKERS_FILE", "")
	t.Setenv("CONTROL_VNC_REWRITE_MODE", "bogus")
	_, err := Load()
	require.Error(t, err)
}
