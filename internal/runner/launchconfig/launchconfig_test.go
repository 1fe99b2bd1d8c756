// SPDX-License-Identifier: LGPL-3.0-or-later

package launchconfig

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camofleet/internal/dto"
)

func TestBuildOverrideWinsOverDefault(t *testing.T) {
	def := &dto.ProxyOverride{Server: "http://default:8080"}
	override := &dto.ProxyOverride{Server: "http://override:8080"}

	doc := Build(Params{Headless: true, DefaultProxy: def, Override: override})
	assert.Equal(t, override, doc.Proxy)
}

func TestBuildFallsBackToDefaultProxy(t *testing.T) {
	def := &dto.ProxyOverride{Server: "http://default:8080"}
	doc := Build(Params{Headless: true, DefaultProxy: def})
	assert.Equal(t, def, doc.Proxy)
}

func TestWriteTempRoundTrips(t *testing.T) {
	doc := Build(Params{Headless: true, Args: []string{"--foo"}})
	path, err := WriteTemp(doc)
	require.NoError(t, err)
	defer os.Remove(path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got Document
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, doc, got)
}
