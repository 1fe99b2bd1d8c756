// SPDX-License-Identifier: LGPL-3.0-or-later

// Package launchconfig builds the JSON configuration file handed to the
// browser-server subprocess on spawn (spec §4.2).
package launchconfig

import (
	"encoding/json"
	"os"

	"camofleet/internal/dto"
)

// Document is the JSON body written to the config file passed via
// --config=<path> to the driver CLI.
type Document struct {
	Headless          bool                   `json:"headless"`
	Args              []string               `json:"args,omitempty"`
	Env               map[string]string      `json:"env,omitempty"`
	ExecutablePath    string                 `json:"executablePath,omitempty"`
	Prefs             map[string]interface{} `json:"prefs,omitempty"`
	Proxy             *dto.ProxyOverride     `json:"proxy,omitempty"`
	IgnoreDefaultArgs interface{}            `json:"ignoreDefaultArgs,omitempty"`
}

// Params collects the inputs used to build a Document. DefaultProxy is the
// per-browser default proxy configuration (if any); Override, when
// non-nil, wins over it (spec §4.2).
type Params struct {
	Headless          bool
	Args              []string
	Env               map[string]string
	ExecutablePath    string
	Prefs             map[string]interface{}
	DefaultProxy      *dto.ProxyOverride
	Override          *dto.ProxyOverride
	IgnoreDefaultArgs interface{}
}

// Build assembles the Document for p, applying override precedence.
func Build(p Params) Document {
	proxy := p.DefaultProxy
	if p.Override != nil {
		proxy = p.Override
	}
	return Document{
		Headless:          p.Headless,
		Args:              p.Args,
		Env:               p.Env,
		ExecutablePath:    p.ExecutablePath,
		Prefs:             p.Prefs,
		Proxy:             proxy,
		IgnoreDefaultArgs: p.IgnoreDefaultArgs,
	}
}

// WriteTemp marshals doc to a fresh temp file and returns its path. The
// caller owns cleanup (os.Remove) in every exit path per spec §4.2.
func WriteTemp(doc Document) (string, error) {
	f, err := os.CreateTemp("", "camofleet-launch-*.json")
	if err != nil {
		return "", err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	if err := enc.Encode(doc); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
