// SPDX-License-Identifier: LGPL-3.0-or-later

// Package rconfig loads RUNNER_-prefixed settings (spec §6, §4.1, §4.3).
package rconfig

import (
	"fmt"

	"camofleet/internal/config"
	"camofleet/internal/dto"
)

// SessionDefaults are applied to fields missing from a create request.
type SessionDefaults struct {
	IdleTTLSeconds int
	Headless       bool
	StartURL       string
}

// Settings is the runner's full configuration.
type Settings struct {
	Base config.Base

	CleanupIntervalSeconds int
	SessionDefaults        SessionDefaults
	StartURLWait           string

	VNCWSBase      string
	VNCHTTPBase    string
	VNCDisplayMin  int
	VNCDisplayMax  int
	VNCPortMin     int
	VNCPortMax     int
	VNCWSPortMin   int
	VNCWSPortMax   int
	VNCResolution  string
	VNCWebAssetsPath string
	VNCStartupTimeoutSeconds float64

	PrewarmHeadlessTarget   int
	PrewarmVNCTarget        int
	PrewarmCheckIntervalSeconds int

	BrowserLaunchTimeoutSeconds float64
	DriverNodeBinary            string
	DriverCLIBinary              string
	DefaultBrowser               string
}

// Load reads settings from the environment and validates pool ranges.
func Load() (*Settings, error) {
	l := config.NewLoader("RUNNER_")
	s := &Settings{
		Base: config.LoadBase(l, 8070),

		CleanupIntervalSeconds: l.Int("CLEANUP_INTERVAL", 15),
		SessionDefaults: SessionDefaults{
			IdleTTLSeconds: l.Int("SESSION_DEFAULT_IDLE_TTL_SECONDS", 300),
			Headless:       l.Bool("SESSION_DEFAULT_HEADLESS", false),
			StartURL:       l.String("SESSION_DEFAULT_START_URL", ""),
		},
		StartURLWait: l.String("START_URL_WAIT", "load"),

		VNCWSBase:     l.String("VNC_WS_BASE", ""),
		VNCHTTPBase:   l.String("VNC_HTTP_BASE", ""),
		VNCDisplayMin: l.Int("VNC_DISPLAY_MIN", 100),
		VNCDisplayMax: l.Int("VNC_DISPLAY_MAX", 199),
		VNCPortMin:    l.Int("VNC_PORT_MIN", 5900),
		VNCPortMax:    l.Int("VNC_PORT_MAX", 5999),
		VNCWSPortMin:  l.Int("VNC_WS_PORT_MIN", 6900),
		VNCWSPortMax:  l.Int("VNC_WS_PORT_MAX", 6999),
		VNCResolution: l.String("VNC_RESOLUTION", "1920x1080x24"),
		VNCWebAssetsPath: l.String("VNC_WEB_ASSETS_PATH", ""),
		VNCStartupTimeoutSeconds: l.Float("VNC_STARTUP_TIMEOUT_SECONDS", 5.0),

		PrewarmHeadlessTarget:       l.Int("PREWARM_HEADLESS_TARGET", 0),
		PrewarmVNCTarget:            l.Int("PREWARM_VNC_TARGET", 0),
		PrewarmCheckIntervalSeconds: l.Int("PREWARM_CHECK_INTERVAL_SECONDS", 10),

		BrowserLaunchTimeoutSeconds: l.Float("BROWSER_LAUNCH_TIMEOUT_SECONDS", 45.0),
		DriverNodeBinary:            l.String("DRIVER_NODE_BINARY", "node"),
		DriverCLIBinary:              l.String("DRIVER_CLI_BINARY", "camoufox-cli"),
		DefaultBrowser:               l.String("DEFAULT_BROWSER", "firefox"),
	}

	if err := config.ValidateRange("vnc_display", s.VNCDisplayMin, s.VNCDisplayMax); err != nil {
		return nil, err
	}
	if err := config.ValidateRange("vnc_port", s.VNCPortMin, s.VNCPortMax); err != nil {
		return nil, err
	}
	if err := config.ValidateRange("vnc_ws_port", s.VNCWSPortMin, s.VNCWSPortMax); err != nil {
		return nil, err
	}
	if s.Capacity() <= 0 {
		return nil, fmt.Errorf("%w: vnc resource ranges must contain at least one value", dto.ErrConfigInvalid)
	}
	if s.CleanupIntervalSeconds <= 0 || s.CleanupIntervalSeconds > 3600 {
		return nil, fmt.Errorf("%w: cleanup_interval must be in (0, 3600]", dto.ErrConfigInvalid)
	}
	return s, nil
}

// Capacity is the effective pool size: the minimum of the three ranges'
// spans (spec §4.1).
func (s *Settings) Capacity() int {
	displaySpan := s.VNCDisplayMax - s.VNCDisplayMin + 1
	portSpan := s.VNCPortMax - s.VNCPortMin + 1
	wsSpan := s.VNCWSPortMax - s.VNCWSPortMin + 1
	return min3(displaySpan, portSpan, wsSpan)
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
