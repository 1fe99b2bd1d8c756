// SPDX-License-Identifier: LGPL-3.0-or-later

// Package vgconfig loads VNCGATEWAY_-prefixed settings (spec §4.10, §6).
package vgconfig

import (
	"fmt"

	"camofleet/internal/config"
	"camofleet/internal/dto"
)

// Settings is the VNC gateway's full configuration.
type Settings struct {
	Base config.Base

	RunnerHost       string
	RunnerHTTPScheme string
	RunnerWSScheme   string
	RunnerPathPrefix string

	MinPort int
	MaxPort int

	TCPConnectTimeoutMS   int
	ReadTimeoutMS         int
	WriteTimeoutMS        int
	WSPingIntervalMS      int
	TCPIdleTimeoutMS      int
	MaxConcurrentSessions int
	ShutdownGraceMS       int
}

// Load reads settings from the environment, following the original's
// GatewaySettings field set and spec §5's default timeouts.
func Load() (*Settings, error) {
	l := config.NewLoader("VNCGATEWAY_")
	s := &Settings{
		Base: config.LoadBase(l, 6080),

		RunnerHost:       l.String("RUNNER_HOST", "runner-vnc"),
		RunnerHTTPScheme: l.String("RUNNER_HTTP_SCHEME", "http"),
		RunnerWSScheme:   l.String("RUNNER_WS_SCHEME", "ws"),
		RunnerPathPrefix: l.String("RUNNER_PATH_PREFIX", ""),

		MinPort: l.Int("MIN_PORT", 6900),
		MaxPort: l.Int("MAX_PORT", 6999),

		TCPConnectTimeoutMS:   l.Int("TCP_CONNECT_TIMEOUT_MS", 5000),
		ReadTimeoutMS:         l.Int("READ_TIMEOUT_MS", 120000),
		WriteTimeoutMS:        l.Int("WRITE_TIMEOUT_MS", 120000),
		WSPingIntervalMS:      l.Int("WS_PING_INTERVAL_MS", 25000),
		TCPIdleTimeoutMS:      l.Int("TCP_IDLE_TIMEOUT_MS", 300000),
		MaxConcurrentSessions: l.Int("MAX_CONCURRENT_SESSIONS", 64),
		ShutdownGraceMS:       l.Int("SHUTDOWN_GRACE_MS", 30000),
	}

	if err := config.ValidateRange("port", s.MinPort, s.MaxPort); err != nil {
		return nil, err
	}
	if s.MaxConcurrentSessions <= 0 {
		return nil, fmt.Errorf("%w: max_concurrent_sessions must be positive", dto.ErrConfigInvalid)
	}
	return s, nil
}

// NormalisedPrefix formats RunnerPathPrefix for joining with upstream paths.
func (s *Settings) NormalisedPrefix() string {
	return config.NormalisePublicPrefix(s.RunnerPathPrefix)
}
