// SPDX-License-Identifier: LGPL-3.0-or-later

// Package wconfig loads WORKER_-prefixed settings (spec §6).
package wconfig

import (
	"fmt"

	"camofleet/internal/config"
	"camofleet/internal/dto"
)

// SessionDefaults are applied to fields missing from a create request
// before it is forwarded to the runner.
type SessionDefaults struct {
	IdleTTLSeconds int
	Headless       bool
}

// Settings is the worker's full configuration.
type Settings struct {
	Base config.Base

	RunnerBaseURL   string
	SupportsVNC     bool
	SessionDefaults SessionDefaults
	Browser         string
}

// Load reads settings from the environment.
func Load() (*Settings, error) {
	l := config.NewLoader("WORKER_")
	s := &Settings{
		Base:          config.LoadBase(l, 8080),
		RunnerBaseURL: l.String("RUNNER_BASE_URL", "http://127.0.0.1:8070"),
		SupportsVNC:   l.Bool("SUPPORTS_VNC", false),
		SessionDefaults: SessionDefaults{
			IdleTTLSeconds: l.Int("SESSION_DEFAULT_IDLE_TTL_SECONDS", 300),
			Headless:       l.Bool("SESSION_DEFAULT_HEADLESS", false),
		},
		Browser: l.String("BROWSER_NAME", "camoufox"),
	}
	if s.RunnerBaseURL == "" {
		return nil, fmt.Errorf("%w: runner_base_url must not be empty", dto.ErrConfigInvalid)
	}
	return s, nil
}
