// SPDX-License-Identifier: LGPL-3.0-or-later

// Package ccconfig loads CONTROL_-prefixed settings (spec §6, §4.7):
// the worker roster plus fan-out and VNC-rewrite tuning. The worker list
// itself follows config/config.go's yaml.v3 file-list pattern (see
// WebhookConfig there) rather than a single flat env var, since a roster
// is structured data with per-entry fields.
package ccconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"camofleet/internal/config"
	"camofleet/internal/dto"
)

// WorkerConfig describes one worker the control-plane dispatches to,
// grounded on the original's WorkerConfig model.
type WorkerConfig struct {
	Name        string `yaml:"name"`
	URL         string `yaml:"url"`
	VNCWS       string `yaml:"vnc_ws"`
	VNCHTTP     string `yaml:"vnc_http"`
	SupportsVNC bool   `yaml:"supports_vnc"`
}

// VncRewriteMode selects which ControlPlane.VncRewriter variant is
// applied to worker-supplied (http, ws) pairs (spec §4.8).
type VncRewriteMode string

const (
	VncRewritePlaceholder VncRewriteMode = "placeholders"
	VncRewritePathMerge   VncRewriteMode = "path_merge"
)

// Settings is the control-plane's full configuration.
type Settings struct {
	Base config.Base

	Workers                 []WorkerConfig
	ListSessionsConcurrency int
	VncRewriteMode          VncRewriteMode
}

// Load reads settings from the environment. The worker roster is read
// from the YAML file named by CONTROL_WORKERS_FILE; with no file
// configured, a single local worker is assumed (mirroring the original's
// default_factory single-entry roster).
func Load() (*Settings, error) {
	l := config.NewLoader("CONTROL_")
	s := &Settings{
		Base:                    config.LoadBase(l, 9000),
		ListSessionsConcurrency: l.Int("LIST_SESSIONS_CONCURRENCY", 8),
		VncRewriteMode:          VncRewriteMode(l.String("VNC_REWRITE_MODE", string(VncRewritePlaceholder))),
	}

	workersFile := l.String("WORKERS_FILE", "")
	if workersFile != "" {
		workers, err := loadWorkersFile(workersFile)
		if err != nil {
			return nil, err
		}
		s.Workers = workers
	} else {
		s.Workers = []WorkerConfig{
			{Name: "local", URL: l.String("WORKER_URL", "http://worker:8080"), SupportsVNC: false},
		}
	}

	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func loadWorkersFile(path string) ([]WorkerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading workers file %s: %v", dto.ErrConfigInvalid, path, err)
	}
	var workers []WorkerConfig
	if err := yaml.Unmarshal(data, &workers); err != nil {
		return nil, fmt.Errorf("%w: parsing workers file %s: %v", dto.ErrConfigInvalid, path, err)
	}
	return workers, nil
}

func (s *Settings) validate() error {
	if len(s.Workers) == 0 {
		return fmt.Errorf("%w: at least one worker must be configured", dto.ErrConfigInvalid)
	}
	seen := make(map[string]struct{}, len(s.Workers))
	for _, w := range s.Workers {
		if w.Name == "" || w.URL == "" {
			return fmt.Errorf("%w: worker entries require name and url", dto.ErrConfigInvalid)
		}
		if _, dup := seen[w.Name]; dup {
			return fmt.Errorf("%w: duplicate worker name %q", dto.ErrConfigInvalid, w.Name)
		}
		seen[w.Name] = struct{}{}
	}
	if s.ListSessionsConcurrency <= 0 {
		return fmt.Errorf("%w: list_sessions_concurrency must be positive", dto.ErrConfigInvalid)
	}
	switch s.VncRewriteMode {
	case VncRewritePlaceholder, VncRewritePathMerge:
	default:
		return fmt.Errorf("%w: unknown vnc_rewrite_mode %q", dto.ErrConfigInvalid, s.VncRewriteMode)
	}
	return nil
}
