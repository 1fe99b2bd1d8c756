// SPDX-License-Identifier: LGPL-3.0-or-later

// Package config loads env-prefixed settings for the four camofleet
// services, following the teacher's getEnv(key, default)/FromEnvironment
// convention generalized to a configurable prefix per spec §6.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"camofleet/internal/dto"
)

// Loader reads env vars under a fixed prefix, e.g. "RUNNER_", "WORKER_".
type Loader struct {
	prefix string
}

func NewLoader(prefix string) *Loader {
	return &Loader{prefix: prefix}
}

func (l *Loader) key(name string) string {
	return l.prefix + name
}

func (l *Loader) String(name, def string) string {
	if v, ok := os.LookupEnv(l.key(name)); ok {
		return v
	}
	return def
}

func (l *Loader) Int(name string, def int) int {
	if v, ok := os.LookupEnv(l.key(name)); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func (l *Loader) Float(name string, def float64) float64 {
	if v, ok := os.LookupEnv(l.key(name)); ok {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return def
}

func (l *Loader) Bool(name string, def bool) bool {
	if v, ok := os.LookupEnv(l.key(name)); ok {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return def
}

// StringList splits a comma-separated env var; "*" (the sole default) means
// no credentialed CORS per spec §6.
func (l *Loader) StringList(name string, def []string) []string {
	v, ok := os.LookupEnv(l.key(name))
	if !ok || v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Base holds settings common to every service, per spec §6's environment
// variable table.
type Base struct {
	Host            string
	Port            int
	CORSOrigins     []string
	PublicAPIPrefix string
	RequestTimeout  float64
	MetricsEndpoint string
}

func LoadBase(l *Loader, defaultPort int) Base {
	return Base{
		Host:            l.String("HOST", "0.0.0.0"),
		Port:            l.Int("PORT", defaultPort),
		CORSOrigins:     l.StringList("CORS_ORIGINS", []string{"*"}),
		PublicAPIPrefix: l.String("PUBLIC_API_PREFIX", "/"),
		RequestTimeout:  l.Float("REQUEST_TIMEOUT", 10.0),
		MetricsEndpoint: l.String("METRICS_ENDPOINT", "/metrics"),
	}
}

// Addr returns "host:port" ready for http.Server.Addr.
func (b Base) Addr() string {
	return fmt.Sprintf("%s:%d", b.Host, b.Port)
}

// CredentialedCORS reports whether the configured origin list allows
// credentials: spec §6 says ["*"] implies no credentials.
func (b Base) CredentialedCORS() bool {
	return !(len(b.CORSOrigins) == 1 && b.CORSOrigins[0] == "*")
}

// NormalisePublicPrefix mirrors the original's normalise_public_prefix:
// strip a bare "/" down to "", ensure a single leading slash, never a
// trailing one.
func NormalisePublicPrefix(prefix string) string {
	value := strings.TrimSpace(prefix)
	if value == "" || value == "/" {
		return ""
	}
	if !strings.HasPrefix(value, "/") {
		value = "/" + value
	}
	return strings.TrimRight(value, "/")
}

// ValidateRange enforces min <= max and a positive span, else
// ErrConfigInvalid (spec §4.1 / §7).
func ValidateRange(name string, min, max int) error {
	if min > max {
		return fmt.Errorf("%w: %s_min (%d) must be <= %s_max (%d)", dto.ErrConfigInvalid, name, min, name, max)
	}
	return nil
}
