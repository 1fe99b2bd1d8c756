// SPDX-License-Identifier: LGPL-3.0-or-later

// Package vncrewrite rewrites runner-local VNC URLs into externally
// reachable ones using per-worker templates (spec §4.8). Two variants
// are implemented: RewriteWithPlaceholders ({host}/{port}/{id}
// substitution) and RewriteWithPathMerge (base-path-plus-suffix merging),
// selectable by CONTROL_VNC_REWRITE_MODE.
package vncrewrite

import (
	"net/url"
	"regexp"
	"strings"
)

var vncPathDigitsRe = regexp.MustCompile(`/vnc/(\d+)`)

func defaultPort(scheme string) string {
	switch strings.ToLower(scheme) {
	case "https", "wss":
		return "443"
	default:
		return "80"
	}
}

// identifierFrom extracts the numeric session identifier per spec §4.8
// step 2: first of ?token=, ?id=, else the digit run in a /vnc/<digits>
// path segment.
func identifierFrom(u *url.URL) string {
	q := u.Query()
	if v := q.Get("token"); v != "" {
		return v
	}
	if v := q.Get("id"); v != "" {
		return v
	}
	if m := vncPathDigitsRe.FindStringSubmatch(u.Path); m != nil {
		return m[1]
	}
	return ""
}

// RewriteWithPlaceholders substitutes {host}, {port}, {id} into template
// using values derived from original, per spec §4.8 steps 1-7. Any
// precondition failure (empty input, missing placeholder value, unusable
// result) returns original unchanged.
func RewriteWithPlaceholders(original, template string) string {
	if original == "" || template == "" {
		return original
	}

	u, err := url.Parse(original)
	if err != nil {
		return original
	}

	port := u.Port()
	if port == "" {
		port = defaultPort(u.Scheme)
	}
	host := u.Hostname()
	id := identifierFrom(u)

	if strings.Contains(template, "{port}") && port == "" {
		return original
	}
	if strings.Contains(template, "{host}") && host == "" {
		return original
	}
	if strings.Contains(template, "{id}") && id == "" {
		return original
	}

	substituted := template
	substituted = strings.ReplaceAll(substituted, "{host}", host)
	substituted = strings.ReplaceAll(substituted, "{port}", port)
	substituted = strings.ReplaceAll(substituted, "{id}", id)

	t, err := url.Parse(substituted)
	if err != nil {
		return original
	}
	if t.Scheme == "" || t.Hostname() == "" {
		return original
	}

	result := &url.URL{Scheme: t.Scheme}

	if t.User != nil {
		result.User = t.User
	} else {
		result.User = u.User
	}

	if t.Port() != "" {
		result.Host = t.Hostname() + ":" + t.Port()
	} else {
		result.Host = t.Hostname()
	}

	if t.Path != "" {
		result.Path = t.Path
	} else {
		result.Path = u.Path
	}

	if t.RawQuery != "" {
		result.RawQuery = t.RawQuery
	} else {
		result.RawQuery = u.RawQuery
	}

	if t.Fragment != "" {
		result.Fragment = t.Fragment
	} else {
		result.Fragment = u.Fragment
	}

	return result.String()
}

// SessionPort returns original's explicit or scheme-default port, used by
// callers that need the effective port outside the substitution path
// (e.g. RewriteWithPathMerge's target_port query parameter).
func SessionPort(original string) string {
	u, err := url.Parse(original)
	if err != nil {
		return ""
	}
	if p := u.Port(); p != "" {
		return p
	}
	return defaultPort(u.Scheme)
}
