// SPDX-License-Identifier: LGPL-3.0-or-later

// Package urlutil normalises session start URLs and builds runner-side
// VNC gateway URLs (spec §3, §4.2).
package urlutil

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var passthroughSchemes = map[string]bool{
	"about":      true,
	"data":       true,
	"file":       true,
	"javascript": true,
	"mailto":     true,
}

// hostPortLike matches `host[:port][/path][?query][#frag]` where host
// contains a dot or a port is present, per spec §3's normalisation rule.
var hostPortLike = regexp.MustCompile(`^[a-zA-Z0-9.-]+(\.[a-zA-Z0-9-]+|:[0-9]+)([/?#].*)?$`)

// NormaliseStartURL applies spec §3's start-URL heuristic: URLs already
// carrying a recognised scheme or "://" pass through unchanged; bare
// "//host/..." or "host[:port][/path]"-shaped strings are promoted to
// https://; anything else (a relative path) is left untouched for the
// browser to resolve.
func NormaliseStartURL(raw string) string {
	if raw == "" {
		return raw
	}

	if strings.Contains(raw, "://") {
		return raw
	}
	if idx := strings.Index(raw, ":"); idx > 0 {
		scheme := strings.ToLower(raw[:idx])
		if passthroughSchemes[scheme] {
			return raw
		}
	}

	if strings.HasPrefix(raw, "//") {
		return "https:" + raw
	}

	if hostPortLike.MatchString(raw) {
		return "https://" + raw
	}

	return raw
}

// GatewayURLKind selects whether BuildGatewayURL composes an http(s) or
// ws(s) endpoint.
type GatewayURLKind int

const (
	KindHTTP GatewayURLKind = iota
	KindWS
)

// BuildGatewayURL composes a public VNC gateway URL from a configured
// base (e.g. "https://vnc.example" or "wss://vnc.example") and the
// session's allocated WS port, mirroring the runner's
// `_compose_gateway_url` (spec §4.2's WS↔TCP adapter exposure). Returns
// "" if base is empty or unparsable.
func BuildGatewayURL(base string, wsPort int, kind GatewayURLKind) string {
	if base == "" {
		return ""
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return ""
	}

	scheme := parsed.Scheme
	if scheme == "" {
		if kind == KindHTTP {
			scheme = "https"
		} else {
			scheme = "wss"
		}
	}

	if parsed.Host == "" {
		return ""
	}

	basePath := strings.TrimRight(parsed.Path, "/")
	var suffix, query string
	if kind == KindHTTP {
		suffix = fmt.Sprintf("/vnc/%d", wsPort)
		query = parsed.RawQuery
	} else {
		suffix = "/websockify"
		token := fmt.Sprintf("token=%d", wsPort)
		if parsed.RawQuery != "" {
			query = parsed.RawQuery + "&" + token
		} else {
			query = token
		}
	}

	combined := basePath + suffix
	if !strings.HasPrefix(combined, "/") {
		combined = "/" + combined
	}

	result := &url.URL{Scheme: scheme, Host: parsed.Host, Path: combined, RawQuery: query}
	return result.String()
}
