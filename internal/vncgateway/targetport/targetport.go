// SPDX-License-Identifier: LGPL-3.0-or-later

// Package targetport resolves and validates the runner port a VNC
// gateway request should be forwarded to (spec §4.10).
package targetport

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"camofleet/internal/dto"
)

// CookieName is the sticky cookie set once a request resolves target_port
// from its query string, so later requests on the same tab need not repeat it.
const CookieName = "vnc-target-port"

// Source names where a resolved port value came from.
type Source string

const (
	SourceQuery   Source = "query"
	SourceReferer Source = "referer"
	SourceCookie  Source = "cookie"
)

// Select picks the first available target_port candidate, in priority
// order: the request's own query string, the Referer header's query
// string, then the sticky cookie. Returns "" if none is present.
func Select(queryValue, referer string, cookies map[string]string) (string, Source) {
	if queryValue != "" {
		return queryValue, SourceQuery
	}
	if port := fromReferer(referer); port != "" {
		return port, SourceReferer
	}
	if cookies != nil {
		if port := cookies[CookieName]; port != "" {
			return port, SourceCookie
		}
	}
	return "", ""
}

func fromReferer(referer string) string {
	if referer == "" {
		return ""
	}
	parsed, err := url.Parse(referer)
	if err != nil {
		return ""
	}
	return parsed.Query().Get("target_port")
}

// ParseCookieHeader parses a raw Cookie request header into a name->value
// map, tolerating malformed input the way the original's SimpleCookie
// does (best-effort, never an error).
func ParseCookieHeader(header string) map[string]string {
	out := map[string]string{}
	if header == "" {
		return out
	}
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		out[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return out
}

// Validate parses raw and checks it falls within [min, max], mirroring
// GatewaySettings.validate_port.
func Validate(raw string, min, max int) (int, error) {
	if raw == "" {
		return 0, fmt.Errorf("%w: target_port query parameter is required", dto.ErrConfigInvalid)
	}
	port, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: target_port must be an integer", dto.ErrConfigInvalid)
	}
	if port < min || port > max {
		return 0, fmt.Errorf("%w: target_port outside of the allowed range", dto.ErrConfigInvalid)
	}
	return port, nil
}
