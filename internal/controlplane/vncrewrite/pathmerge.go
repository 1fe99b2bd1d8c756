// SPDX-License-Identifier: LGPL-3.0-or-later

package vncrewrite

import (
	"net/url"
	"strings"
)

// RewriteWithPathMerge rewrites fallback into an externally reachable URL
// using a `{id}`-only override template, merging the template's base path
// with fallback's path instead of substituting {host}/{port} (spec §4.8's
// "alternate URL-builder variant"). It always ensures a target_port query
// parameter is present, preserving one already on fallback.
func RewriteWithPathMerge(fallback, template, sessionID string) string {
	if template == "" {
		return fallback
	}

	formatted := strings.ReplaceAll(template, "{id}", sessionID)
	overrideParts, err := url.Parse(formatted)
	if err != nil {
		return fallback
	}

	var fallbackParts *url.URL
	if fallback != "" {
		fallbackParts, err = url.Parse(fallback)
		if err != nil {
			fallbackParts = nil
		}
	}

	scheme := overrideParts.Scheme
	if scheme == "" && fallbackParts != nil {
		scheme = fallbackParts.Scheme
	}
	host := overrideParts.Host
	if host == "" && fallbackParts != nil {
		host = fallbackParts.Host
	}

	fallbackPath := ""
	if fallbackParts != nil {
		fallbackPath = fallbackParts.Path
	}
	path := mergeVNCPaths(overrideParts.Path, fallbackPath)
	if path == "" {
		path = "/"
	}

	query := mergeQuery(overrideParts, fallbackParts)
	ensureTargetPort(query, fallback)

	result := &url.URL{Scheme: scheme, Host: host, Path: path, RawQuery: query.Encode()}
	return result.String()
}

func mergeQuery(override, fallback *url.URL) url.Values {
	merged := url.Values{}
	if override != nil {
		for k, vs := range override.Query() {
			merged[k] = append([]string(nil), vs...)
		}
	}
	if fallback != nil {
		for k, vs := range fallback.Query() {
			if _, ok := merged[k]; !ok {
				merged[k] = append([]string(nil), vs...)
			}
		}
	}
	return merged
}

func ensureTargetPort(q url.Values, fallback string) {
	if q.Get("target_port") != "" {
		return
	}
	if port := SessionPort(fallback); port != "" {
		q.Set("target_port", port)
	}
}

// mergeVNCPaths merges an override (template) base path with a fallback
// path, avoiding double-prefixing when fallback already carries the
// override's trailing segments.
func mergeVNCPaths(overridePath, fallbackPath string) string {
	base := strings.TrimRight(overridePath, "/")
	fallback := fallbackPath

	if fallback == "" || fallback == "/" {
		if base != "" {
			return base
		}
		if fallback != "" {
			return fallback
		}
		return "/"
	}

	baseSegments := splitSegments(base)
	fallbackSegments := splitSegments(fallback)
	leadingSlash := strings.HasPrefix(overridePath, "/") || strings.HasPrefix(fallback, "/")

	if len(baseSegments) == 0 {
		if len(fallbackSegments) == 0 {
			if leadingSlash {
				return "/"
			}
			return ""
		}
		joined := strings.Join(fallbackSegments, "/")
		if leadingSlash {
			return "/" + joined
		}
		return joined
	}

	if len(fallbackSegments) >= len(baseSegments) {
		tail := fallbackSegments[len(fallbackSegments)-len(baseSegments):]
		if segmentsEqual(tail, baseSegments) {
			joined := strings.Join(baseSegments, "/")
			if leadingSlash {
				return "/" + joined
			}
			return joined
		}
	}

	common := 0
	limit := len(baseSegments)
	if len(fallbackSegments) < limit {
		limit = len(fallbackSegments)
	}
	for common < limit && baseSegments[common] == fallbackSegments[common] {
		common++
	}

	merged := append(append([]string(nil), baseSegments...), fallbackSegments[common:]...)
	if len(merged) == 0 {
		return "/"
	}
	joined := strings.Join(merged, "/")
	if leadingSlash {
		return "/" + joined
	}
	return joined
}

func splitSegments(path string) []string {
	var out []string
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

func segmentsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
