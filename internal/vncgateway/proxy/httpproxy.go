// SPDX-License-Identifier: LGPL-3.0-or-later

// Package proxy implements the VNC gateway's two forwarding paths: a
// plain HTTP reverse proxy for noVNC's static assets/API calls, and a
// raw-TCP-backed WebSocket bridge for the VNC framebuffer stream itself
// (spec §4.10).
package proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"camofleet/internal/vncgateway/vgconfig"
)

// hopByHopHeaders are stripped in both directions, same set the original
// gateway honours; "host" is handled separately since Go's http.Client
// derives it from the request URL.
var hopByHopHeaders = map[string]struct{}{
	"connection":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailers":            {},
	"transfer-encoding":   {},
	"upgrade":             {},
}

// HTTPProxy forwards non-WebSocket /vnc requests to a runner's
// port-addressed noVNC endpoint.
type HTTPProxy struct {
	cfg    *vgconfig.Settings
	client *http.Client
}

// NewHTTPProxy builds a proxy sharing a single client across requests,
// the way the original shares one httpx.AsyncClient via GatewayState.
func NewHTTPProxy(cfg *vgconfig.Settings, client *http.Client) *HTTPProxy {
	return &HTTPProxy{cfg: cfg, client: client}
}

// BuildUpstreamURL assembles the runner URL a request is forwarded to.
func BuildUpstreamURL(scheme, host string, port int, prefix, pathSuffix, query string) string {
	if pathSuffix == "" {
		pathSuffix = "/"
	}
	combined := JoinPaths(prefix, pathSuffix)
	if !strings.HasPrefix(combined, "/") {
		combined = "/" + combined
	}
	u := fmt.Sprintf("%s://%s:%d%s", scheme, host, port, combined)
	if query != "" {
		u += "?" + query
	}
	return u
}

// JoinPaths concatenates a prefix and suffix, normalising slashes the
// way the original's _join_paths does.
func JoinPaths(prefix, suffix string) string {
	prefix = strings.TrimRight(prefix, "/")
	suffix = strings.TrimLeft(suffix, "/")
	switch {
	case prefix != "" && suffix != "":
		return prefix + "/" + suffix
	case prefix != "":
		return prefix
	case suffix != "":
		return "/" + suffix
	default:
		return "/"
	}
}

// FilterForwardHeaders drops hop-by-hop and Host headers before a
// request is relayed upstream or a response is relayed to the client.
func FilterForwardHeaders(src http.Header) http.Header {
	out := make(http.Header, len(src))
	for key, values := range src {
		lower := strings.ToLower(key)
		if lower == "host" {
			continue
		}
		if _, hop := hopByHopHeaders[lower]; hop {
			continue
		}
		out[key] = values
	}
	return out
}

// Forward issues method/pathSuffix/query against the runner listening on
// port, copying the filtered request headers and body, and returns the
// raw upstream response for the caller to relay (status, headers, body).
func (p *HTTPProxy) Forward(ctx context.Context, method string, port int, pathSuffix, query string, headers http.Header, body io.Reader) (*http.Response, error) {
	url := BuildUpstreamURL(p.cfg.RunnerHTTPScheme, p.cfg.RunnerHost, port, p.cfg.NormalisedPrefix(), pathSuffix, query)
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header = FilterForwardHeaders(headers)
	return p.client.Do(req)
}
