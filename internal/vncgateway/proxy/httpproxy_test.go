// SPDX-License-Identifier: LGPL-3.0-or-later

package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"camofleet/internal/vncgateway/vgconfig"
)

func splitHostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("url.Parse(%q) error = %v", rawURL, err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("strconv.Atoi(%q) error = %v", u.Port(), err)
	}
	return u.Hostname(), port
}

func TestJoinPaths(t *testing.T) {
	cases := []struct{ prefix, suffix, want string }{
		{"", "/vnc", "/vnc"},
		{"/api", "/vnc", "/api/vnc"},
		{"/api/", "vnc", "/api/vnc"},
		{"", "", "/"},
		{"/api", "", "/api"},
	}
	for _, c := range cases {
		if got := JoinPaths(c.prefix, c.suffix); got != c.want {
			t.Errorf("JoinPaths(%q, %q) = %q, want %q", c.prefix, c.suffix, got, c.want)
		}
	}
}

func TestBuildUpstreamURL(t *testing.T) {
	got := BuildUpstreamURL("http", "runner-vnc", 6901, "/api", "/vnc", "a=1")
	want := "http://runner-vnc:6901/api/vnc?a=1"
	if got != want {
		t.Errorf("BuildUpstreamURL() = %q, want %q", got, want)
	}
}

func TestFilterForwardHeadersDropsHopByHopAndHost(t *testing.T) {
	src := http.Header{
		"Connection":   []string{"keep-alive"},
		"Host":         []string{"example.com"},
		"Cookie":       []string{"a=b"},
		"Content-Type": []string{"text/html"},
	}
	got := FilterForwardHeaders(src)
	if got.Get("Connection") != "" || got.Get("Host") != "" {
		t.Error("hop-by-hop/host header leaked through")
	}
	if got.Get("Cookie") != "a=b" || got.Get("Content-Type") != "text/html" {
		t.Error("ordinary headers should pass through unchanged")
	}
}

func TestForwardRelaysToUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			t.Errorf("unexpected upstream path %q", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	host, port := splitHostPort(t, upstream.URL)
	cfg := &vgconfig.Settings{RunnerHost: host, RunnerHTTPScheme: "http"}
	p := NewHTTPProxy(cfg, upstream.Client())

	resp, err := p.Forward(context.Background(), http.MethodGet, port, "/", "", http.Header{}, nil)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" {
		t.Errorf("body = %q, want ok", body)
	}
}
