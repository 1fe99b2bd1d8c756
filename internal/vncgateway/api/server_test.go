// SPDX-License-Identifier: LGPL-3.0-or-later

package api

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"camofleet/internal/config"
	"camofleet/internal/logger"
	"camofleet/internal/vncgateway/proxy"
	"camofleet/internal/vncgateway/vgconfig"
)

func splitHostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("url.Parse() error = %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("strconv.Atoi() error = %v", err)
	}
	return u.Hostname(), port
}

func newTestServer(t *testing.T, runnerHost string, runnerPort int) *httptest.Server {
	t.Helper()
	cfg := &vgconfig.Settings{
		Base:                  config.Base{MetricsEndpoint: "/metrics"},
		RunnerHost:            runnerHost,
		RunnerHTTPScheme:      "http",
		MinPort:               1,
		MaxPort:               65535,
		TCPConnectTimeoutMS:   1000,
		WSPingIntervalMS:      60000,
		TCPIdleTimeoutMS:      60000,
		MaxConcurrentSessions: 4,
	}
	httpProxy := proxy.NewHTTPProxy(cfg, http.DefaultClient)
	capacity := proxy.NewCapacity(cfg.MaxConcurrentSessions)
	wsProxy := proxy.NewWSProxy(cfg, logger.New("error"), capacity)
	s := NewServer(logger.New("error"), cfg, httpProxy, wsProxy, capacity)
	_ = runnerPort
	return httptest.NewServer(s.httpServer.Handler)
}

func TestHandleHTTPRejectsMissingTargetPort(t *testing.T) {
	srv := newTestServer(t, "127.0.0.1", 0)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/vnc/")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleHTTPProxiesAndSetsStickyCookie(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("vnc-ui"))
	}))
	defer upstream.Close()
	host, port := splitHostPort(t, upstream.URL)

	srv := newTestServer(t, host, port)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/vnc/?target_port=" + strconv.Itoa(port))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var found bool
	for _, c := range resp.Cookies() {
		if c.Name == "vnc-target-port" && c.Value == strconv.Itoa(port) {
			found = true
		}
	}
	if !found {
		t.Error("sticky target-port cookie not set")
	}
}

func TestHandleWebSocketBridgesToRunnerPort(t *testing.T) {
	ln, err := newEchoListener(t)
	if err != nil {
		t.Fatalf("newEchoListener() error = %v", err)
	}
	defer ln.stop()

	srv := newTestServer(t, "127.0.0.1", ln.port)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/vnc/websockify?target_port=" + strconv.Itoa(ln.port)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte("probe")); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if string(data) != "probe" {
		t.Errorf("got %q, want probe", data)
	}
}
