// SPDX-License-Identifier: LGPL-3.0-or-later

package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camofleet/internal/config"
	"camofleet/internal/controlplane/ccconfig"
	"camofleet/internal/controlplane/dispatcher"
	"camofleet/internal/dto"
	"camofleet/internal/httpx"
	"camofleet/internal/logger"
)

func stubWorker(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(dto.HealthResponse{Status: "ok"})
	})
	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(dto.WorkerSessionDetail{ID: "s1", Status: dto.StatusReady, Browser: "camoufox"})
			return
		}
		json.NewEncoder(w).Encode([]dto.WorkerSessionDetail{{ID: "s1", Status: dto.StatusReady}})
	})
	mux.HandleFunc("/sessions/s1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(dto.WorkerSessionDetail{ID: "s1", Status: dto.StatusReady})
	})
	srv := httptest.NewServer(mux)
	return srv
}

var wsUpgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func echoUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions/s1/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if conn.WriteMessage(mt, append([]byte("echo:"), data...)) != nil {
				return
			}
		}
	})
	return httptest.NewServer(mux)
}

func newTestServer(t *testing.T, workerURL string) *httptest.Server {
	t.Helper()
	cfg := &ccconfig.Settings{
		Base:                    config.Base{PublicAPIPrefix: "/", MetricsEndpoint: "/metrics"},
		Workers:                 []ccconfig.WorkerConfig{{Name: "a", URL: workerURL}},
		ListSessionsConcurrency: 4,
		VncRewriteMode:          ccconfig.VncRewritePlaceholder,
	}
	disp := dispatcher.New(logger.New("error"), httpx.NewPool(), cfg, 2*time.Second)
	base := config.Base{Host: "127.0.0.1", CORSOrigins: []string{"*"}, MetricsEndpoint: "/metrics", PublicAPIPrefix: "/"}
	s := NewServer(logger.New("error"), disp, base, "test")
	return httptest.NewServer(s.httpServer.Handler)
}

func TestHealthAggregatesWorkerStatus(t *testing.T) {
	worker := stubWorker(t)
	defer worker.Close()
	srv := newTestServer(t, worker.URL)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body dto.ControlHealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	require.Len(t, body.Workers, 1)
}

func TestCreateAndListRoundTrip(t *testing.T) {
	worker := stubWorker(t)
	defer worker.Close()
	srv := newTestServer(t, worker.URL)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/sessions", "application/json", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var descriptor dto.SessionDescriptor
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&descriptor))
	assert.Equal(t, "a", descriptor.Worker)
	assert.Equal(t, "/sessions/a/s1/ws", descriptor.WSEndpoint)

	listResp, err := http.Get(srv.URL + "/sessions")
	require.NoError(t, err)
	defer listResp.Body.Close()
	var items []dto.SessionDescriptor
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&items))
	require.Len(t, items, 1)
}

func TestGetScopedToWorkerName(t *testing.T) {
	worker := stubWorker(t)
	defer worker.Close()
	srv := newTestServer(t, worker.URL)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/sessions/a/s1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	missing, err := http.Get(srv.URL + "/sessions/unknown/s1")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestWebSocketProxiesToWorker(t *testing.T) {
	upstream := echoUpstream(t)
	defer upstream.Close()
	srv := newTestServer(t, upstream.URL)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/a/s1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hi")))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "echo:hi", string(data))
}
