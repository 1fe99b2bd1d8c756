// SPDX-License-Identifier: LGPL-3.0-or-later

// Package api exposes the worker's HTTP/WS surface (spec §6, §4.6):
// session lifecycle endpoints backed by internal/worker/forwarder, a
// WebSocket bridge to the runner-local automation socket, health, and
// metrics. Routing and server shape follow internal/runner/api, which
// in turn generalizes the teacher's daemon/api/server.go and
// daemon/dashboard/custom_dashboards.go.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"camofleet/internal/config"
	"camofleet/internal/dto"
	"camofleet/internal/httpmw"
	"camofleet/internal/logger"
	"camofleet/internal/worker/forwarder"
	"camofleet/internal/wsbridge"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is the worker's HTTP/WS listener.
type Server struct {
	log        logger.Logger
	fwd        *forwarder.Forwarder
	version    string
	httpServer *http.Server
}

// NewServer builds the worker's chi router.
func NewServer(log logger.Logger, fwd *forwarder.Forwarder, base config.Base, version string) *Server {
	s := &Server{log: log, fwd: fwd, version: version}

	r := chi.NewRouter()
	r.Use(httpmw.Logging(log))
	r.Use(httpmw.CORS(base))

	r.Get("/health", s.handleHealth)
	r.Get(base.MetricsEndpoint, promhttp.Handler().ServeHTTP)

	r.Get("/sessions", s.handleList)
	r.Post("/sessions", s.handleCreate)
	r.Get("/sessions/{id}", s.handleGet)
	r.Delete("/sessions/{id}", s.handleDelete)
	r.Post("/sessions/{id}/touch", s.handleTouch)
	r.Get("/sessions/{id}/ws", s.handleWebSocket)

	s.httpServer = &http.Server{
		Addr:         base.Addr(),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	s.log.Info("starting worker api server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down worker api server")
	return s.httpServer.Shutdown(ctx)
}

// handleHealth re-exposes the runner's own health check, downgrading to
// "degraded" if the runner cannot be reached (spec's forwarder contract).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.fwd.Health(r.Context())
	if err != nil {
		s.log.Warn("runner health check failed", "error", err)
		httpmw.JSON(w, http.StatusOK, dto.HealthResponse{
			Status:  "degraded",
			Version: s.version,
			Checks:  map[string]string{"runner": "unreachable"},
		})
		return
	}
	health.Version = s.version
	httpmw.JSON(w, http.StatusOK, *health)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := s.fwd.List(r.Context())
	if err != nil {
		httpmw.Error(s.log, w, httpmw.StatusForError(err), err.Error())
		return
	}
	httpmw.JSON(w, http.StatusOK, items)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpmw.Error(s.log, w, http.StatusBadRequest, "invalid request body")
		return
	}
	detail, err := s.fwd.Create(r.Context(), req)
	if err != nil {
		httpmw.Error(s.log, w, statusForWorkerError(err), err.Error())
		return
	}
	httpmw.JSON(w, http.StatusCreated, detail)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	detail, err := s.fwd.Get(r.Context(), id)
	if err != nil {
		httpmw.Error(s.log, w, httpmw.StatusForError(err), "session not found")
		return
	}
	httpmw.JSON(w, http.StatusOK, detail)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	detail, err := s.fwd.Delete(r.Context(), id)
	if err != nil {
		httpmw.Error(s.log, w, httpmw.StatusForError(err), "session not found")
		return
	}
	httpmw.JSON(w, http.StatusOK, detail)
}

func (s *Server) handleTouch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	detail, err := s.fwd.Touch(r.Context(), id)
	if err != nil {
		httpmw.Error(s.log, w, httpmw.StatusForError(err), "session not found")
		return
	}
	httpmw.JSON(w, http.StatusOK, detail)
}

// statusForWorkerError overrides the default VncUnavailable mapping:
// spec §7 assigns it 503 at the runner but 400 at the worker.
func statusForWorkerError(err error) int {
	if errors.Is(err, dto.ErrVNCUnavailable) {
		return http.StatusBadRequest
	}
	return httpmw.StatusForError(err)
}

// handleWebSocket accepts the client connection, resolves the upstream
// automation socket via the forwarder, and bridges the two (spec §4.6's
// "accept, fetch, bridge" sequence). A missing session or dial failure
// closes with policy-violation 1008.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	client, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	upstreamURL, err := s.fwd.UpstreamWSEndpoint(r.Context(), id)
	if err != nil || upstreamURL == "" {
		s.log.Warn("websocket bridge: session lookup failed", "session_id", id, "error", err)
		closeWithPolicyViolation(client)
		return
	}

	upstream, _, err := websocket.DefaultDialer.DialContext(r.Context(), upstreamURL, nil)
	if err != nil {
		s.log.Warn("websocket bridge: upstream dial failed", "session_id", id, "error", err)
		closeWithPolicyViolation(client)
		return
	}

	wsbridge.Run(s.log, client, upstream)
}

func closeWithPolicyViolation(conn *websocket.Conn) {
	deadline := time.Now().Add(5 * time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, ""), deadline)
	conn.Close()
}
