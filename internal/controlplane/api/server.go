// SPDX-License-Identifier: LGPL-3.0-or-later

// Package api exposes the control-plane's public HTTP/WS surface (spec
// §6): the aggregate health and worker-roster views, and the
// worker-scoped session lifecycle and WebSocket proxy routes, all backed
// by internal/controlplane/dispatcher. Routing and server shape follow
// internal/runner/api and internal/worker/api.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"camofleet/internal/config"
	"camofleet/internal/controlplane/dispatcher"
	"camofleet/internal/dto"
	"camofleet/internal/httpmw"
	"camofleet/internal/logger"
	"camofleet/internal/metrics"
	"camofleet/internal/wsbridge"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is the control-plane's HTTP/WS listener.
type Server struct {
	log        logger.Logger
	disp       *dispatcher.Dispatcher
	base       config.Base
	version    string
	httpServer *http.Server
}

// NewServer builds the control-plane's chi router.
func NewServer(log logger.Logger, disp *dispatcher.Dispatcher, base config.Base, version string) *Server {
	s := &Server{log: log, disp: disp, base: base, version: version}

	r := chi.NewRouter()
	r.Use(httpmw.Logging(log))
	r.Use(httpmw.CORS(base))

	r.Get("/health", s.handleHealth)
	r.Get("/workers", s.handleWorkers)
	r.Get(base.MetricsEndpoint, promhttp.Handler().ServeHTTP)

	r.Get("/sessions", s.handleList)
	r.Post("/sessions", s.handleCreate)
	r.Get("/sessions/{worker}/{id}", s.handleGet)
	r.Delete("/sessions/{worker}/{id}", s.handleDelete)
	r.Post("/sessions/{worker}/{id}/touch", s.handleTouch)
	r.Get("/sessions/{worker}/{id}/ws", s.handleWebSocket)

	s.httpServer = &http.Server{
		Addr:         base.Addr(),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	s.log.Info("starting control-plane api server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down control-plane api server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.disp.Health(r.Context())
	httpmw.JSON(w, http.StatusOK, health)
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	httpmw.JSON(w, http.StatusOK, s.disp.GatherStatus(r.Context()))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	items := s.disp.List(r.Context(), s.base.PublicAPIPrefix)
	httpmw.JSON(w, http.StatusOK, items)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpmw.Error(s.log, w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		httpmw.Error(s.log, w, httpmw.StatusForError(err), err.Error())
		return
	}
	descriptor, err := s.disp.Create(r.Context(), req, s.base.PublicAPIPrefix)
	if err != nil {
		httpmw.Error(s.log, w, httpmw.StatusForError(err), err.Error())
		return
	}
	httpmw.JSON(w, http.StatusCreated, descriptor)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	worker, id := chi.URLParam(r, "worker"), chi.URLParam(r, "id")
	descriptor, err := s.disp.Get(r.Context(), worker, id, s.base.PublicAPIPrefix)
	if err != nil {
		httpmw.Error(s.log, w, httpmw.StatusForError(err), "session not found")
		return
	}
	httpmw.JSON(w, http.StatusOK, descriptor)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	worker, id := chi.URLParam(r, "worker"), chi.URLParam(r, "id")
	resp, err := s.disp.Delete(r.Context(), worker, id)
	if err != nil {
		httpmw.Error(s.log, w, httpmw.StatusForError(err), "session not found")
		return
	}
	httpmw.JSON(w, http.StatusOK, resp)
}

func (s *Server) handleTouch(w http.ResponseWriter, r *http.Request) {
	worker, id := chi.URLParam(r, "worker"), chi.URLParam(r, "id")
	descriptor, err := s.disp.Touch(r.Context(), worker, id, s.base.PublicAPIPrefix)
	if err != nil {
		httpmw.Error(s.log, w, httpmw.StatusForError(err), "session not found")
		return
	}
	httpmw.JSON(w, http.StatusOK, descriptor)
}

// handleWebSocket accepts the client, picks the named worker, dials its
// local session socket, and bridges the two (spec §4.7/§4.9). Metrics
// mirror the original's per-worker active_websockets gauge.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	workerName, id := chi.URLParam(r, "worker"), chi.URLParam(r, "id")

	worker, upstreamURL, err := s.disp.WorkerWSEndpoint(workerName, id)
	if err != nil {
		http.Error(w, "worker not found", httpmw.StatusForError(err))
		return
	}

	client, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	upstream, _, err := websocket.DefaultDialer.DialContext(r.Context(), upstreamURL, nil)
	if err != nil {
		s.log.Warn("websocket proxy: upstream dial failed", "worker", worker.Name, "session_id", id, "error", err)
		deadline := time.Now().Add(5 * time.Second)
		_ = client.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, ""), deadline)
		client.Close()
		return
	}

	metrics.ActiveWebsockets.WithLabelValues(worker.Name).Inc()
	defer metrics.ActiveWebsockets.WithLabelValues(worker.Name).Dec()

	wsbridge.Run(s.log, client, upstream)
}
