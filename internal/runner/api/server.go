// SPDX-License-Identifier: LGPL-3.0-or-later

// Package api exposes the runner's HTTP surface (spec §6): session
// lifecycle endpoints backed by internal/runner/session.Manager, health,
// metrics, and a supplemented diagnostics endpoint. Routing follows the
// teacher's chi usage in daemon/dashboard/custom_dashboards.go; the
// server shape (NewServer/Start/Shutdown, logging middleware, jsonResponse/
// errorResponse helpers) generalizes daemon/api/server.go.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"camofleet/internal/config"
	"camofleet/internal/dto"
	"camofleet/internal/httpmw"
	"camofleet/internal/logger"
	"camofleet/internal/runner/pool"
	"camofleet/internal/runner/prewarm"
	"camofleet/internal/runner/session"
	"camofleet/internal/runner/subprocess"
)

// Server is the runner's HTTP/WS listener.
type Server struct {
	log        logger.Logger
	mgr        *session.Manager
	pool       *pool.ResourcePool
	prewarm    *prewarm.Pool
	version    string
	httpServer *http.Server
}

// NewServer builds the runner's chi router and wraps it in an http.Server
// bound to base.Addr().
func NewServer(log logger.Logger, mgr *session.Manager, p *pool.ResourcePool, pw *prewarm.Pool, base config.Base, version string) *Server {
	s := &Server{log: log, mgr: mgr, pool: p, prewarm: pw, version: version}

	r := chi.NewRouter()
	r.Use(httpmw.Logging(log))
	r.Use(httpmw.CORS(base))

	r.Get("/health", s.handleHealth)
	r.Get("/diagnostics", s.handleDiagnostics)
	r.Get(base.MetricsEndpoint, promhttp.Handler().ServeHTTP)

	r.Get("/sessions", s.handleList)
	r.Post("/sessions", s.handleCreate)
	r.Get("/sessions/{id}", s.handleGet)
	r.Delete("/sessions/{id}", s.handleDelete)
	r.Post("/sessions/{id}/touch", s.handleTouch)

	s.httpServer = &http.Server{
		Addr:         base.Addr(),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start runs the HTTP server until it is shut down. It always returns a
// non-nil error, matching net/http.Server.ListenAndServe's contract.
func (s *Server) Start() error {
	s.log.Info("starting runner api server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down runner api server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpmw.JSON(w, http.StatusOK, dto.HealthResponse{
		Status:  "ok",
		Version: s.version,
		Checks:  map[string]string{"sessions": "ok"},
	})
}

// diagnosticsResponse is the supplemented GET /diagnostics payload
// (spec-full §13): a point-in-time view of the resources this runner is
// managing, useful for operators without scraping /metrics.
type diagnosticsResponse struct {
	VNCAvailable bool           `json:"vnc_available"`
	Prewarm      prewarmStats   `json:"prewarm"`
	Pool         poolStats      `json:"pool"`
	SessionsTotal int           `json:"sessions_total"`
}

type prewarmStats struct {
	HeadlessReady int `json:"headless_ready"`
	VncReady      int `json:"vnc_ready"`
}

type poolStats struct {
	DisplaysFree int `json:"displays_free"`
	RFBPortsFree int `json:"rfb_ports_free"`
	WSPortsFree  int `json:"ws_ports_free"`
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	pstats := s.pool.Stats()
	wstats := s.prewarm.Stats()
	httpmw.JSON(w, http.StatusOK, diagnosticsResponse{
		VNCAvailable: subprocess.VncToolingAvailable(),
		Prewarm:      prewarmStats{HeadlessReady: wstats.HeadlessReady, VncReady: wstats.VncReady},
		Pool:         poolStats{DisplaysFree: pstats.DisplaysFree, RFBPortsFree: pstats.RFBPortsFree, WSPortsFree: pstats.WSPortsFree},
		SessionsTotal: s.mgr.Len(),
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	httpmw.JSON(w, http.StatusOK, s.mgr.List())
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpmw.Error(s.log, w, http.StatusBadRequest, "invalid request body")
		return
	}
	detail, err := s.mgr.Create(r.Context(), req)
	if err != nil {
		httpmw.Error(s.log, w, httpmw.StatusForError(err), err.Error())
		return
	}
	httpmw.JSON(w, http.StatusCreated, detail)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	detail, ok := s.mgr.Get(id)
	if !ok {
		httpmw.Error(s.log, w, http.StatusNotFound, "session not found")
		return
	}
	httpmw.JSON(w, http.StatusOK, detail)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	detail, ok := s.mgr.Delete(id)
	if !ok {
		httpmw.Error(s.log, w, http.StatusNotFound, "session not found")
		return
	}
	httpmw.JSON(w, http.StatusOK, dto.SessionDeleteResponse{ID: detail.ID, Status: detail.Status})
}

func (s *Server) handleTouch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	detail, ok := s.mgr.Touch(id)
	if !ok {
		httpmw.Error(s.log, w, http.StatusNotFound, "session not found")
		return
	}
	httpmw.JSON(w, http.StatusOK, detail)
}
