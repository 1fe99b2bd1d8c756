// SPDX-License-Identifier: LGPL-3.0-or-later

// Package api exposes the VNC gateway's HTTP/WS surface (spec §4.10,
// §6): a catch-all HTTP reverse proxy under /vnc, a raw-TCP-backed
// WebSocket proxy at /vnc/websockify, health, and metrics. Routing and
// server shape follow internal/runner/api and internal/worker/api.
package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"camofleet/internal/config"
	"camofleet/internal/dto"
	"camofleet/internal/httpmw"
	"camofleet/internal/logger"
	"camofleet/internal/vncgateway/proxy"
	"camofleet/internal/vncgateway/targetport"
	"camofleet/internal/vncgateway/vgconfig"
)

// Server is the VNC gateway's HTTP/WS listener.
type Server struct {
	log        logger.Logger
	cfg        *vgconfig.Settings
	httpProxy  *proxy.HTTPProxy
	wsProxy    *proxy.WSProxy
	capacity   *proxy.Capacity
	httpServer *http.Server
}

// NewServer builds the VNC gateway's chi router.
func NewServer(log logger.Logger, cfg *vgconfig.Settings, httpProxy *proxy.HTTPProxy, wsProxy *proxy.WSProxy, capacity *proxy.Capacity) *Server {
	s := &Server{log: log, cfg: cfg, httpProxy: httpProxy, wsProxy: wsProxy, capacity: capacity}

	r := chi.NewRouter()
	r.Use(httpmw.Logging(log))
	r.Use(httpmw.CORS(config.Base{CORSOrigins: []string{"*"}}))

	r.Get("/health", s.handleHealth)
	r.Get(cfg.Base.MetricsEndpoint, promhttp.Handler().ServeHTTP)

	r.Get("/vnc/websockify", s.handleWebSocket)
	r.Handle("/vnc", http.HandlerFunc(s.handleHTTP))
	r.Handle("/vnc/*", http.HandlerFunc(s.handleHTTP))

	s.httpServer = &http.Server{
		Addr:         cfg.Base.Addr(),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	s.log.Info("starting vnc gateway api server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight sessions for cfg.ShutdownGraceMS before
// stopping the listener, so already-bridged sessions get a chance to
// finish instead of being cut off mid-frame.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down vnc gateway api server")
	s.capacity.Drain()
	grace := time.Duration(s.cfg.ShutdownGraceMS) * time.Millisecond
	select {
	case <-ctx.Done():
	case <-time.After(grace):
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpmw.JSON(w, http.StatusOK, dto.HealthResponse{Status: "ok"})
}

// resolvePort runs the shared target_port resolution/validation
// sequence for both the HTTP and WS proxy entry points.
func (s *Server) resolvePort(r *http.Request) (int, targetport.Source, error) {
	cookies := targetport.ParseCookieHeader(r.Header.Get("Cookie"))
	raw, source := targetport.Select(r.URL.Query().Get("target_port"), r.Header.Get("Referer"), cookies)
	port, err := targetport.Validate(raw, s.cfg.MinPort, s.cfg.MaxPort)
	return port, source, err
}

// handleHTTP proxies GET/HEAD/OPTIONS requests under /vnc to the
// resolved runner port, setting a sticky cookie when the port came from
// the query string (spec §4.10).
func (s *Server) handleHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	port, source, err := s.resolvePort(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	pathSuffix := strings.TrimPrefix(r.URL.Path, "/vnc")
	if pathSuffix == "" {
		pathSuffix = "/"
	}

	query := r.URL.Query()
	query.Del("target_port")

	resp, err := s.httpProxy.Forward(r.Context(), r.Method, port, pathSuffix, query.Encode(), r.Header, r.Body)
	if err != nil {
		s.log.Warn("vnc gateway: upstream http request failed", "port", port, "error", err)
		http.Error(w, "upstream unreachable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for key, values := range proxy.FilterForwardHeaders(resp.Header) {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	if source == targetport.SourceQuery {
		http.SetCookie(w, &http.Cookie{
			Name:     targetport.CookieName,
			Value:    strconv.Itoa(port),
			Path:     "/vnc",
			SameSite: http.SameSiteLaxMode,
		})
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

// handleWebSocket resolves the target port, upgrades the client
// choosing its first offered subprotocol, and hands the connection to
// the raw-TCP WebSocket proxy. A missing or invalid port closes the
// upgraded connection with policy-violation 1008.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	port, _, portErr := s.resolvePort(r)

	conn, err := clientUpgrader(r).Upgrade(w, r, nil)
	if err != nil {
		return
	}
	if portErr != nil {
		reason := "invalid_target_port"
		if raw, _ := targetport.Select(r.URL.Query().Get("target_port"), r.Header.Get("Referer"), targetport.ParseCookieHeader(r.Header.Get("Cookie"))); raw == "" {
			reason = "missing_id"
		}
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(5*time.Second))
		conn.Close()
		return
	}
	s.wsProxy.Serve(conn, port)
}

// clientUpgrader builds an upgrader willing to accept whichever
// subprotocols the client itself offered, since the gateway has no
// opinion on the VNC client's subprotocol choice.
func clientUpgrader(r *http.Request) websocket.Upgrader {
	var subprotocols []string
	if header := r.Header.Get("Sec-WebSocket-Protocol"); header != "" {
		for _, p := range strings.Split(header, ",") {
			if p = strings.TrimSpace(p); p != "" {
				subprotocols = append(subprotocols, p)
			}
		}
	}
	return websocket.Upgrader{
		CheckOrigin:  func(r *http.Request) bool { return true },
		Subprotocols: subprotocols,
	}
}
