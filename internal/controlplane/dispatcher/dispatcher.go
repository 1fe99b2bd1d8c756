// SPDX-License-Identifier: LGPL-3.0-or-later

// Package dispatcher implements ControlPlane.Dispatcher (spec §4.7):
// worker selection (preferred name or round-robin, optionally filtered
// to VNC-capable workers), concurrent health/list fan-out bounded by
// list_sessions_concurrency, and the public re-projection of every
// session descriptor returned from a worker (ws_endpoint rewrite plus
// ControlPlane.VncRewriter). Grounded on the original's AppState and its
// pick_worker/gather_worker_status/list_sessions handlers.
package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"camofleet/internal/config"
	"camofleet/internal/controlplane/ccconfig"
	"camofleet/internal/controlplane/vncrewrite"
	"camofleet/internal/dto"
	"camofleet/internal/httpx"
	"camofleet/internal/logger"
	"camofleet/internal/metrics"
)

// Dispatcher fans requests out to the configured worker roster.
type Dispatcher struct {
	log     logger.Logger
	cfg     *ccconfig.Settings
	workers []ccconfig.WorkerConfig
	clients map[string]*http.Client

	rrIndex uint64
}

// New builds a Dispatcher with one pooled HTTP client per worker.
func New(log logger.Logger, pool *httpx.Pool, cfg *ccconfig.Settings, requestTimeout time.Duration) *Dispatcher {
	clients := make(map[string]*http.Client, len(cfg.Workers))
	for _, w := range cfg.Workers {
		clients[w.Name] = pool.Get(w.Name, w.URL, requestTimeout)
	}
	return &Dispatcher{log: log, cfg: cfg, workers: cfg.Workers, clients: clients}
}

// Workers returns the configured roster, in order.
func (d *Dispatcher) Workers() []ccconfig.WorkerConfig {
	return d.workers
}

// PickWorker selects a worker by exact preferred name, or via round-robin
// over the (optionally VNC-filtered) roster (spec §4.7).
func (d *Dispatcher) PickWorker(preferred string, requireVNC bool) (*ccconfig.WorkerConfig, error) {
	candidates := d.workers
	if requireVNC {
		filtered := make([]ccconfig.WorkerConfig, 0, len(d.workers))
		for _, w := range d.workers {
			if w.SupportsVNC {
				filtered = append(filtered, w)
			}
		}
		candidates = filtered
	}

	if preferred != "" {
		for _, w := range candidates {
			if w.Name == preferred {
				wc := w
				return &wc, nil
			}
		}
		return nil, fmt.Errorf("%w: worker %q not found", dto.ErrNotFound, preferred)
	}

	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no workers configured", dto.ErrNoCapacity)
	}
	idx := atomic.AddUint64(&d.rrIndex, 1) - 1
	picked := candidates[int(idx%uint64(len(candidates)))]
	return &picked, nil
}

func (d *Dispatcher) client(name string) *http.Client {
	return d.clients[name]
}

func (d *Dispatcher) do(ctx context.Context, worker, operation, method, baseURL, path string, body interface{}, out interface{}) error {
	start := time.Now()
	err := d.doRaw(ctx, worker, method, baseURL, path, body, out)
	metrics.ProxyRequestDuration.WithLabelValues(worker, operation).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ProxyErrorTotal.WithLabelValues(worker, operation).Inc()
		return err
	}
	metrics.ProxySuccessTotal.WithLabelValues(worker, operation).Inc()
	return nil
}

func (d *Dispatcher) doRaw(ctx context.Context, worker, method, baseURL, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := d.client(worker).Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", dto.ErrUpstreamUnreachable, method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return dto.ErrNotFound
	}
	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: worker %s returned %d: %s", dto.ErrUpstreamUnreachable, worker, resp.StatusCode, string(respBody))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Health fetches /health from every worker concurrently and reports
// aggregate status "ok" iff every worker is healthy and the roster is
// non-empty (spec §4.7), else "degraded".
func (d *Dispatcher) Health(ctx context.Context) *dto.ControlHealthResponse {
	statuses := d.GatherStatus(ctx)
	healthy := len(statuses) > 0
	for _, s := range statuses {
		if s.Status != "ok" {
			healthy = false
			break
		}
	}
	status := "degraded"
	if healthy {
		status = "ok"
	}
	return &dto.ControlHealthResponse{Status: status, Workers: statuses}
}

// GatherStatus fetches /health from every worker in parallel, bounded by
// list_sessions_concurrency.
func (d *Dispatcher) GatherStatus(ctx context.Context) []dto.WorkerStatus {
	sem := make(chan struct{}, d.cfg.ListSessionsConcurrency)
	out := make([]dto.WorkerStatus, len(d.workers))
	var wg sync.WaitGroup
	for i, w := range d.workers {
		i, w := i, w
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			var h dto.HealthResponse
			err := d.do(ctx, w.Name, "health", http.MethodGet, w.URL, "/health", nil, &h)
			status := "ok"
			if err != nil {
				d.log.Warn("worker unhealthy", "worker", w.Name, "error", err)
				status = "unreachable"
			}
			out[i] = dto.WorkerStatus{Name: w.Name, SupportsVNC: w.SupportsVNC, Status: status}
		}()
	}
	wg.Wait()
	return out
}

// List queries every worker concurrently, bounded by
// list_sessions_concurrency, re-projecting every returned session
// descriptor (spec §4.7's "List fan-out"). A worker that errors is
// logged and skipped; the aggregate never fails.
func (d *Dispatcher) List(ctx context.Context, publicAPIPrefix string) []dto.SessionDescriptor {
	sem := make(chan struct{}, d.cfg.ListSessionsConcurrency)
	results := make([][]dto.SessionDescriptor, len(d.workers))
	var wg sync.WaitGroup

	for i, w := range d.workers {
		i, w := i, w
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			var items []dto.WorkerSessionDetail
			if err := d.do(ctx, w.Name, "list", http.MethodGet, w.URL, "/sessions", nil, &items); err != nil {
				d.log.Warn("failed to query worker", "worker", w.Name, "error", err)
				return
			}
			out := make([]dto.SessionDescriptor, 0, len(items))
			for _, item := range items {
				out = append(out, d.reproject(w, item, publicAPIPrefix))
			}
			results[i] = out
		}()
	}
	wg.Wait()

	total := 0
	for _, r := range results {
		total += len(r)
	}
	flat := make([]dto.SessionDescriptor, 0, total)
	for _, r := range results {
		flat = append(flat, r...)
	}
	return flat
}

// Create picks a worker (honoring an explicit req.Worker or req.VNC
// requirement) and forwards the creation request, re-projecting the
// response onto the public SessionDescriptor shape.
func (d *Dispatcher) Create(ctx context.Context, req dto.CreateSessionRequest, publicAPIPrefix string) (*dto.SessionDescriptor, error) {
	worker, err := d.PickWorker(req.Worker, req.VNC)
	if err != nil {
		return nil, err
	}
	req.Worker = ""

	var detail dto.WorkerSessionDetail
	if err := d.do(ctx, worker.Name, "create", http.MethodPost, worker.URL, "/sessions", req, &detail); err != nil {
		return nil, err
	}
	out := d.reproject(*worker, detail, publicAPIPrefix)
	return &out, nil
}

// Get forwards GET /sessions/{id} to the named worker.
func (d *Dispatcher) Get(ctx context.Context, workerName, id, publicAPIPrefix string) (*dto.SessionDescriptor, error) {
	worker, err := d.PickWorker(workerName, false)
	if err != nil {
		return nil, err
	}
	var detail dto.WorkerSessionDetail
	if err := d.do(ctx, worker.Name, "get", http.MethodGet, worker.URL, "/sessions/"+id, nil, &detail); err != nil {
		return nil, err
	}
	out := d.reproject(*worker, detail, publicAPIPrefix)
	return &out, nil
}

// Delete forwards DELETE /sessions/{id} to the named worker.
func (d *Dispatcher) Delete(ctx context.Context, workerName, id string) (*dto.SessionDeleteResponse, error) {
	worker, err := d.PickWorker(workerName, false)
	if err != nil {
		return nil, err
	}
	var out dto.SessionDeleteResponse
	if err := d.do(ctx, worker.Name, "delete", http.MethodDelete, worker.URL, "/sessions/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Touch forwards POST /sessions/{id}/touch to the named worker.
func (d *Dispatcher) Touch(ctx context.Context, workerName, id, publicAPIPrefix string) (*dto.SessionDescriptor, error) {
	worker, err := d.PickWorker(workerName, false)
	if err != nil {
		return nil, err
	}
	var detail dto.WorkerSessionDetail
	if err := d.do(ctx, worker.Name, "touch", http.MethodPost, worker.URL, "/sessions/"+id+"/touch", nil, &detail); err != nil {
		return nil, err
	}
	out := d.reproject(*worker, detail, publicAPIPrefix)
	return &out, nil
}

// WorkerWSEndpoint resolves the picked worker and the real worker-local
// WebSocket URL for id, for the control-plane's own bridge handler.
func (d *Dispatcher) WorkerWSEndpoint(workerName, id string) (*ccconfig.WorkerConfig, string, error) {
	worker, err := d.PickWorker(workerName, false)
	if err != nil {
		return nil, "", err
	}
	return worker, buildWorkerWSEndpoint(*worker, id), nil
}

// reproject rewrites a worker's session detail onto the control-plane's
// public shape: a public ws_endpoint and VncRewriter-applied vnc payload.
func (d *Dispatcher) reproject(worker ccconfig.WorkerConfig, detail dto.WorkerSessionDetail, publicAPIPrefix string) dto.SessionDescriptor {
	detail.WSEndpoint = buildPublicWSEndpoint(publicAPIPrefix, worker.Name, detail.ID)
	detail.VNC = d.rewriteVNC(worker, detail.ID, detail.VNC)
	detail.VNCEnabled = detail.VNC.WS != "" || detail.VNC.HTTP != ""
	return dto.SessionDescriptor{WorkerSessionDetail: detail, Worker: worker.Name}
}

func (d *Dispatcher) rewriteVNC(worker ccconfig.WorkerConfig, sessionID string, vnc dto.VNCInfo) dto.VNCInfo {
	switch d.cfg.VncRewriteMode {
	case ccconfig.VncRewritePathMerge:
		vnc.HTTP = vncrewrite.RewriteWithPathMerge(vnc.HTTP, worker.VNCHTTP, sessionID)
		vnc.WS = vncrewrite.RewriteWithPathMerge(vnc.WS, worker.VNCWS, sessionID)
	default:
		vnc.HTTP = vncrewrite.RewriteWithPlaceholders(vnc.HTTP, worker.VNCHTTP)
		vnc.WS = vncrewrite.RewriteWithPlaceholders(vnc.WS, worker.VNCWS)
	}
	return vnc
}

// buildPublicWSEndpoint constructs the control-plane-public WebSocket
// path for a worker/session pair.
func buildPublicWSEndpoint(publicAPIPrefix, workerName, sessionID string) string {
	prefix := config.NormalisePublicPrefix(publicAPIPrefix)
	return fmt.Sprintf("%s/sessions/%s/%s/ws", prefix, workerName, sessionID)
}

// buildWorkerWSEndpoint translates a worker's HTTP base URL into the
// worker-local WebSocket URL serving its own /sessions/{id}/ws route.
func buildWorkerWSEndpoint(worker ccconfig.WorkerConfig, sessionID string) string {
	u, err := url.Parse(worker.URL)
	if err != nil {
		return ""
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	u.Scheme = scheme
	u.Path = strings.TrimSuffix(u.Path, "/") + "/sessions/" + sessionID + "/ws"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
