// SPDX-License-Identifier: LGPL-3.0-or-later

// Package forwarder implements Worker.Forwarder (spec §4.6): translates
// the public session schema to and from the runner's, stamps a
// process-lifetime worker id, and shares one pooled HTTP client for
// every call to the runner sidecar.
package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"camofleet/internal/dto"
	"camofleet/internal/httpx"
	"camofleet/internal/worker/wconfig"
)

// Forwarder holds the runner connection and the defaults/identity applied
// to every forwarded call.
type Forwarder struct {
	client      *http.Client
	runnerBase  string
	supportsVNC bool
	defaults    wconfig.SessionDefaults
	browser     string
	workerID    string
}

// New builds a Forwarder backed by a pooled client keyed on (runner,
// runnerBaseURL), mirroring the control-plane's `_get_or_create_http_client`
// cache (internal/httpx, already grounded there).
func New(pool *httpx.Pool, cfg *wconfig.Settings, requestTimeout time.Duration) *Forwarder {
	return &Forwarder{
		client:      pool.Get("runner", cfg.RunnerBaseURL, requestTimeout),
		runnerBase:  cfg.RunnerBaseURL,
		supportsVNC: cfg.SupportsVNC,
		defaults:    cfg.SessionDefaults,
		browser:     cfg.Browser,
		workerID:    uuid.New().String(),
	}
}

// WorkerID is the process-lifetime identity stamped onto every session
// this worker reports.
func (f *Forwarder) WorkerID() string { return f.workerID }

// SupportsVNC reports whether this worker accepts vnc=true requests.
func (f *Forwarder) SupportsVNC() bool { return f.supportsVNC }

func (f *Forwarder) do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, f.runnerBase+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", dto.ErrUpstreamUnreachable, method, path, err)
	}
	return resp, nil
}

func decode(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return dto.ErrNotFound
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: runner returned %d: %s", dto.ErrUpstreamUnreachable, resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Health forwards GET /health.
func (f *Forwarder) Health(ctx context.Context) (*dto.HealthResponse, error) {
	resp, err := f.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return nil, err
	}
	var h dto.HealthResponse
	if err := decode(resp, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// List forwards GET /sessions and re-projects every item.
func (f *Forwarder) List(ctx context.Context) ([]*dto.WorkerSessionDetail, error) {
	resp, err := f.do(ctx, http.MethodGet, "/sessions", nil)
	if err != nil {
		return nil, err
	}
	var raw []dto.RunnerSessionDetail
	if err := decode(resp, &raw); err != nil {
		return nil, err
	}
	out := make([]*dto.WorkerSessionDetail, 0, len(raw))
	for _, r := range raw {
		out = append(out, f.toWorkerDetail(&r))
	}
	return out, nil
}

// applyDefaults fills fields missing from req with this worker's
// configured session defaults, mirroring the original's
// `payload.setdefault(...)` calls.
func (f *Forwarder) applyDefaults(req *dto.CreateSessionRequest) {
	if req.Headless == nil {
		h := f.defaults.Headless
		req.Headless = &h
	}
	if req.IdleTTLSeconds == nil {
		ttl := f.defaults.IdleTTLSeconds
		req.IdleTTLSeconds = &ttl
	}
}

// Create rejects vnc=true when this worker doesn't support it, applies
// defaults, forwards to the runner, and re-projects the response.
func (f *Forwarder) Create(ctx context.Context, req dto.CreateSessionRequest) (*dto.WorkerSessionDetail, error) {
	if req.VNC && !f.supportsVNC {
		return nil, fmt.Errorf("%w: VNC is not supported by this worker", dto.ErrVNCUnavailable)
	}
	f.applyDefaults(&req)

	resp, err := f.do(ctx, http.MethodPost, "/sessions", req)
	if err != nil {
		return nil, err
	}
	var raw dto.RunnerSessionDetail
	if err := decode(resp, &raw); err != nil {
		return nil, err
	}
	return f.toWorkerDetail(&raw), nil
}

// Get forwards GET /sessions/{id} and re-projects the response.
func (f *Forwarder) Get(ctx context.Context, id string) (*dto.WorkerSessionDetail, error) {
	raw, err := f.getRaw(ctx, id)
	if err != nil {
		return nil, err
	}
	return f.toWorkerDetail(raw), nil
}

// getRaw returns the runner's own descriptor, unprojected, so the
// WebSocket handler can dial the real upstream ws_endpoint rather than
// the worker-public path this package rewrites it to.
func (f *Forwarder) getRaw(ctx context.Context, id string) (*dto.RunnerSessionDetail, error) {
	resp, err := f.do(ctx, http.MethodGet, "/sessions/"+id, nil)
	if err != nil {
		return nil, err
	}
	var raw dto.RunnerSessionDetail
	if err := decode(resp, &raw); err != nil {
		return nil, err
	}
	return &raw, nil
}

// UpstreamWSEndpoint resolves id's real browser-server WS URL, for the
// WebSocket bridge handler.
func (f *Forwarder) UpstreamWSEndpoint(ctx context.Context, id string) (string, error) {
	raw, err := f.getRaw(ctx, id)
	if err != nil {
		return "", err
	}
	return raw.WSEndpoint, nil
}

// Delete forwards DELETE /sessions/{id}.
func (f *Forwarder) Delete(ctx context.Context, id string) (*dto.SessionDeleteResponse, error) {
	resp, err := f.do(ctx, http.MethodDelete, "/sessions/"+id, nil)
	if err != nil {
		return nil, err
	}
	var out dto.SessionDeleteResponse
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Touch forwards POST /sessions/{id}/touch and re-projects the response.
func (f *Forwarder) Touch(ctx context.Context, id string) (*dto.WorkerSessionDetail, error) {
	resp, err := f.do(ctx, http.MethodPost, "/sessions/"+id+"/touch", nil)
	if err != nil {
		return nil, err
	}
	var raw dto.RunnerSessionDetail
	if err := decode(resp, &raw); err != nil {
		return nil, err
	}
	return f.toWorkerDetail(&raw), nil
}

// toWorkerDetail re-projects a runner descriptor onto the worker's public
// shape: vnc_info -> vnc, a pinned browser identifier, the worker's own
// id, and a ws_endpoint rewritten to the relative path this worker itself
// serves (spec §4.6).
func (f *Forwarder) toWorkerDetail(r *dto.RunnerSessionDetail) *dto.WorkerSessionDetail {
	return &dto.WorkerSessionDetail{
		ID:             r.ID,
		Status:         r.Status,
		CreatedAt:      r.CreatedAt,
		LastSeenAt:     r.LastSeenAt,
		Browser:        f.browser,
		Headless:       r.Headless,
		IdleTTLSeconds: r.IdleTTLSeconds,
		Labels:         r.Labels,
		WorkerID:       f.workerID,
		VNCEnabled:     r.VNC,
		StartURLWait:   r.StartURLWait,
		WSEndpoint:     fmt.Sprintf("/sessions/%s/ws", r.ID),
		VNC:            r.VNCInfo,
	}
}
