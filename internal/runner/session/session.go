// SPDX-License-Identifier: LGPL-3.0-or-later

// Package session implements the runner's session table and lifecycle
// operations (spec §4.5): create, get, list, touch, delete, backed by
// the resource pool, prewarm pool, subprocess launchers, and idle
// reaper.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"camofleet/internal/dto"
	"camofleet/internal/logger"
	"camofleet/internal/metrics"
	"camofleet/internal/runner/launchconfig"
	"camofleet/internal/runner/pool"
	"camofleet/internal/runner/prewarm"
	"camofleet/internal/runner/reaper"
	"camofleet/internal/runner/subprocess"
	"camofleet/internal/runner/urlutil"
)

// Session is the runner's live in-memory record for one browser session.
// All field access goes through Manager's mutex; Session itself carries
// no lock of its own.
type Session struct {
	ID             string
	Status         dto.SessionStatus
	Headless       bool
	IdleTTLSeconds int
	Labels         map[string]string
	VNC            bool
	StartURLWait   string
	CreatedAt      time.Time
	LastSeenAt     time.Time

	server  *subprocess.BrowserServerHandle
	vnc     *subprocess.VncChain
	preload *preloadHandle
}

// Defaults mirrors rconfig.SessionDefaults without importing rconfig,
// avoiding an import cycle (rconfig is loaded by cmd/runner, which wires
// both packages together).
type Defaults struct {
	IdleTTLSeconds int
	Headless       bool
	StartURL       string
}

// VNCBases configures how runner-side VNC chains are exposed externally.
type VNCBases struct {
	WSBase   string
	HTTPBase string
}

// Manager owns the session table plus every subsystem a create/delete
// touches: the resource pool, the prewarm pool, subprocess launch
// helpers, and the default start-URL wait policy.
type Manager struct {
	log logger.Logger

	pool    *pool.ResourcePool
	prewarm *prewarm.Pool

	drivers       subprocess.DriverBinaries
	browser       string
	launchTimeout time.Duration
	vncSettings   subprocess.VncChainSettings
	vncBases      VNCBases

	defaults         Defaults
	defaultStartWait string

	mu           sync.Mutex
	sessions     map[string]*Session
	shuttingDown bool
}

// New builds a Manager. pw may be nil: the prewarm.Pool needs a Launcher,
// which Manager itself implements (see HeadlessDocument/VncDocument
// below), so callers typically build the pool afterwards and wire it in
// with SetPrewarm.
func New(log logger.Logger, p *pool.ResourcePool, pw *prewarm.Pool, drivers subprocess.DriverBinaries, browser string, launchTimeout time.Duration, vncSettings subprocess.VncChainSettings, vncBases VNCBases, defaults Defaults, defaultStartWait string) *Manager {
	return &Manager{
		log:              log,
		pool:             p,
		prewarm:          pw,
		drivers:          drivers,
		browser:          browser,
		launchTimeout:    launchTimeout,
		vncSettings:      vncSettings,
		vncBases:         vncBases,
		defaults:         defaults,
		defaultStartWait: defaultStartWait,
		sessions:         make(map[string]*Session),
	}
}

// SetPrewarm wires the prewarm pool after construction, for callers that
// must build the pool from this Manager acting as its Launcher (see
// HeadlessDocument/VncDocument below) before the Manager itself exists.
func (m *Manager) SetPrewarm(pw *prewarm.Pool) {
	m.prewarm = pw
}

// HeadlessDocument implements prewarm.Launcher.
func (m *Manager) HeadlessDocument() launchconfig.Document {
	return launchconfig.Build(launchconfig.Params{Headless: true})
}

// VncDocument implements prewarm.Launcher.
func (m *Manager) VncDocument(display string) launchconfig.Document {
	return launchconfig.Build(launchconfig.Params{
		Headless: false,
		Env:      map[string]string{"DISPLAY": display},
	})
}

// Create applies defaults, tries the prewarm pool, otherwise launches a
// fresh browser server (optionally behind a virtual-display chain), and
// inserts the new session in READY state (spec §4.5 steps 1-8).
func (m *Manager) Create(ctx context.Context, req dto.CreateSessionRequest) (*dto.RunnerSessionDetail, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	shuttingDown := m.shuttingDown
	m.mu.Unlock()
	if shuttingDown {
		return nil, dto.ErrShuttingDown
	}

	headless := m.defaults.Headless
	if req.Headless != nil {
		headless = *req.Headless
	}
	vncEnabled := req.VNC
	if vncEnabled {
		headless = false
		if !subprocess.VncToolingAvailable() {
			return nil, fmt.Errorf("%w: vnc is not supported on this runner", dto.ErrVNCUnavailable)
		}
	}

	idleTTL := m.defaults.IdleTTLSeconds
	if req.IdleTTLSeconds != nil {
		idleTTL = *req.IdleTTLSeconds
	}
	startURL := req.StartURL
	if startURL == "" {
		startURL = m.defaults.StartURL
	}
	startURL = urlutil.NormaliseStartURL(startURL)
	startURLWait := m.defaultStartWait
	if dto.ValidStartURLWait(req.StartURLWait) {
		startURLWait = req.StartURLWait
	}
	labels := req.Labels
	if labels == nil {
		labels = map[string]string{}
	}

	var acquired *prewarm.Resource
	if req.Proxy == nil {
		acquired = m.prewarm.Acquire(vncEnabled, headless)
	}

	var server *subprocess.BrowserServerHandle
	var vncChain *subprocess.VncChain

	if acquired != nil {
		server = acquired.Server
		vncChain = acquired.Vnc
	} else {
		var err error
		server, vncChain, err = m.launch(ctx, headless, vncEnabled, req.Proxy)
		if err != nil {
			metrics.SessionsTotal.WithLabelValues("launch_failed").Inc()
			return nil, err
		}
	}

	now := time.Now().UTC()
	sess := &Session{
		ID:             uuid.New().String(),
		Status:         dto.StatusReady,
		Headless:       headless,
		IdleTTLSeconds: idleTTL,
		Labels:         labels,
		VNC:            vncEnabled,
		StartURLWait:   startURLWait,
		CreatedAt:      now,
		LastSeenAt:     now,
		server:         server,
		vnc:            vncChain,
	}

	if startURL != "" && startURLWait != string(dto.WaitNone) {
		sess.preload = schedulePreload(m.log, server.WSEndpoint, startURL, startURLWait)
	}

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	metrics.SessionsTotal.WithLabelValues("created").Inc()
	metrics.SessionsActive.Set(float64(m.Len()))
	m.prewarm.RequestTopUp()

	return m.detail(sess), nil
}

// launch starts a fresh browser server, optionally behind a freshly
// started virtual-display chain, releasing the chain's slot on any
// failure (spec §4.5 step 5).
func (m *Manager) launch(ctx context.Context, headless, vnc bool, proxy *dto.ProxyOverride) (*subprocess.BrowserServerHandle, *subprocess.VncChain, error) {
	var chain *subprocess.VncChain
	display := ""

	if vnc {
		slot, err := m.pool.Acquire()
		if err != nil {
			return nil, nil, err
		}
		chain, err = subprocess.LaunchVncChain(ctx, m.log, slot, m.vncSettings)
		if err != nil {
			m.pool.Release(slot)
			return nil, nil, err
		}
		display = chain.Display
	}

	doc := launchconfig.Build(launchconfig.Params{
		Headless: headless,
		Env:      envForDisplay(display),
		Override: proxy,
	})

	server, err := subprocess.LaunchBrowserServer(ctx, m.log, m.drivers, m.browser, doc, m.launchTimeout)
	if err != nil {
		if chain != nil {
			chain.Teardown(m.log)
			m.pool.Release(chain.Slot)
		}
		return nil, nil, err
	}

	return server, chain, nil
}

func envForDisplay(display string) map[string]string {
	if display == "" {
		return nil
	}
	return map[string]string{"DISPLAY": display}
}

// Get returns a detail snapshot for id, or false if unknown.
func (m *Manager) Get(id string) (*dto.RunnerSessionDetail, bool) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	return m.detail(sess), true
}

// List returns a detail snapshot of every live session.
func (m *Manager) List() []*dto.RunnerSessionDetail {
	m.mu.Lock()
	snapshot := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		snapshot = append(snapshot, sess)
	}
	m.mu.Unlock()

	details := make([]*dto.RunnerSessionDetail, 0, len(snapshot))
	for _, sess := range snapshot {
		details = append(details, m.detail(sess))
	}
	return details
}

// Touch bumps last_seen_at and returns the updated snapshot, or false if
// id is unknown.
func (m *Manager) Touch(id string) (*dto.RunnerSessionDetail, bool) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		sess.LastSeenAt = time.Now().UTC()
	}
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	return m.detail(sess), true
}

// Delete removes id from the table, tears its resources down, and
// returns the pre-removal snapshot, or false if id was unknown. Removal
// and teardown are idempotent: a session is removed from the table
// exactly once.
func (m *Manager) Delete(id string) (*dto.RunnerSessionDetail, bool) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return nil, false
	}

	detail := m.detail(sess)
	m.teardown(sess)
	metrics.SessionsTotal.WithLabelValues("deleted").Inc()
	metrics.SessionsActive.Set(float64(m.Len()))
	return detail, true
}

// Len reports the current table size, for metrics and diagnostics.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown rejects further Create calls, then tears down every live
// session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.shuttingDown = true
	snapshot := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		snapshot = append(snapshot, sess)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, sess := range snapshot {
		m.teardown(sess)
	}
}

func (m *Manager) teardown(sess *Session) {
	sess.Status = dto.StatusTerminating
	if sess.preload != nil {
		sess.preload.Close()
	}
	_ = sess.server.Close()
	if sess.vnc != nil {
		sess.vnc.Teardown(m.log)
		m.pool.Release(sess.vnc.Slot)
	}
	sess.Status = dto.StatusDead
}

func (m *Manager) detail(sess *Session) *dto.RunnerSessionDetail {
	vncInfo := dto.VNCInfo{}
	if sess.VNC && sess.vnc != nil {
		vncInfo = dto.VNCInfo{
			WS:                urlutil.BuildGatewayURL(m.vncBases.WSBase, sess.vnc.Slot.WSPort, urlutil.KindWS),
			HTTP:              urlutil.BuildGatewayURL(m.vncBases.HTTPBase, sess.vnc.Slot.WSPort, urlutil.KindHTTP),
			PasswordProtected: false,
		}
	}
	return &dto.RunnerSessionDetail{
		SessionSummary: dto.SessionSummary{
			ID:             sess.ID,
			Status:         sess.Status,
			CreatedAt:      sess.CreatedAt,
			LastSeenAt:     sess.LastSeenAt,
			Headless:       sess.Headless,
			IdleTTLSeconds: sess.IdleTTLSeconds,
			Labels:         sess.Labels,
			VNC:            sess.VNC,
			StartURLWait:   sess.StartURLWait,
		},
		WSEndpoint: sess.server.WSEndpoint,
		VNCInfo:    vncInfo,
	}
}

// expirable adapts a Session snapshot for reaper.SelectExpired without
// requiring reaper to know about the session type.
type expirable struct {
	id       string
	lastSeen time.Time
	ttl      int
}

func (e expirable) LastSeenAt() time.Time { return e.lastSeen }
func (e expirable) IdleTTLSeconds() int   { return e.ttl }

// ReapExpired snapshots sessions whose idle TTL has elapsed, removes
// them from the table, and tears each down outside the lock (spec §4.4).
// Intended as the tick callback handed to reaper.New.
func (m *Manager) ReapExpired(ctx context.Context) {
	now := time.Now().UTC()

	m.mu.Lock()
	candidates := make([]expirable, 0, len(m.sessions))
	for id, sess := range m.sessions {
		candidates = append(candidates, expirable{id: id, lastSeen: sess.LastSeenAt, ttl: sess.IdleTTLSeconds})
	}
	expired := reaper.SelectExpired(candidates, now)

	stale := make([]*Session, 0, len(expired))
	for _, e := range expired {
		if sess, ok := m.sessions[e.id]; ok {
			delete(m.sessions, e.id)
			stale = append(stale, sess)
		}
	}
	m.mu.Unlock()

	for _, sess := range stale {
		m.log.Info("session expired, tearing down", "session_id", sess.ID)
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					m.log.Warn("panic while tearing down expired session", "session_id", sess.ID, "recovered", rec)
				}
			}()
			m.teardown(sess)
		}()
	}
	if len(stale) > 0 {
		metrics.SessionsTotal.WithLabelValues("expired").Add(float64(len(stale)))
		metrics.SessionsActive.Set(float64(m.Len()))
	}
}
