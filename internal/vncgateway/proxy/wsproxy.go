// SPDX-License-Identifier: LGPL-3.0-or-later

package proxy

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"camofleet/internal/dto"
	"camofleet/internal/logger"
	"camofleet/internal/metrics"
	"camofleet/internal/vncgateway/vgconfig"
)

// closeReason identifies why a gateway session ended, for the
// GatewaySessionsTotal metric and the WebSocket close code/reason sent
// to the client (spec §4.10's state-machine diagram).
type closeReason string

const (
	reasonNormal         closeReason = "normal"
	reasonIdleTimeout    closeReason = "idle_timeout"
	reasonUpstreamClosed closeReason = "upstream_closed"
	reasonShuttingDown   closeReason = "shutting_down"
	reasonSessionLimit   closeReason = "session_limit"
)

const readChunkSize = 32 * 1024

// Capacity bounds the number of concurrently bridged VNC sessions and
// paces new admissions. The hard cap is a channel semaphore, the same
// pattern daemon/ratelimit.go uses for per-provider concurrent
// operations; golang.org/x/time/rate additionally smooths bursts of new
// connection attempts, which a bare semaphore cannot express.
type Capacity struct {
	sem     chan struct{}
	limiter *rate.Limiter

	mu       sync.RWMutex
	draining bool
}

// admissionRate and admissionBurst pace new-connection attempts
// independently of max_concurrent_sessions: the semaphore is the hard
// cap on how many sessions run at once, this limiter only smooths
// bursts of simultaneous *new* handshakes so a reconnect storm can't
// all dial the runner in the same instant.
const (
	admissionRate  = 20
	admissionBurst = 20
)

// NewCapacity builds a Capacity allowing up to max concurrent sessions.
func NewCapacity(max int) *Capacity {
	return &Capacity{
		sem:     make(chan struct{}, max),
		limiter: rate.NewLimiter(admissionRate, admissionBurst),
	}
}

// Acquire reserves a session slot, or reports the reason it could not:
// ErrShuttingDown if draining, ErrNoCapacity if the hard cap or the
// admission rate limiter rejects the attempt.
func (c *Capacity) Acquire() error {
	c.mu.RLock()
	draining := c.draining
	c.mu.RUnlock()
	if draining {
		return dto.ErrShuttingDown
	}
	if !c.limiter.Allow() {
		return fmt.Errorf("%w: admission rate exceeded", dto.ErrNoCapacity)
	}
	select {
	case c.sem <- struct{}{}:
		return nil
	default:
		return fmt.Errorf("%w: max_concurrent_sessions reached", dto.ErrNoCapacity)
	}
}

// Release frees a session slot acquired via Acquire.
func (c *Capacity) Release() {
	select {
	case <-c.sem:
	default:
	}
}

// Drain marks the capacity as shutting down; subsequent Acquire calls
// fail with ErrShuttingDown so no new sessions are admitted during the
// shutdown grace period.
func (c *Capacity) Drain() {
	c.mu.Lock()
	c.draining = true
	c.mu.Unlock()
}

// WSProxy bridges a client WebSocket connection to a runner's raw VNC
// TCP socket (spec §4.10). Unlike the original implementation, which
// re-dials the upstream as a second WebSocket and reuses the websockets
// library's own framing, the forwarding contract here is a raw TCP
// backend: the gateway owns ping/pong and idle-timeout handling itself.
type WSProxy struct {
	cfg      *vgconfig.Settings
	log      logger.Logger
	capacity *Capacity
}

// NewWSProxy builds a WSProxy bounded by capacity.
func NewWSProxy(cfg *vgconfig.Settings, log logger.Logger, capacity *Capacity) *WSProxy {
	return &WSProxy{cfg: cfg, log: log, capacity: capacity}
}

// Serve dials the runner's VNC socket on port and bridges it to client
// until either side closes, the idle watchdog fires, or the capacity's
// Drain is called. The caller is responsible for having already
// completed the WebSocket handshake (including subprotocol selection).
func (p *WSProxy) Serve(client *websocket.Conn, port int) {
	if err := p.capacity.Acquire(); err != nil {
		reason := reasonSessionLimit
		if errors.Is(err, dto.ErrShuttingDown) {
			reason = reasonShuttingDown
		}
		p.closeClient(client, reason, string(reason))
		return
	}
	defer p.capacity.Release()

	metrics.GatewaySessionsActive.Inc()
	defer metrics.GatewaySessionsActive.Dec()

	connectTimeout := time.Duration(p.cfg.TCPConnectTimeoutMS) * time.Millisecond
	upstream, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", p.cfg.RunnerHost, port), connectTimeout)
	if err != nil {
		p.log.Warn("vnc gateway: upstream tcp dial failed", "host", p.cfg.RunnerHost, "port", port, "error", err)
		p.closeClient(client, reasonUpstreamClosed, "upstream unreachable")
		return
	}
	defer upstream.Close()

	reason := p.bridge(client, upstream)
	metrics.GatewaySessionsTotal.WithLabelValues(string(reason)).Inc()
}

// bridge runs the four concurrent behaviors spec §4.10 requires: a
// client->upstream forwarder, an upstream->client forwarder, a
// keepalive pinger, and an idle watchdog. It returns once any of them
// decides the session is over.
func (p *WSProxy) bridge(client *websocket.Conn, upstream net.Conn) closeReason {
	idle := newActivityTracker()
	done := make(chan closeReason, 4)

	client.SetPingHandler(func(data string) error {
		idle.touch()
		return client.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})
	client.SetPongHandler(func(string) error {
		idle.touch()
		return nil
	})

	go func() { done <- clientToUpstream(client, upstream, idle) }()
	go func() { done <- upstreamToClient(upstream, client, idle) }()
	go func() { done <- p.pinger(client) }()
	go func() { done <- p.watchdog(idle) }()

	reason := <-done
	upstream.Close()
	p.closeClient(client, reason, string(reason))
	return reason
}

// clientToUpstream relays client WS binary/text frames onto the TCP
// socket until the client disconnects or the write fails.
func clientToUpstream(client *websocket.Conn, upstream net.Conn, idle *activityTracker) closeReason {
	for {
		mt, data, err := client.ReadMessage()
		if err != nil {
			return reasonNormal
		}
		idle.touch()
		if mt != websocket.BinaryMessage && mt != websocket.TextMessage {
			continue
		}
		if _, err := upstream.Write(data); err != nil {
			return reasonUpstreamClosed
		}
	}
}

// upstreamToClient relays TCP reads to the client as WS binary frames
// until the upstream closes or the client write fails.
func upstreamToClient(upstream net.Conn, client *websocket.Conn, idle *activityTracker) closeReason {
	buf := make([]byte, readChunkSize)
	for {
		n, err := upstream.Read(buf)
		if n > 0 {
			idle.touch()
			if writeErr := client.WriteMessage(websocket.BinaryMessage, buf[:n]); writeErr != nil {
				return reasonNormal
			}
		}
		if err != nil {
			return reasonUpstreamClosed
		}
	}
}

// pinger sends a WS ping to the client on WSPingIntervalMS, forever,
// until a ping write fails (the client went away).
func (p *WSProxy) pinger(client *websocket.Conn) closeReason {
	interval := time.Duration(p.cfg.WSPingIntervalMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		if err := client.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
			return reasonNormal
		}
	}
	return reasonNormal
}

// watchdog ends the session if no activity (client or upstream traffic,
// or a ping/pong) has been observed within TCPIdleTimeoutMS.
func (p *WSProxy) watchdog(idle *activityTracker) closeReason {
	timeout := time.Duration(p.cfg.TCPIdleTimeoutMS) * time.Millisecond
	ticker := time.NewTicker(timeout / 4)
	defer ticker.Stop()
	for range ticker.C {
		if time.Since(idle.lastActivity()) >= timeout {
			return reasonIdleTimeout
		}
	}
	return reasonIdleTimeout
}

func (p *WSProxy) closeClient(client *websocket.Conn, reason closeReason, message string) {
	code := websocket.CloseNormalClosure
	switch reason {
	case reasonIdleTimeout, reasonUpstreamClosed:
		code = websocket.CloseInternalServerErr
	case reasonSessionLimit, reasonShuttingDown:
		code = 1013 // try again later
	}
	deadline := time.Now().Add(5 * time.Second)
	_ = client.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, message), deadline)
	client.Close()
}

// activityTracker records the last time traffic crossed the bridge in
// either direction, read/written under a mutex since the four bridge
// goroutines all touch it concurrently.
type activityTracker struct {
	mu   sync.Mutex
	last time.Time
}

func newActivityTracker() *activityTracker {
	return &activityTracker{last: time.Now()}
}

func (a *activityTracker) touch() {
	a.mu.Lock()
	a.last = time.Now()
	a.mu.Unlock()
}

func (a *activityTracker) lastActivity() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}
