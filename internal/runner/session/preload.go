// SPDX-License-Identifier: LGPL-3.0-or-later

package session

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"camofleet/internal/logger"
)

// preloadHandle is the retained controller connection for an in-flight
// or completed start-URL preload (spec §4.5's "start-URL preload"):
// the browser-automation WS connection opened to navigate the new
// session to its configured start URL. Closed on session teardown.
//
// A full browser-automation wire protocol client (creating a context,
// a page, and issuing a navigation command with a wait condition) has
// no grounding anywhere in this corpus — none of the example repos ship
// one. This dials the automation endpoint and holds the connection
// open as the session's controller handle, which is the faithful subset
// of the original's behavior a WebSocket client without that protocol
// can reproduce; failures are logged and never change session state,
// matching the original's behavior exactly.
type preloadHandle struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (p *preloadHandle) Close() {
	if p == nil {
		return
	}
	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (p *preloadHandle) setConn(conn *websocket.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn = conn
}

// schedulePreload dials wsEndpoint in the background and retains the
// connection; it never blocks the caller and never reports failure
// upward (spec §4.5: "Failures are logged and do not change session
// state"). wait is accepted for parity with the original signature even
// though no navigation wait condition can be observed without a real
// automation protocol.
func schedulePreload(log logger.Logger, wsEndpoint, startURL, wait string) *preloadHandle {
	handle := &preloadHandle{}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsEndpoint, nil)
		if err != nil {
			log.Warn("failed to open start-url preload controller", "start_url", startURL, "error", err)
			return
		}
		handle.setConn(conn)
	}()
	return handle
}
