// SPDX-License-Identifier: LGPL-3.0-or-later

package proxy

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"camofleet/internal/dto"
	"camofleet/internal/logger"
	"camofleet/internal/vncgateway/vgconfig"
)

func TestCapacityAcquireReleaseRespectsHardCap(t *testing.T) {
	c := NewCapacity(1)
	if err := c.Acquire(); err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	if err := c.Acquire(); !errors.Is(err, dto.ErrNoCapacity) {
		t.Fatalf("second Acquire() error = %v, want ErrNoCapacity", err)
	}
	c.Release()
	if err := c.Acquire(); err != nil {
		t.Fatalf("Acquire() after Release() error = %v", err)
	}
}

func TestCapacityDrainRejectsNewSessions(t *testing.T) {
	c := NewCapacity(4)
	c.Drain()
	if err := c.Acquire(); !errors.Is(err, dto.ErrShuttingDown) {
		t.Fatalf("Acquire() after Drain() error = %v, want ErrShuttingDown", err)
	}
}

// tcpEchoUpstream listens once and echoes every byte it reads back to
// the client, until the connection closes.
func tcpEchoUpstream(t *testing.T) (host string, port int, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				buf := make([]byte, 4096)
				for {
					n, err := conn.Read(buf)
					if n > 0 {
						conn.Write(buf[:n])
					}
					if err != nil {
						return
					}
				}
			}()
		}
	}()
	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port, func() { ln.Close() }
}

func TestWSProxyBridgesClientToTCPUpstream(t *testing.T) {
	host, port, stop := tcpEchoUpstream(t)
	defer stop()

	cfg := &vgconfig.Settings{
		RunnerHost:            host,
		TCPConnectTimeoutMS:   1000,
		WSPingIntervalMS:      60000,
		TCPIdleTimeoutMS:      60000,
		MaxConcurrentSessions: 4,
	}
	capacity := NewCapacity(cfg.MaxConcurrentSessions)
	wsProxy := NewWSProxy(cfg, logger.New("error"), capacity)

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade error: %v", err)
			return
		}
		wsProxy.Serve(conn, port)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte("hello")); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("got %q, want hello", data)
	}
}

func TestWSProxyRejectsBeyondCapacity(t *testing.T) {
	host, port, stop := tcpEchoUpstream(t)
	defer stop()
	_ = strconv.Itoa(port)

	cfg := &vgconfig.Settings{
		RunnerHost:            host,
		TCPConnectTimeoutMS:   1000,
		WSPingIntervalMS:      60000,
		TCPIdleTimeoutMS:      60000,
		MaxConcurrentSessions: 1,
	}
	capacity := NewCapacity(cfg.MaxConcurrentSessions)
	// Occupy the only slot directly, simulating an in-flight session.
	if err := capacity.Acquire(); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	wsProxy := NewWSProxy(cfg, logger.New("error"), capacity)

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		wsProxy.Serve(conn, port)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected a close error, got %v", err)
	}
	if closeErr.Code != 1013 {
		t.Errorf("close code = %d, want 1013", closeErr.Code)
	}
}
