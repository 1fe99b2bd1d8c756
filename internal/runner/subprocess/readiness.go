// SPDX-License-Identifier: LGPL-3.0-or-later

package subprocess

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"
)

// WaitForUnixSocket polls for path's existence every interval until it
// appears, proc exits (fatal), or timeout elapses (fatal). Grounds the
// display-server readiness probe of spec §4.2.
func WaitForUnixSocket(ctx context.Context, proc *Process, path string, interval, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		if proc.Exited() {
			return fmt.Errorf("%s exited with code %d before becoming ready", proc.Name, proc.ExitCode())
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for %s at %s", proc.Name, path)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// WaitForTCP polls a loopback connect probe every interval until it
// succeeds, proc exits (fatal), or timeout elapses (fatal). Grounds the
// WS↔TCP adapter readiness probe of spec §4.2.
func WaitForTCP(ctx context.Context, proc *Process, host string, port int, interval, timeout time.Duration) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, interval)
		if err == nil {
			conn.Close()
			return nil
		}
		if proc.Exited() {
			return fmt.Errorf("%s exited with code %d before becoming ready", proc.Name, proc.ExitCode())
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for %s on %s", proc.Name, addr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
