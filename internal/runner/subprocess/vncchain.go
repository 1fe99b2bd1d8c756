// SPDX-License-Identifier: LGPL-3.0-or-later

package subprocess

import (
	"context"
	"fmt"
	"time"

	"camofleet/internal/logger"
	"camofleet/internal/runner/pool"
)

// VncChainSettings carries the knobs needed to launch a virtual-display
// chain, decoupled from the rconfig package to avoid an import cycle.
type VncChainSettings struct {
	Resolution          string
	StartupTimeout      time.Duration
	WebAssetsPath       string
}

// VncChain is the ordered set of processes backing one VNC session:
// display server, framebuffer exporter, WS↔TCP adapter (spec §3, §4.2).
type VncChain struct {
	Slot      pool.Slot
	Display   string
	processes []*Process
}

// LaunchVncChain starts the three-step chain in order, gating each step on
// its readiness probe. On any failure it tears down what was started, in
// reverse order, and returns the error; the caller is responsible for
// releasing slot back to the pool.
func LaunchVncChain(ctx context.Context, log logger.Logger, slot pool.Slot, settings VncChainSettings) (*VncChain, error) {
	display := fmt.Sprintf(":%d", slot.Display)
	chain := &VncChain{Slot: slot, Display: display}

	displayProc, err := Spawn(ctx, log, fmt.Sprintf("vnc-display:%d", slot.Display),
		[]string{"Xvfb", display, "-screen", "0", settings.Resolution, "+extension", "RANDR", "-nolisten", "tcp"}, nil)
	if err != nil {
		return nil, fmt.Errorf("starting display server: %w", err)
	}
	chain.processes = append(chain.processes, displayProc)

	socketPath := fmt.Sprintf("/tmp/.X11-unix/X%d", slot.Display)
	if err := WaitForUnixSocket(ctx, displayProc, socketPath, 50*time.Millisecond, settings.StartupTimeout); err != nil {
		chain.teardown(log)
		return nil, err
	}

	fbProc, err := Spawn(ctx, log, fmt.Sprintf("vnc-framebuffer:%d", slot.Display),
		[]string{"x11vnc", "-display", display, "-shared", "-forever", "-rfbport", itoa(slot.RFBPort), "-localhost", "-nopw", "-quiet"}, nil)
	if err != nil {
		chain.teardown(log)
		return nil, fmt.Errorf("starting framebuffer exporter: %w", err)
	}
	chain.processes = append(chain.processes, fbProc)

	if err := WaitForTCP(ctx, fbProc, "127.0.0.1", slot.RFBPort, 100*time.Millisecond, settings.StartupTimeout); err != nil {
		chain.teardown(log)
		return nil, err
	}

	adapterArgv := []string{"websockify", "--web=" + settings.WebAssetsPath, itoa(slot.WSPort), fmt.Sprintf("127.0.0.1:%d", slot.RFBPort)}
	if settings.WebAssetsPath == "" {
		adapterArgv = []string{"websockify", itoa(slot.WSPort), fmt.Sprintf("127.0.0.1:%d", slot.RFBPort)}
	}
	adapterProc, err := Spawn(ctx, log, fmt.Sprintf("vnc-adapter:%d", slot.Display), adapterArgv, nil)
	if err != nil {
		chain.teardown(log)
		return nil, fmt.Errorf("starting ws adapter: %w", err)
	}
	chain.processes = append(chain.processes, adapterProc)

	if err := WaitForTCP(ctx, adapterProc, "127.0.0.1", slot.WSPort, 100*time.Millisecond, settings.StartupTimeout); err != nil {
		chain.teardown(log)
		return nil, err
	}

	return chain, nil
}

// Teardown terminates the chain's processes in reverse launch order and
// cancels their drains (spec §4.2).
func (c *VncChain) Teardown(log logger.Logger) {
	c.teardown(log)
}

func (c *VncChain) teardown(log logger.Logger) {
	for i := len(c.processes) - 1; i >= 0; i-- {
		if err := c.processes[i].Terminate(true); err != nil {
			log.Warn("error terminating vnc chain process", "name", c.processes[i].Name, "error", err)
		}
	}
	c.processes = nil
}

func itoa(n int) string {
	return fmt.Sprintf("%d", n)
}
