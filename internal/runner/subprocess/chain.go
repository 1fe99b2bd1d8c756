// SPDX-License-Identifier: LGPL-3.0-or-later

package subprocess

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"camofleet/internal/dto"
	"camofleet/internal/logger"
	"camofleet/internal/runner/launchconfig"
)

// BrowserServerHandle is a launched browser-automation-server child: its
// single advertised WS endpoint plus the supervising Process.
type BrowserServerHandle struct {
	WSEndpoint string
	Process    *Process
}

// Close terminates the server, waiting up to 5s before escalating to
// kill (spec §4.2).
func (h *BrowserServerHandle) Close() error {
	return h.Process.Terminate(false)
}

// DriverBinaries names the pre-known driver executables the runner
// invokes to launch a browser-automation server.
type DriverBinaries struct {
	Node string
	CLI  string
}

// LaunchBrowserServer composes a JSON launch config, spawns the driver
// with `launch-server --browser=<browser> --config=<path>`, and reads the
// child's first stdout line (the WS endpoint) within launchTimeout. The
// temp config file is removed on every exit path (spec §4.2).
func LaunchBrowserServer(ctx context.Context, log logger.Logger, drivers DriverBinaries, browser string, doc launchconfig.Document, launchTimeout time.Duration) (*BrowserServerHandle, error) {
	path, err := launchconfig.WriteTemp(doc)
	if err != nil {
		return nil, fmt.Errorf("writing launch config: %w", err)
	}
	defer os.Remove(path)

	argv := []string{drivers.Node, drivers.CLI, "launch-server", "--browser=" + browser, "--config=" + path}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	name := "browser-server"
	log.Debug("starting subprocess", "name", name, "argv", argv)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	proc := newProcess(cmd, log, name)

	reader := bufio.NewReader(stdout)
	lineCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			errCh <- err
			return
		}
		lineCh <- line
	}()

	var wsEndpoint string
	select {
	case line := <-lineCh:
		wsEndpoint = strings.TrimSpace(line)
	case <-errCh:
		wsEndpoint = ""
	case <-time.After(launchTimeout):
		wsEndpoint = ""
	}

	if wsEndpoint == "" {
		// Read stderr before the reaper's cmd.Wait closes the pipe.
		_ = cmd.Process.Kill()
		stderrCh := make(chan []byte, 1)
		go func() {
			b, _ := io.ReadAll(stderr)
			stderrCh <- b
		}()
		var stderrBytes []byte
		select {
		case stderrBytes = <-stderrCh:
		case <-time.After(5 * time.Second):
		}
		proc.startReaper()
		_ = proc.Wait()
		return nil, &dto.BrowserLaunchError{
			Code:    proc.ExitCode(),
			Message: strings.TrimSpace(string(stderrBytes)),
		}
	}

	proc.startDrain(reader, name+"-stdout")
	proc.startDrain(stderr, name+"-stderr")
	proc.startReaper()

	return &BrowserServerHandle{WSEndpoint: wsEndpoint, Process: proc}, nil
}
