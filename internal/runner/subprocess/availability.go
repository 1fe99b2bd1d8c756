// SPDX-License-Identifier: LGPL-3.0-or-later

package subprocess

import "os/exec"

// VncToolingAvailable reports whether the binaries the virtual-display
// chain depends on (display server, framebuffer exporter) are present on
// PATH. The WS↔TCP adapter is checked at launch time instead, since its
// absence should fail that one session rather than disable VNC globally.
func VncToolingAvailable() bool {
	for _, bin := range []string{"Xvfb", "x11vnc"} {
		if _, err := exec.LookPath(bin); err != nil {
			return false
		}
	}
	return true
}
