// SPDX-License-Identifier: LGPL-3.0-or-later

package subprocess

import (
	"os"
	"syscall"
)

// exitSignal is the polite-stop signal sent before escalating to kill.
// Virtual-display tooling (Xvfb, x11vnc) is Linux-only, so camofleet
// runners target Linux and SIGTERM is always available.
func exitSignal() os.Signal {
	return syscall.SIGTERM
}
