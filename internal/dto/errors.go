// SPDX-License-Identifier: LGPL-3.0-or-later

package dto

import (
	"errors"
	"fmt"
)

// Sentinel error kinds from spec §7. Every tier maps these to the HTTP
// status codes named there via errors.Is.
var (
	ErrConfigInvalid       = errors.New("config invalid")
	ErrNotFound             = errors.New("session not found")
	ErrVNCUnavailable       = errors.New("vnc unavailable")
	ErrNoCapacity           = errors.New("no capacity")
	ErrUpstreamUnreachable  = errors.New("upstream unreachable")
	ErrShuttingDown         = errors.New("shutdown in progress")
)

// BrowserLaunchError is returned when the browser-server subprocess exits
// or times out before printing its WS endpoint.
type BrowserLaunchError struct {
	Code    int
	Message string
}

func (e *BrowserLaunchError) Error() string {
	return fmt.Sprintf("browser launch failed (code=%d): %s", e.Code, e.Message)
}

