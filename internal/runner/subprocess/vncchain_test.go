// SPDX-License-Identifier: LGPL-3.0-or-later

package subprocess

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camofleet/internal/runner/pool"
)

func TestLaunchVncChainFailsWhenDisplayServerMissing(t *testing.T) {
	slot := pool.Slot{Display: 199, RFBPort: 15900, WSPort: 16900}
	settings := VncChainSettings{Resolution: "1024x768x24", StartupTimeout: 200 * time.Millisecond}

	_, err := LaunchVncChain(context.Background(), testLogger(), slot, settings)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "display server")
}

func TestItoa(t *testing.T) {
	assert.Equal(t, "5900", itoa(5900))
}
