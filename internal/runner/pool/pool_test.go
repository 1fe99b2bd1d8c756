// SPDX-License-Identifier: LGPL-3.0-or-later

package pool

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camofleet/internal/dto"
)

func newTestPool(t *testing.T) *ResourcePool {
	t.Helper()
	p, err := New(Range{100, 101}, Range{5900, 5901}, Range{6900, 6901})
	require.NoError(t, err)
	return p
}

func TestAcquireReleaseFIFO(t *testing.T) {
	p := newTestPool(t)

	first, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, Slot{100, 5900, 6900}, first)

	second, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, Slot{101, 5901, 6901}, second)

	p.Release(first)

	// Capacity exhausted except the just-released slot would be LIFO;
	// FIFO means it only becomes available again after everything else
	// in the queue (there is nothing else here, so it is next).
	third, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, first, third)
}

func TestAcquireNoCapacity(t *testing.T) {
	p := newTestPool(t)
	_, err := p.Acquire()
	require.NoError(t, err)
	_, err = p.Acquire()
	require.NoError(t, err)

	_, err = p.Acquire()
	assert.True(t, errors.Is(err, dto.ErrNoCapacity))
}

func TestReleaseUnknownSlotIsNoOp(t *testing.T) {
	p := newTestPool(t)
	p.Release(Slot{Display: 999, RFBPort: 1, WSPort: 1})
	assert.Equal(t, 2, p.Stats().DisplaysFree)
}

func TestReleaseIdempotent(t *testing.T) {
	p := newTestPool(t)
	slot, err := p.Acquire()
	require.NoError(t, err)

	p.Release(slot)
	p.Release(slot) // second release of the same slot is a no-op

	stats := p.Stats()
	assert.Equal(t, 2, stats.DisplaysFree)
	assert.Equal(t, 0, stats.Active)
}

func TestNewRejectsInvertedRange(t *testing.T) {
	_, err := New(Range{200, 100}, Range{5900, 5901}, Range{6900, 6901})
	assert.True(t, errors.Is(err, dto.ErrConfigInvalid))
}

func TestNewAcceptsCapacityOfOne(t *testing.T) {
	_, err := New(Range{100, 101}, Range{5900, 5901}, Range{6900, 6900}) // ws span=1, others=2
	require.NoError(t, err) // capacity = min(2,2,1) = 1, still valid

	_, err = New(Range{100, 100}, Range{5900, 5900}, Range{6900, 6900})
	require.NoError(t, err) // capacity exactly 1 is allowed (>= 1 required)
}
