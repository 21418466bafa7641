// Package clock implements the hybrid logical clock and id helpers that
// every other sync component (C2-C8) relies on for causal ordering across
// devices with skewed wall clocks (C1).
package clock

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// HLC is a hybrid logical timestamp: physical time in milliseconds since the
// epoch, combined with a logical counter that breaks ties and advances
// causally when two events share a millisecond.
type HLC struct {
	Physical int64 `json:"physical"`
	Logical  uint32 `json:"logical"`
}

// Compare returns -1, 0, or 1 as h sorts before, equal to, or after o.
func (h HLC) Compare(o HLC) int {
	switch {
	case h.Physical < o.Physical:
		return -1
	case h.Physical > o.Physical:
		return 1
	case h.Logical < o.Logical:
		return -1
	case h.Logical > o.Logical:
		return 1
	default:
		return 0
	}
}

// Before reports whether h strictly precedes o.
func (h HLC) Before(o HLC) bool { return h.Compare(o) < 0 }

// String renders the HLC as "<physical>.<logical>" for logs and wire frames.
func (h HLC) String() string {
	return fmt.Sprintf("%d.%d", h.Physical, h.Logical)
}

// Clock generates monotonically advancing HLC values for one process (a
// device or the server handling one owner). It is safe for concurrent use.
type Clock struct {
	mu      sync.Mutex
	last    HLC
	nowFunc func() time.Time
}

// New returns a Clock that reads wall time from time.Now.
func New() *Clock {
	return &Clock{nowFunc: time.Now}
}

// NewWithSource is used by tests to control the wall-clock source.
func NewWithSource(now func() time.Time) *Clock {
	return &Clock{nowFunc: now}
}

// Now produces a new HLC for a local event. If wall time has not advanced
// past the last timestamp, the logical counter increments instead.
func (c *Clock) Now() HLC {
	c.mu.Lock()
	defer c.mu.Unlock()

	physical := c.nowFunc().UnixMilli()
	if physical > c.last.Physical {
		c.last = HLC{Physical: physical, Logical: 0}
	} else {
		c.last.Logical++
	}
	return c.last
}

// Observe merges a received remote HLC into the clock before producing a new
// local timestamp, preserving causality: the result is guaranteed to be
// strictly greater than both the clock's prior state and the remote value.
func (c *Clock) Observe(remote HLC) HLC {
	c.mu.Lock()
	defer c.mu.Unlock()

	physical := c.nowFunc().UnixMilli()
	max := c.last
	if remote.Compare(max) > 0 {
		max = remote
	}

	switch {
	case physical > max.Physical:
		c.last = HLC{Physical: physical, Logical: 0}
	default:
		c.last = HLC{Physical: max.Physical, Logical: max.Logical + 1}
	}
	return c.last
}

// NewDeviceID returns an opaque, globally unique device identifier. Devices
// persist this locally across restarts; the server never assigns it.
func NewDeviceID() string { return uuid.NewString() }

// NewSessionID returns an opaque identifier for one live connection.
func NewSessionID() string { return uuid.NewString() }

// NewBatchID returns an opaque identifier for one PUSH batch.
func NewBatchID() string { return uuid.NewString() }
