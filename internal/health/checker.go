package health

import (
	"fmt"
	"sync/atomic"

	"github.com/fakelaghq/fakelag/internal/metrics"
)

const (
	reasonNotBound       = "LISTEN_NOT_BOUND"
	reasonQueueSaturated = "QUEUE_SATURATED"
)

// Checker evaluates readiness conditions for the relay.
type Checker struct {
	metrics  *metrics.Store
	maxDepth int

	bound atomic.Bool
}

// NewChecker constructs a readiness checker bound to the provided metrics
// store. maxDepth mirrors the delay-queue depth cap; zero disables the
// saturation check.
func NewChecker(store *metrics.Store, maxDepth int) *Checker {
	return &Checker{
		metrics:  store,
		maxDepth: maxDepth,
	}
}

// SetBound records that the listening socket is bound.
func (c *Checker) SetBound() {
	c.bound.Store(true)
}

// Ready evaluates all readiness conditions and returns the overall status
// and the reasons for failure.
func (c *Checker) Ready() (bool, []string) {
	reasons := make([]string, 0, 2)

	if !c.bound.Load() {
		reasons = append(reasons, reasonNotBound)
	}

	if c.maxDepth > 0 && c.metrics != nil {
		snap := c.metrics.Snapshot()
		depth := snap.DepthToServer
		if snap.DepthToClient > depth {
			depth = snap.DepthToClient
		}
		if depth >= int64(c.maxDepth) {
			reasons = append(reasons, fmt.Sprintf("%s depth=%d cap=%d", reasonQueueSaturated, depth, c.maxDepth))
		}
	}

	return len(reasons) == 0, reasons
}
