package activity

import "sync/atomic"

// Gate is the per-instance pair of one-shot latches guarding Initialize and
// Activate. Latches are never reset: once consumed, an instance will not
// initialize or activate again, even if its roster later changes.
type Gate struct {
	initialized atomic.Bool
	activated   atomic.Bool
}

// TryConsumeInitialize flips the initialize latch and reports whether this
// call was the one that flipped it.
func (g *Gate) TryConsumeInitialize() bool {
	return g.initialized.CompareAndSwap(false, true)
}

// TryConsumeActivate flips the activate latch. It never succeeds before the
// initialize latch has been consumed.
func (g *Gate) TryConsumeActivate() bool {
	if !g.initialized.Load() {
		return false
	}
	return g.activated.CompareAndSwap(false, true)
}

func (g *Gate) Initialized() bool { return g.initialized.Load() }
func (g *Gate) Activated() bool { return g.activated.Load() }
