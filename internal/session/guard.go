package session

import "sync/atomic"

// Guard is the fired-once latch shared by every path that can start a
// submission: the proctoring monitor, the countdown and the student.
type Guard struct {
	fired atomic.Bool
}

// TryFire sets the guard and reports whether this call was the one that
// set it.
func (g *Guard) TryFire() bool {
	return g.fired.CompareAndSwap(false, true)
}

func (g *Guard) Fired() bool {
	return g.fired.Load()
}
