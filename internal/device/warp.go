package device

import "sync"

// warpCtx is the lane-exchange state backing warp shuffles. Lanes of a warp
// run as goroutines; each shuffle is publish, barrier, read, barrier. All
// lanes must reach the same shuffles in the same order (uniform control
// flow), as on real hardware.
type warpCtx struct {
	mu      sync.Mutex
	cond    *sync.Cond
	slots   []uint32
	active  int
	arrived int
	gen     int
}

func newWarpCtx(n int) *warpCtx {
	w := &warpCtx{slots: make([]uint32, n), active: n}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// exchange publishes v for lane, waits for the warp, and returns the value
// published by lane^mask.
func (w *warpCtx) exchange(lane int, v uint32, mask int) uint32 {
	w.mu.Lock()
	w.slots[lane] = v
	w.waitLocked()
	r := w.slots[lane^mask]
	w.waitLocked()
	w.mu.Unlock()
	return r
}

func (w *warpCtx) waitLocked() {
	w.arrived++
	if w.arrived >= w.active {
		w.arrived = 0
		w.gen++
		w.cond.Broadcast()
		return
	}
	g := w.gen
	for w.gen == g {
		w.cond.Wait()
	}
}

// abandon removes a finished lane from the barrier so the remaining lanes
// cannot deadlock waiting for it.
func (w *warpCtx) abandon(_ int) {
	w.mu.Lock()
	w.active--
	if w.arrived >= w.active && w.active > 0 {
		w.arrived = 0
		w.gen++
		w.cond.Broadcast()
	}
	w.mu.Unlock()
}
