package device

// WarpSize is the number of lanes that execute in lockstep in cooperative
// launches. Shuffle reductions assume this width.
const WarpSize = 64

// Dim3 describes a launch dimension (grid or block extent).
type Dim3 struct {
	X, Y, Z int
}

// D1 returns a one-dimensional Dim3.
func D1(x int) Dim3 {
	return Dim3{X: x, Y: 1, Z: 1}
}

// Count returns the total number of threads the dimension spans.
func (d Dim3) Count() int {
	return d.X * d.Y * d.Z
}

// ThreadID identifies one thread of a launch.
type ThreadID struct {
	ThreadIdx Dim3
	BlockIdx  Dim3
	BlockDim  Dim3
	GridDim   Dim3

	warp *warpCtx
	lane int
}

// Global returns the flat global index of the thread along X.
func (t ThreadID) Global() int {
	return t.BlockIdx.X*t.BlockDim.X + t.ThreadIdx.X
}

// Stride returns the total number of threads in the launch along X,
// the step of a grid-stride loop.
func (t ThreadID) Stride() int {
	return t.GridDim.X * t.BlockDim.X
}

// Lane returns the thread's lane within its warp.
func (t ThreadID) Lane() int {
	return t.ThreadIdx.X % WarpSize
}

// ShflXorU16 exchanges v with the lane whose id differs by mask and returns
// the received value. Valid only inside cooperative launches, and only when
// every lane of the warp reaches the same shuffle in the same order.
func (t ThreadID) ShflXorU16(v uint16, mask int) uint16 {
	if t.warp == nil {
		panic("device: warp shuffle outside a cooperative launch")
	}
	return uint16(t.warp.exchange(t.lane, uint32(v), mask))
}

// KernelFunc is the body of a data-parallel kernel, run once per thread.
type KernelFunc func(tid ThreadID)

// DivUp returns ceil(a / b).
func DivUp(a, b int) int {
	return (a + b - 1) / b
}

// LaunchConfig is the geometry of one kernel launch.
type LaunchConfig struct {
	Grid  Dim3
	Block Dim3
}

// ExactConfig computes a 1-D launch geometry whose grid covers every work
// item with one thread; kernels early-return past the end.
func ExactConfig(work, block int) LaunchConfig {
	grid := DivUp(work, block)
	if grid < 1 {
		grid = 1
	}
	return LaunchConfig{Grid: D1(grid), Block: D1(block)}
}

// FixedBlockConfig computes a 1-D launch geometry for work items with the
// given block size. The grid is capped at the device's maximum, so kernels
// covering large buffers must use a grid-stride loop.
func (d *Device) FixedBlockConfig(work, block int) LaunchConfig {
	grid := DivUp(work, block)
	if grid > d.maxGrid {
		grid = d.maxGrid
	}
	if grid < 1 {
		grid = 1
	}
	return LaunchConfig{Grid: D1(grid), Block: D1(block)}
}
