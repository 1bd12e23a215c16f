package kernels

import (
	"math"
	"sync/atomic"

	"github.com/flare-ml/flare/internal/device"
)

// Exponent-field widths of the two source types.
const (
	ExpBitsF16 = 5
	ExpBitsF32 = 8
)

// FrequenciesF32 counts raw exponent-field values of float32 elements into
// out, which must hold 1<<ExpBitsF32 zero-initialized buckets.
func FrequenciesF32(in []float32, out []int32, n int) device.KernelFunc {
	return frequencies(func(i int) int {
		return int(math.Float32bits(in[i]) >> 23 & 0xFF)
	}, out, n, ExpBitsF32)
}

// FrequenciesF16 counts raw exponent-field values of float16 elements into
// out, which must hold 1<<ExpBitsF16 zero-initialized buckets.
func FrequenciesF16(in []uint16, out []int32, n int) device.KernelFunc {
	return frequencies(func(i int) int {
		return int(in[i] >> 10 & 0x1F)
	}, out, n, ExpBitsF16)
}

// frequencies accumulates per-thread 16-bit partial counts over a
// grid-stride loop, folds them across the warp with a shuffle-xor
// butterfly, then has the surviving lanes publish each bucket with one
// atomic add. Requires a cooperative launch.
func frequencies(expAt func(int) int, out []int32, n, w int) device.KernelFunc {
	buckets := 1 << w
	return func(tid device.ThreadID) {
		counts := make([]uint16, buckets)
		for i := tid.Global(); i < n; i += tid.Stride() {
			counts[expAt(i)]++
		}
		for m := 1; m < device.WarpSize; m *= 2 {
			for j := 0; j < buckets; j++ {
				counts[j] += tid.ShflXorU16(counts[j], m)
			}
		}
		for i := tid.Lane(); i < buckets; i += device.WarpSize {
			atomic.AddInt32(&out[i], int32(counts[i]))
		}
	}
}
