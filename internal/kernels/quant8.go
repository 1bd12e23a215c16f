package kernels

import (
	"math"

	"github.com/flare-ml/flare/internal/device"
	"github.com/flare-ml/flare/internal/float16"
	"github.com/flare-ml/flare/internal/fp8"
)

// Quant8FwdF32 casts each float32 element through the narrow format and
// stores the decoded value. With stoch set, the per-element random word is
// derived from the element's bit pattern, its index and the launch seed.
func Quant8FwdF32(in, out []float32, n int, f fp8.Format, stoch bool, seed uint32) device.KernelFunc {
	return func(tid device.ThreadID) {
		i := tid.Global()
		if i >= n {
			return
		}
		var y uint16
		if !stoch {
			y = f.Encode(in[i], false, 0)
		} else {
			rng := fp8.MixRNG(math.Float32bits(in[i]), true, i, seed)
			y = f.Encode(in[i], true, rng)
		}
		out[i] = f.Decode(y)
	}
}

// Quant8FwdF16 is the 16-bit source variant. Widening is exact, and every
// format legal for 16-bit sources decodes to a value binary16 represents
// exactly, so the final narrowing never rounds.
func Quant8FwdF16(in, out []uint16, n int, f fp8.Format, stoch bool, seed uint32) device.KernelFunc {
	return func(tid device.ThreadID) {
		i := tid.Global()
		if i >= n {
			return
		}
		x := float16.F16(in[i]).Float32()
		var y uint16
		if !stoch {
			y = f.Encode(x, false, 0)
		} else {
			rng := fp8.MixRNG(uint32(in[i]), false, i, seed)
			y = f.Encode(x, true, rng)
		}
		out[i] = float16.FromFloat32(f.Decode(y)).Bits()
	}
}

// CopyF32 is the identity backward kernel for 32-bit elements.
func CopyF32(in, out []float32, n int) device.KernelFunc {
	return func(tid device.ThreadID) {
		i := tid.Global()
		if i >= n {
			return
		}
		out[i] = in[i]
	}
}

// CopyU16 is the identity backward kernel for 16-bit elements.
func CopyU16(in, out []uint16, n int) device.KernelFunc {
	return func(tid device.ThreadID) {
		i := tid.Global()
		if i >= n {
			return
		}
		out[i] = in[i]
	}
}
