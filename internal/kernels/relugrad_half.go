package kernels

import (
	"github.com/flare-ml/flare/internal/device"
	"github.com/flare-ml/flare/internal/float16"
)

// WideVectorElements is the element width of the vectorized half
// ReLU-gradient kernel: 8 halfs, one 16-byte load per buffer per thread.
const WideVectorElements = 8

// pairReluGrad applies the two-lane mask-and-multiply. The native path
// builds a packed (feature > 0) mask and multiplies it into the gradient;
// the fallback widens each lane to float32, selects, and narrows back.
func pairReluGrad(grad, feat uint32, native bool) uint32 {
	if native {
		return float16.PairMul(float16.PairGtZero(feat), grad)
	}
	return float16.PairSelectGtZero(grad, feat)
}

// scalarHalfReluGrad handles a single trailing element. It mirrors
// pairReluGrad's arithmetic per path so the tail is bit-identical to a
// packed lane: the native mask-multiply keeps the gradient's zero sign,
// the fallback select stores a positive zero.
func scalarHalfReluGrad(grad, feat, out []uint16, i int, native bool) {
	g := float16.F16(grad[i]).Float32()
	x := float16.F16(feat[i]).Float32()
	if native {
		var mask float32
		if x > 0 {
			mask = 1
		}
		out[i] = float16.FromFloat32(mask * g).Bits()
		return
	}
	var b float32
	if x > 0 {
		b = g
	}
	out[i] = float16.FromFloat32(b).Bits()
}

// ReluGradHalfPaired processes the buffers two halfs at a time with a
// grid-stride loop. When n is odd, the first thread whose stride position
// lands exactly past the paired range handles the last element.
func ReluGradHalfPaired(gradW, featW, outW []uint32, grad, feat, out []uint16, n int, native bool) device.KernelFunc {
	half2Count := n >> 1
	return func(tid device.ThreadID) {
		index := tid.Global()
		stride := tid.Stride()
		for ; index < half2Count; index += stride {
			outW[index] = pairReluGrad(gradW[index], featW[index], native)
		}
		if n&1 == 1 && index == half2Count {
			scalarHalfReluGrad(grad, feat, out, n-1, native)
		}
	}
}

// ReluGradHalfWide processes 8 halfs per thread as four packed pairs.
// All three buffers must be 16-byte aligned; the launcher checks. The
// residual n mod 8 elements are handled by the first threads.
func ReluGradHalfWide(gradW, featW, outW []uint32, grad, feat, out []uint16, n int, native bool) device.KernelFunc {
	half8Count := n / WideVectorElements
	remaining := n % WideVectorElements
	return func(tid device.ThreadID) {
		index := tid.Global()
		if index < half8Count {
			base := index * 4
			for i := 0; i < 4; i++ {
				outW[base+i] = pairReluGrad(gradW[base+i], featW[base+i], native)
			}
		}
		if index < remaining {
			scalarHalfReluGrad(grad, feat, out, half8Count*WideVectorElements+index, native)
		}
	}
}
