package ops

import (
	"github.com/flare-ml/flare/internal/device"
	"github.com/flare-ml/flare/internal/float16"
	"github.com/flare-ml/flare/internal/kernels"
	"github.com/flare-ml/flare/internal/tensor"
)

// Thin view-to-slice adapters between launchers and kernel bodies.

// f16Round rounds v through binary16, so scalar parameters of
// half-precision launches match what a half register would hold.
func f16Round(v float32) float32 {
	return float16.FromFloat32(v).Float32()
}

func unaryF32(in, out *tensor.View, n int, fn func(float32) float32) device.KernelFunc {
	return kernels.UnaryF32(in.AsFloat32(), out.AsFloat32(), n, fn)
}

func unaryF16(in, out *tensor.View, n int, fn func(float32) float32) device.KernelFunc {
	return kernels.UnaryF16(in.AsUint16(), out.AsUint16(), n, fn)
}

func binaryF32(grad, feat, out *tensor.View, n int, fn func(g, x float32) float32) device.KernelFunc {
	return kernels.BinaryF32(grad.AsFloat32(), feat.AsFloat32(), out.AsFloat32(), n, fn)
}

func binaryF16(grad, feat, out *tensor.View, n int, fn func(g, x float32) float32) device.KernelFunc {
	return kernels.BinaryF16(grad.AsUint16(), feat.AsUint16(), out.AsUint16(), n, fn)
}
