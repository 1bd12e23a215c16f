// Package kernels contains the device-side bodies of the elementwise
// activation, quantization and histogram kernels. The scalar math lives
// here once and is shared by every execution tier; launch policy (grids,
// blocks, alignment dispatch) belongs to the ops package.
package kernels

import (
	"math"

	"github.com/flare-ml/flare/internal/device"
	"github.com/flare-ml/flare/internal/float16"
)

// SELU and GELU (tanh approximation) constants.
const (
	SeluScale      = 1.0507009873554804934193349852946
	SeluScaleAlpha = 1.7580993408473768599402175208123
	GeluP1         = 0.7978845608028654
	GeluP3         = 0.044715 * 0.7978845608028654
)

// Relu computes max(0, x), propagating NaN.
func Relu(x float32) float32 {
	if x > 0 || x != x {
		return x
	}
	return 0
}

// ReluGrad passes g through where x > 0. At exactly zero the gradient is
// dropped, so x may be either the op's input or its output.
func ReluGrad(g, x float32) float32 {
	if x > 0 {
		return g
	}
	return 0
}

// Relu6 computes min(6, max(0, x)), propagating NaN.
func Relu6(x float32) float32 {
	if x != x {
		return x
	}
	if x <= 0 {
		return 0
	}
	if x >= 6 {
		return 6
	}
	return x
}

// Relu6Grad passes g through strictly inside (0, 6); both boundaries drop
// the gradient so x may be the op's input or its output.
func Relu6Grad(g, x float32) float32 {
	if x > 0 && x < 6 {
		return g
	}
	return 0
}

// LeakyRelu computes x where x > 0 and alpha*x elsewhere. Alpha is
// unconstrained (it may exceed 1 or be negative), so no max-based shortcut.
func LeakyRelu(x, alpha float32) float32 {
	if x > 0 {
		return x
	}
	return x * alpha
}

// LeakyReluGrad computes g where x > 0 and alpha*g elsewhere.
func LeakyReluGrad(g, x, alpha float32) float32 {
	if x > 0 {
		return g
	}
	return g * alpha
}

// Elu computes x where x >= 0 and exp(x)-1 elsewhere.
func Elu(x float32) float32 {
	if x < 0 {
		return float32(math.Exp(float64(x))) - 1
	}
	return x
}

// EluGrad is parameterized on the forward output y: g where y >= 0,
// g*(y+1) elsewhere.
func EluGrad(g, y float32) float32 {
	if y < 0 {
		return g * (y + 1)
	}
	return g
}

// Selu computes scale*x where x >= 0 and scale_alpha*(exp(x)-1) elsewhere.
func Selu(x float32) float32 {
	if x < 0 {
		return SeluScaleAlpha * (float32(math.Exp(float64(x))) - 1)
	}
	return SeluScale * x
}

// SeluGrad is parameterized on the forward output y: g*scale where y >= 0,
// g*(y+scale_alpha) elsewhere.
func SeluGrad(g, y float32) float32 {
	if y < 0 {
		return g * (y + SeluScaleAlpha)
	}
	return g * SeluScale
}

// Gelu computes the tanh approximation 0.5*x*(1 + tanh(p1*x + p3*x^3)).
func Gelu(x float32) float32 {
	xf := float64(x)
	return float32(0.5 * xf * (1 + math.Tanh(GeluP1*xf+GeluP3*xf*xf*xf)))
}

// GeluGrad is parameterized on the forward input x.
func GeluGrad(g, x float32) float32 {
	gf, xf := float64(g), float64(x)
	z := GeluP1*xf + GeluP3*xf*xf*xf
	cz := 1 / math.Cosh(z)
	return float32(gf * 0.5 * (1 + math.Tanh(z) + xf*(GeluP1+3*GeluP3*xf*xf)*cz*cz))
}

// UnaryF32 wraps a scalar function as a one-element-per-thread kernel.
func UnaryF32(in, out []float32, n int, fn func(float32) float32) device.KernelFunc {
	return func(tid device.ThreadID) {
		i := tid.Global()
		if i >= n {
			return
		}
		out[i] = fn(in[i])
	}
}

// BinaryF32 wraps a (gradient, feature) scalar function as a kernel.
func BinaryF32(grad, feat, out []float32, n int, fn func(g, x float32) float32) device.KernelFunc {
	return func(tid device.ThreadID) {
		i := tid.Global()
		if i >= n {
			return
		}
		out[i] = fn(grad[i], feat[i])
	}
}

// UnaryF16 widens each element to float32, applies fn, and narrows at
// store with round-to-nearest-even.
func UnaryF16(in, out []uint16, n int, fn func(float32) float32) device.KernelFunc {
	return func(tid device.ThreadID) {
		i := tid.Global()
		if i >= n {
			return
		}
		out[i] = float16.FromFloat32(fn(float16.F16(in[i]).Float32())).Bits()
	}
}

// BinaryF16 is the two-input analogue of UnaryF16.
func BinaryF16(grad, feat, out []uint16, n int, fn func(g, x float32) float32) device.KernelFunc {
	return func(tid device.ThreadID) {
		i := tid.Global()
		if i >= n {
			return
		}
		g := float16.F16(grad[i]).Float32()
		x := float16.F16(feat[i]).Float32()
		out[i] = float16.FromFloat32(fn(g, x)).Bits()
	}
}
