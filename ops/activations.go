package ops

import (
	"fmt"

	"github.com/flare-ml/flare/internal/device"
	"github.com/flare-ml/flare/internal/kernels"
	"github.com/flare-ml/flare/internal/tensor"
)

// Relu computes activations = max(0, features), propagating NaN. Float32
// and float16 take the elementwise path; packed int8 takes the four-lane
// word kernel.
func Relu(d *device.Device, features, activations *tensor.View) error {
	if features.DType() == tensor.Int8 {
		return reluInt8(d, features, activations)
	}
	return launchUnary(d, "relu", features, activations, defaultBlock, kernels.Relu)
}

// ReluGrad computes backprops = gradients gated on features > 0. The
// features view may hold either the forward input or output. Float16
// buffers are routed to the specialized paired/wide kernels.
func ReluGrad(d *device.Device, gradients, features, backprops *tensor.View) error {
	if gradients.DType() == tensor.Float16 && features.DType() == tensor.Float16 {
		return reluGradHalf(d, gradients, features, backprops)
	}
	return launchBinary(d, "relu_grad", gradients, features, backprops, defaultBlock, kernels.ReluGrad)
}

// Relu6 computes activations = min(6, max(0, features)), propagating NaN.
func Relu6(d *device.Device, features, activations *tensor.View) error {
	return launchUnary(d, "relu6", features, activations, defaultBlock, kernels.Relu6)
}

// Relu6Grad gates gradients on 0 < features < 6; both boundaries drop the
// gradient so features may be the forward input or output.
func Relu6Grad(d *device.Device, gradients, features, backprops *tensor.View) error {
	return launchBinary(d, "relu6_grad", gradients, features, backprops, defaultBlock, kernels.Relu6Grad)
}

// LeakyRelu computes features where positive and alpha*features elsewhere.
// Alpha is unconstrained in sign and magnitude.
func LeakyRelu(d *device.Device, features, activations *tensor.View, alpha float32) error {
	a := scalarForDType(features.DType(), alpha)
	return launchUnary(d, "leaky_relu", features, activations, defaultBlock, func(x float32) float32 {
		return kernels.LeakyRelu(x, a)
	})
}

// LeakyReluGrad computes gradients where features > 0 and alpha*gradients
// elsewhere.
func LeakyReluGrad(d *device.Device, gradients, features, backprops *tensor.View, alpha float32) error {
	a := scalarForDType(gradients.DType(), alpha)
	return launchBinary(d, "leaky_relu_grad", gradients, features, backprops, defaultBlock, func(g, x float32) float32 {
		return kernels.LeakyReluGrad(g, x, a)
	})
}

// Elu computes features where non-negative and exp(features)-1 elsewhere.
func Elu(d *device.Device, features, activations *tensor.View) error {
	return launchUnary(d, "elu", features, activations, defaultBlock, kernels.Elu)
}

// EluGrad takes the forward *outputs* as its second operand.
func EluGrad(d *device.Device, gradients, activations, backprops *tensor.View) error {
	return launchBinary(d, "elu_grad", gradients, activations, backprops, defaultBlock, kernels.EluGrad)
}

// Selu computes the scaled exponential linear unit.
func Selu(d *device.Device, features, activations *tensor.View) error {
	return launchUnary(d, "selu", features, activations, defaultBlock, kernels.Selu)
}

// SeluGrad takes the forward *outputs* as its second operand.
func SeluGrad(d *device.Device, gradients, activations, backprops *tensor.View) error {
	return launchBinary(d, "selu_grad", gradients, activations, backprops, defaultBlock, kernels.SeluGrad)
}

// Gelu computes the tanh-approximation GELU. Half-precision inputs are
// promoted to float32 internally and narrowed at store.
func Gelu(d *device.Device, features, activations *tensor.View) error {
	return launchUnary(d, "gelu", features, activations, defaultBlock, kernels.Gelu)
}

// GeluGrad takes the forward *inputs* as its second operand.
func GeluGrad(d *device.Device, gradients, features, backprops *tensor.View) error {
	return launchBinary(d, "gelu_grad", gradients, features, backprops, defaultBlock, kernels.GeluGrad)
}

// scalarForDType rounds a scalar parameter through the buffer's element
// type, so a float16 launch sees the same alpha a half-precision device
// register would hold.
func scalarForDType(dt tensor.DataType, v float32) float32 {
	if dt == tensor.Float16 {
		return f16Round(v)
	}
	return v
}

// reluGradHalf picks the vector tier by alignment: all three buffers on a
// 16-byte boundary take the 8-wide kernel, on a 4-byte boundary the paired
// one. Wrapped buffers sitting on a bare element boundary cannot be
// lane-paired and take the generic elementwise kernel.
func reluGradHalf(d *device.Device, gradients, features, backprops *tensor.View) error {
	if err := checkTriple("relu_grad_half", gradients, features, backprops); err != nil {
		return err
	}
	n := gradients.Len()
	if n == 0 {
		return nil
	}
	if !gradients.Aligned(4) || !features.Aligned(4) || !backprops.Aligned(4) {
		return launchBinary(d, "relu_grad", gradients, features, backprops, defaultBlock, kernels.ReluGrad)
	}

	gw, fw, bw := gradients.Words(), features.Words(), backprops.Words()
	g16, f16s, b16 := gradients.AsUint16(), features.AsUint16(), backprops.AsUint16()
	native := d.HasHalf2()

	aligned := gradients.Aligned(16) && features.Aligned(16) && backprops.Aligned(16)
	if aligned {
		work := device.DivUp(n, kernels.WideVectorElements)
		cfg := device.ExactConfig(work, halfBlock)
		return d.Stream().Launch("relu_grad_half_wide", cfg,
			kernels.ReluGradHalfWide(gw, fw, bw, g16, f16s, b16, n, native))
	}
	cfg := d.FixedBlockConfig(device.DivUp(n, 2), halfBlock)
	return d.Stream().Launch("relu_grad_half", cfg,
		kernels.ReluGradHalfPaired(gw, fw, bw, g16, f16s, b16, n, native))
}

// reluInt8 runs the packed four-lane kernel over 32-bit words. The byte
// length must be word-granular and word-aligned; the allocator guarantees
// both, wrapped buffers are re-checked.
func reluInt8(d *device.Device, features, activations *tensor.View) error {
	if err := checkPair("relu_int8", features, activations); err != nil {
		return err
	}
	n := features.Len()
	if n == 0 {
		return nil
	}
	if !features.Aligned(4) || !activations.Aligned(4) {
		return fmt.Errorf("ops: relu_int8: %w: buffers must be 32-bit aligned", ErrMisaligned)
	}
	vectCount := device.DivUp(n, 4)
	in, out := features.Words(), activations.Words()
	if len(in) < vectCount || len(out) < vectCount {
		return fmt.Errorf("ops: relu_int8: %w: byte size must be padded to a multiple of 4", ErrMisaligned)
	}
	cfg := d.FixedBlockConfig(vectCount, halfBlock)
	return d.Stream().Launch("relu_int8x4", cfg, kernels.ReluInt8x4(in, out, vectCount))
}
