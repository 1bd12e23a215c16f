// Package ops exposes the operator-level surface of the kernel library:
// one launcher per operator. Launchers validate buffer views, compute
// launch geometry, select a kernel specialization and enqueue it on the
// device stream. Configuration errors are synchronous; execution errors
// surface at device.Synchronize.
package ops

import (
	"errors"
	"fmt"

	"github.com/flare-ml/flare/internal/device"
	"github.com/flare-ml/flare/internal/tensor"
)

// Launch-policy block sizes (threads per block).
const (
	defaultBlock = 256 // Gelu, GeluGrad, Quant8 and the other elementwise ops
	halfBlock    = 512 // half ReLU-gradient tiers and packed int8 ReLU
)

// Synchronous configuration errors.
var (
	ErrUnsupportedDType = errors.New("unsupported dtype")
	ErrCountMismatch    = errors.New("element count mismatch")
	ErrDTypeMismatch    = errors.New("dtype mismatch")
	ErrMisaligned       = errors.New("misaligned buffer")
	ErrBadFormat        = errors.New("unsupported narrow-float format")
)

// checkPair validates that two views describe compatible buffers.
func checkPair(op string, a, b *tensor.View) error {
	if a.Len() != b.Len() {
		return fmt.Errorf("ops: %s: %w: %d vs %d", op, ErrCountMismatch, a.Len(), b.Len())
	}
	if a.DType() != b.DType() {
		return fmt.Errorf("ops: %s: %w: %s vs %s", op, ErrDTypeMismatch, a.DType(), b.DType())
	}
	return nil
}

func checkTriple(op string, a, b, c *tensor.View) error {
	if err := checkPair(op, a, b); err != nil {
		return err
	}
	return checkPair(op, b, c)
}

// launchUnary dispatches a unary elementwise op over float32 or float16
// with an exactly-sized grid; kernels early-return past n.
func launchUnary(d *device.Device, op string, in, out *tensor.View, block int, fn func(float32) float32) error {
	if err := checkPair(op, in, out); err != nil {
		return err
	}
	n := in.Len()
	if n == 0 {
		return nil
	}
	cfg := device.ExactConfig(n, block)
	switch in.DType() {
	case tensor.Float32:
		return d.Stream().Launch(op, cfg, unaryF32(in, out, n, fn))
	case tensor.Float16:
		return d.Stream().Launch(op, cfg, unaryF16(in, out, n, fn))
	default:
		return fmt.Errorf("ops: %s: %w: %s", op, ErrUnsupportedDType, in.DType())
	}
}

// launchBinary dispatches a (gradients, features) elementwise op.
func launchBinary(d *device.Device, op string, grad, feat, out *tensor.View, block int, fn func(g, x float32) float32) error {
	if err := checkTriple(op, grad, feat, out); err != nil {
		return err
	}
	n := grad.Len()
	if n == 0 {
		return nil
	}
	cfg := device.ExactConfig(n, block)
	switch grad.DType() {
	case tensor.Float32:
		return d.Stream().Launch(op, cfg, binaryF32(grad, feat, out, n, fn))
	case tensor.Float16:
		return d.Stream().Launch(op, cfg, binaryF16(grad, feat, out, n, fn))
	default:
		return fmt.Errorf("ops: %s: %w: %s", op, ErrUnsupportedDType, grad.DType())
	}
}
