package ops

import (
	"fmt"
	"sync/atomic"

	"github.com/flare-ml/flare/internal/device"
	"github.com/flare-ml/flare/internal/fp8"
	"github.com/flare-ml/flare/internal/kernels"
	"github.com/flare-ml/flare/internal/tensor"
)

// QuantConfig selects the narrow-float format and rounding mode of a
// Quant8 cast.
type QuantConfig struct {
	// W1 and W2 are the exponent and mantissa widths of the target
	// format. Legal pairs are w1 in {4, 5, 8} and w2 in {1, 2, 3}.
	W1, W2 int

	// Stoch selects stochastic rounding; Seed perturbs its random
	// sequence. With Stoch false the cast rounds to nearest, ties to
	// even, and Seed is ignored.
	Stoch bool
	Seed  uint32

	// Dynamic is accepted for configuration compatibility and has no
	// effect on the computation.
	Dynamic bool
}

func (c QuantConfig) validate() error {
	if (c.W1 != 4 && c.W1 != 5 && c.W1 != 8) || c.W2 < 1 || c.W2 > 3 {
		return fmt.Errorf("ops: quant8: %w: w1=%d w2=%d", ErrBadFormat, c.W1, c.W2)
	}
	return nil
}

// format resolves the effective encoding for a source type. An 8-bit
// exponent request on half-precision sources is clamped to the 5 exponent
// bits binary16 actually carries.
func (c QuantConfig) format(dt tensor.DataType) fp8.Format {
	we := c.W1
	if dt == tensor.Float16 && we == 8 {
		we = 5
	}
	return fp8.Format{We: we, Wm: c.W2}
}

// float32Warnings rate-limits the precision advisory below.
var float32Warnings atomic.Int64

// Quant8Fwd casts every element of in through the configured narrow
// format and stores the decoded result in out. The cast is a pure
// function of each element, the element index, and the seed.
func Quant8Fwd(d *device.Device, in, out *tensor.View, cfg QuantConfig) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	if err := checkPair("quant8_fwd", in, out); err != nil {
		return err
	}
	n := in.Len()
	if n == 0 {
		return nil
	}

	f := cfg.format(in.DType())
	d.Logger().Debug("quant8 cast",
		"we", f.We, "wm", f.Wm, "stoch", cfg.Stoch,
		"exp_low_cutoff", expLowCutoff(in.DType(), f))

	lc := device.ExactConfig(n, defaultBlock)
	switch in.DType() {
	case tensor.Float32:
		if float32Warnings.Add(1) <= 10 {
			d.Logger().Warn("quant8 on float32 input; casts are emulated at float32 precision, prefer float16 sources")
		}
		return d.Stream().Launch("quant8_fwd", lc,
			kernels.Quant8FwdF32(in.AsFloat32(), out.AsFloat32(), n, f, cfg.Stoch, cfg.Seed))
	case tensor.Float16:
		return d.Stream().Launch("quant8_fwd", lc,
			kernels.Quant8FwdF16(in.AsUint16(), out.AsUint16(), n, f, cfg.Stoch, cfg.Seed))
	default:
		return fmt.Errorf("ops: quant8_fwd: %w: %s", ErrUnsupportedDType, in.DType())
	}
}

// Quant8Bwd is the straight-through gradient of the cast: it copies
// gradients to backprops unchanged.
func Quant8Bwd(d *device.Device, gradients, backprops *tensor.View) error {
	if err := checkPair("quant8_bwd", gradients, backprops); err != nil {
		return err
	}
	n := gradients.Len()
	if n == 0 {
		return nil
	}
	lc := device.ExactConfig(n, defaultBlock)
	switch gradients.DType() {
	case tensor.Float32:
		return d.Stream().Launch("quant8_bwd", lc,
			kernels.CopyF32(gradients.AsFloat32(), backprops.AsFloat32(), n))
	case tensor.Float16:
		return d.Stream().Launch("quant8_bwd", lc,
			kernels.CopyU16(gradients.AsUint16(), backprops.AsUint16(), n))
	default:
		return fmt.Errorf("ops: quant8_bwd: %w: %s", ErrUnsupportedDType, gradients.DType())
	}
}

// expLowCutoff is the smallest source exponent-field value that still maps
// onto the narrow format's normal range. Reported for diagnostics.
func expLowCutoff(dt tensor.DataType, f fp8.Format) int {
	srcExpBits := kernels.ExpBitsF32
	if dt == tensor.Float16 {
		srcExpBits = kernels.ExpBitsF16
	}
	return 1<<(srcExpBits-1) - 1<<(f.We-1) + 1
}
