package ops

import (
	"fmt"

	"github.com/flare-ml/flare/internal/device"
	"github.com/flare-ml/flare/internal/kernels"
	"github.com/flare-ml/flare/internal/tensor"
)

// Frequencies counts the raw exponent-field values of in into out, an
// Int32 view with one bucket per exponent pattern (32 for float16, 256
// for float32). Counts are added to out, so the caller zeroes it before
// the first launch. Runs as a cooperative launch.
func Frequencies(d *device.Device, in, out *tensor.View) error {
	if out.DType() != tensor.Int32 {
		return fmt.Errorf("ops: frequencies: %w: output must be %s, got %s",
			ErrDTypeMismatch, tensor.Int32, out.DType())
	}

	var expBits int
	switch in.DType() {
	case tensor.Float32:
		expBits = kernels.ExpBitsF32
	case tensor.Float16:
		expBits = kernels.ExpBitsF16
	default:
		return fmt.Errorf("ops: frequencies: %w: %s", ErrUnsupportedDType, in.DType())
	}
	if buckets := 1 << expBits; out.Len() != buckets {
		return fmt.Errorf("ops: frequencies: %w: want %d buckets, got %d",
			ErrCountMismatch, buckets, out.Len())
	}

	n := in.Len()
	cfg := d.FixedBlockConfig(n, defaultBlock)
	switch in.DType() {
	case tensor.Float32:
		return d.Stream().LaunchCooperative("frequencies", cfg,
			kernels.FrequenciesF32(in.AsFloat32(), out.AsInt32(), n))
	default:
		return d.Stream().LaunchCooperative("frequencies", cfg,
			kernels.FrequenciesF16(in.AsUint16(), out.AsInt32(), n))
	}
}
