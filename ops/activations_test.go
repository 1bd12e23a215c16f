package ops

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flare-ml/flare/internal/device"
	"github.com/flare-ml/flare/internal/float16"
	"github.com/flare-ml/flare/internal/kernels"
	"github.com/flare-ml/flare/internal/tensor"
)

func newF32(t *testing.T, vals []float32) *tensor.View {
	t.Helper()
	v, err := tensor.New(tensor.Float32, len(vals))
	require.NoError(t, err)
	copy(v.AsFloat32(), vals)
	return v
}

func newF16(t *testing.T, bits []uint16) *tensor.View {
	t.Helper()
	v, err := tensor.New(tensor.Float16, len(bits))
	require.NoError(t, err)
	copy(v.AsUint16(), bits)
	return v
}

func randomF32(rng *rand.Rand, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(rng.NormFloat64() * 4)
	}
	out[0] = 0
	if n > 3 {
		out[1] = float32(math.NaN())
		out[2] = float32(math.Inf(1))
		out[3] = float32(math.Inf(-1))
	}
	return out
}

func TestUnaryOpsMatchScalarReference(t *testing.T) {
	d := device.New()
	rng := rand.New(rand.NewSource(3))
	src := randomF32(rng, 2000)

	tests := []struct {
		name   string
		launch func(d *device.Device, in, out *tensor.View) error
		ref    func(float32) float32
	}{
		{"relu", Relu, kernels.Relu},
		{"relu6", Relu6, kernels.Relu6},
		{"elu", Elu, kernels.Elu},
		{"selu", Selu, kernels.Selu},
		{"gelu", Gelu, kernels.Gelu},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := newF32(t, src)
			out := newF32(t, make([]float32, len(src)))
			require.NoError(t, tt.launch(d, in, out))
			require.NoError(t, d.Synchronize())
			for i, x := range src {
				want := tt.ref(x)
				got := out.AsFloat32()[i]
				if math.IsNaN(float64(want)) {
					require.True(t, math.IsNaN(float64(got)), "element %d input %g", i, x)
					continue
				}
				require.Equal(t, want, got, "element %d input %g", i, x)
			}
		})
	}
}

func TestBinaryOpsMatchScalarReference(t *testing.T) {
	d := device.New()
	rng := rand.New(rand.NewSource(5))
	grads := randomF32(rng, 1500)
	feats := randomF32(rng, 1500)

	tests := []struct {
		name   string
		launch func(d *device.Device, g, x, out *tensor.View) error
		ref    func(g, x float32) float32
	}{
		{"relu_grad", ReluGrad, kernels.ReluGrad},
		{"relu6_grad", Relu6Grad, kernels.Relu6Grad},
		{"elu_grad", EluGrad, kernels.EluGrad},
		{"selu_grad", SeluGrad, kernels.SeluGrad},
		{"gelu_grad", GeluGrad, kernels.GeluGrad},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newF32(t, grads)
			x := newF32(t, feats)
			out := newF32(t, make([]float32, len(grads)))
			require.NoError(t, tt.launch(d, g, x, out))
			require.NoError(t, d.Synchronize())
			for i := range grads {
				want := tt.ref(grads[i], feats[i])
				got := out.AsFloat32()[i]
				if math.IsNaN(float64(want)) {
					require.True(t, math.IsNaN(float64(got)), "element %d", i)
					continue
				}
				require.Equal(t, want, got, "element %d grad %g feat %g", i, grads[i], feats[i])
			}
		})
	}
}

func TestLeakyReluAlpha(t *testing.T) {
	d := device.New()
	in := newF32(t, []float32{-4, -1, 0, 1, 4})
	out := newF32(t, make([]float32, 5))

	require.NoError(t, LeakyRelu(d, in, out, 0.25))
	require.NoError(t, d.Synchronize())
	assert.Equal(t, []float32{-1, -0.25, 0, 1, 4}, out.AsFloat32())

	// Alpha above one amplifies the negative side rather than damping it.
	require.NoError(t, LeakyRelu(d, in, out, 2))
	require.NoError(t, d.Synchronize())
	assert.Equal(t, []float32{-8, -2, 0, 1, 4}, out.AsFloat32())

	g := newF32(t, []float32{1, 1, 1, 1, 1})
	require.NoError(t, LeakyReluGrad(d, g, in, out, 0.25))
	require.NoError(t, d.Synchronize())
	assert.Equal(t, []float32{0.25, 0.25, 0.25, 1, 1}, out.AsFloat32())
}

func TestReluIdempotent(t *testing.T) {
	// Applying the rectifier to its own output changes nothing, exactly.
	d := device.New()
	rng := rand.New(rand.NewSource(11))
	src := randomF32(rng, 500)

	in := newF32(t, src)
	once := newF32(t, make([]float32, len(src)))
	twice := newF32(t, make([]float32, len(src)))

	require.NoError(t, Relu(d, in, once))
	require.NoError(t, Relu(d, once, twice))
	require.NoError(t, d.Synchronize())

	for i := range src {
		a := once.AsFloat32()[i]
		b := twice.AsFloat32()[i]
		if math.IsNaN(float64(a)) {
			require.True(t, math.IsNaN(float64(b)), "element %d", i)
			continue
		}
		require.Equal(t, a, b, "element %d input %g", i, src[i])
	}
}

func TestLeakyReluPositiveHomogeneity(t *testing.T) {
	// Scaling the input by a non-negative constant commutes with the
	// activation; power-of-two scales keep the comparison exact.
	d := device.New()
	src := []float32{-6, -0.75, 0, 0.375, 2, 100}
	const alpha = 0.25

	base := newF32(t, src)
	baseOut := newF32(t, make([]float32, len(src)))
	require.NoError(t, LeakyRelu(d, base, baseOut, alpha))
	require.NoError(t, d.Synchronize())

	for _, c := range []float32{0, 0.5, 2, 8} {
		scaled := make([]float32, len(src))
		for i, x := range src {
			scaled[i] = c * x
		}
		out := newF32(t, make([]float32, len(src)))
		require.NoError(t, LeakyRelu(d, newF32(t, scaled), out, alpha))
		require.NoError(t, d.Synchronize())
		for i := range src {
			require.Equal(t, c*baseOut.AsFloat32()[i], out.AsFloat32()[i], "c=%g element %d", c, i)
		}
	}
}

func TestHalfPrecisionForwardNarrowsAtStore(t *testing.T) {
	d := device.New()
	bits := []uint16{
		float16.FromFloat32(-2).Bits(),
		float16.FromFloat32(0.5).Bits(),
		float16.FromFloat32(3.25).Bits(),
		float16.FromFloat32(-0.001).Bits(),
		0x7C00, // +Inf
	}
	in := newF16(t, bits)
	out := newF16(t, make([]uint16, len(bits)))

	require.NoError(t, Gelu(d, in, out))
	require.NoError(t, d.Synchronize())

	for i, b := range bits {
		want := float16.FromFloat32(kernels.Gelu(float16.F16(b).Float32())).Bits()
		require.Equal(t, want, out.AsUint16()[i], "element %d", i)
	}
}

// wrapUnaligned returns a view over the same count whose base is 4-byte
// but not 16-byte aligned.
func wrapUnaligned(t *testing.T, n int) *tensor.View {
	t.Helper()
	backing, err := tensor.New(tensor.Float16, n+8)
	require.NoError(t, err)
	v, err := tensor.Wrap(backing.Data()[4:], tensor.Float16, n)
	require.NoError(t, err)
	require.False(t, v.Aligned(16))
	require.True(t, v.Aligned(4))
	return v
}

func TestReluGradHalfTierDispatchAgree(t *testing.T) {
	d := device.New()
	rng := rand.New(rand.NewSource(17))

	for _, n := range []int{8, 15, 1024, 1027} {
		bits := make([]uint16, n)
		gbits := make([]uint16, n)
		for i := range bits {
			bits[i] = uint16(rng.Intn(0x7C00)) | uint16(rng.Intn(2))<<15
			gbits[i] = uint16(rng.Intn(0x7C00)) | uint16(rng.Intn(2))<<15
		}

		grad, feat := newF16(t, gbits), newF16(t, bits)
		outWide := newF16(t, make([]uint16, n))
		require.NoError(t, ReluGrad(d, grad, feat, outWide))

		gradU, featU := wrapUnaligned(t, n), wrapUnaligned(t, n)
		copy(gradU.AsUint16(), gbits)
		copy(featU.AsUint16(), bits)
		outPaired := wrapUnaligned(t, n)
		require.NoError(t, ReluGrad(d, gradU, featU, outPaired))

		require.NoError(t, d.Synchronize())
		require.Equal(t, outWide.AsUint16(), outPaired.AsUint16(), "n=%d", n)
	}
}

// wrapOddWord returns a view on a 2-byte but not 4-byte boundary, the
// weakest base Wrap permits for float16 elements.
func wrapOddWord(t *testing.T, n int) *tensor.View {
	t.Helper()
	backing, err := tensor.New(tensor.Float16, n+8)
	require.NoError(t, err)
	v, err := tensor.Wrap(backing.Data()[2:], tensor.Float16, n)
	require.NoError(t, err)
	require.False(t, v.Aligned(4))
	require.True(t, v.Aligned(2))
	return v
}

func TestReluGradHalfElementAlignedBuffers(t *testing.T) {
	// Buffers that cannot be lane-paired still compute correct gradients
	// through the elementwise path.
	d := device.New()
	rng := rand.New(rand.NewSource(31))

	const n = 11
	bits := make([]uint16, n)
	gbits := make([]uint16, n)
	for i := range bits {
		bits[i] = uint16(rng.Intn(0x7C00)) | uint16(rng.Intn(2))<<15
		gbits[i] = uint16(rng.Intn(0x7C00)) | uint16(rng.Intn(2))<<15
	}

	grad, feat, out := wrapOddWord(t, n), wrapOddWord(t, n), wrapOddWord(t, n)
	copy(grad.AsUint16(), gbits)
	copy(feat.AsUint16(), bits)

	require.NoError(t, ReluGrad(d, grad, feat, out))
	require.NoError(t, d.Synchronize())

	for i := range bits {
		g := float16.F16(gbits[i]).Float32()
		x := float16.F16(bits[i]).Float32()
		want := float16.FromFloat32(kernels.ReluGrad(g, x)).Bits()
		require.Equal(t, want, out.AsUint16()[i], "element %d grad %g feat %g", i, g, x)
	}
}

func TestReluGradHalfFallbackDevice(t *testing.T) {
	// A device without packed-half support takes the widening path and
	// computes the same numbers.
	native := device.New()
	fallback := device.New(device.WithHalf2(false))

	bits := []uint16{
		float16.FromFloat32(-1).Bits(),
		float16.FromFloat32(2).Bits(),
		float16.FromFloat32(0).Bits(),
		float16.FromFloat32(0.125).Bits(),
	}
	gbits := []uint16{
		float16.FromFloat32(0.5).Bits(),
		float16.FromFloat32(0.5).Bits(),
		float16.FromFloat32(-3).Bits(),
		float16.FromFloat32(-3).Bits(),
	}

	outA := newF16(t, make([]uint16, len(bits)))
	require.NoError(t, ReluGrad(native, newF16(t, gbits), newF16(t, bits), outA))
	require.NoError(t, native.Synchronize())

	outB := newF16(t, make([]uint16, len(bits)))
	require.NoError(t, ReluGrad(fallback, newF16(t, gbits), newF16(t, bits), outB))
	require.NoError(t, fallback.Synchronize())

	for i := range bits {
		a := float16.F16(outA.AsUint16()[i]).Float32()
		b := float16.F16(outB.AsUint16()[i]).Float32()
		require.Equal(t, a, b, "element %d", i)
	}
}

func TestReluInt8Packed(t *testing.T) {
	d := device.New()
	rng := rand.New(rand.NewSource(23))

	const n = 1021 // not a multiple of the four-lane word
	in, err := tensor.New(tensor.Int8, n)
	require.NoError(t, err)
	out, err := tensor.New(tensor.Int8, n)
	require.NoError(t, err)
	for i := range in.AsInt8() {
		in.AsInt8()[i] = int8(rng.Intn(256) - 128)
	}

	require.NoError(t, Relu(d, in, out))
	require.NoError(t, d.Synchronize())

	for i, x := range in.AsInt8() {
		want := x
		if x < 0 {
			want = 0
		}
		require.Equal(t, want, out.AsInt8()[i], "element %d", i)
	}
}

func TestReluInt8RejectsMisaligned(t *testing.T) {
	d := device.New()
	backing, err := tensor.New(tensor.Int8, 64)
	require.NoError(t, err)
	in, err := tensor.Wrap(backing.Data()[2:34], tensor.Int8, 32)
	require.NoError(t, err)
	out, err := tensor.New(tensor.Int8, 32)
	require.NoError(t, err)

	err = Relu(d, in, out)
	require.ErrorIs(t, err, ErrMisaligned)
}

func TestValidationErrors(t *testing.T) {
	d := device.New()
	a := newF32(t, make([]float32, 8))
	b := newF32(t, make([]float32, 9))
	require.ErrorIs(t, Relu(d, a, b), ErrCountMismatch)

	h := newF16(t, make([]uint16, 8))
	require.ErrorIs(t, Relu(d, a, h), ErrDTypeMismatch)

	i32, err := tensor.New(tensor.Int32, 8)
	require.NoError(t, err)
	j32, err := tensor.New(tensor.Int32, 8)
	require.NoError(t, err)
	require.ErrorIs(t, Relu(d, i32, j32), ErrUnsupportedDType)
}

func TestZeroLengthIsNoOp(t *testing.T) {
	d := device.New()
	a := newF32(t, nil)
	b := newF32(t, nil)
	require.NoError(t, Relu(d, a, b))
	require.NoError(t, ReluGrad(d, a, a, b))
	require.NoError(t, Gelu(d, a, b))
	require.NoError(t, d.Synchronize())
}
