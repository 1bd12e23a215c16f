package ops

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flare-ml/flare/internal/device"
	"github.com/flare-ml/flare/internal/float16"
	"github.com/flare-ml/flare/internal/fp8"
	"github.com/flare-ml/flare/internal/tensor"
)

func TestQuantRejectsBadFormats(t *testing.T) {
	d := device.New()
	in := newF32(t, make([]float32, 4))
	out := newF32(t, make([]float32, 4))

	for _, cfg := range []QuantConfig{
		{W1: 3, W2: 2},
		{W1: 6, W2: 2},
		{W1: 4, W2: 0},
		{W1: 4, W2: 4},
		{W1: 0, W2: 0},
	} {
		require.ErrorIs(t, Quant8Fwd(d, in, out, cfg), ErrBadFormat, "w1=%d w2=%d", cfg.W1, cfg.W2)
	}

	for _, cfg := range []QuantConfig{
		{W1: 4, W2: 1}, {W1: 4, W2: 2}, {W1: 4, W2: 3},
		{W1: 5, W2: 1}, {W1: 5, W2: 2}, {W1: 5, W2: 3},
		{W1: 8, W2: 1}, {W1: 8, W2: 2}, {W1: 8, W2: 3},
	} {
		require.NoError(t, Quant8Fwd(d, in, out, cfg), "w1=%d w2=%d", cfg.W1, cfg.W2)
	}
	require.NoError(t, d.Synchronize())
}

func TestQuantRoundsToNearestEven(t *testing.T) {
	d := device.New()
	in := newF32(t, []float32{1.0625, 1.1875, 1.05, 1.07, -1.0625})
	out := newF32(t, make([]float32, 5))

	require.NoError(t, Quant8Fwd(d, in, out, QuantConfig{W1: 4, W2: 3}))
	require.NoError(t, d.Synchronize())
	assert.Equal(t, []float32{1.0, 1.25, 1.0, 1.125, -1.0}, out.AsFloat32())
}

func TestQuantGridValuesUnchanged(t *testing.T) {
	d := device.New()
	f := fp8.Format{We: 5, Wm: 2}

	var grid []float32
	for bits := 0; bits < 1<<8; bits++ {
		x := f.Decode(uint16(bits))
		if !math.IsNaN(float64(x)) && !math.IsInf(float64(x), 0) {
			grid = append(grid, x)
		}
	}
	in := newF32(t, grid)
	out := newF32(t, make([]float32, len(grid)))

	require.NoError(t, Quant8Fwd(d, in, out, QuantConfig{W1: 5, W2: 2}))
	require.NoError(t, d.Synchronize())
	assert.Equal(t, grid, out.AsFloat32())
}

func TestQuantSaturatesAndKeepsNaN(t *testing.T) {
	d := device.New()
	in := newF32(t, []float32{
		1e20, -1e20, float32(math.Inf(1)), float32(math.Inf(-1)),
		float32(math.NaN()), 0, float32(math.Copysign(0, -1)),
	})
	out := newF32(t, make([]float32, in.Len()))

	require.NoError(t, Quant8Fwd(d, in, out, QuantConfig{W1: 4, W2: 3}))
	require.NoError(t, d.Synchronize())

	res := out.AsFloat32()
	assert.Equal(t, float32(240), res[0])
	assert.Equal(t, float32(-240), res[1])
	assert.Equal(t, float32(240), res[2], "infinity saturates to max finite")
	assert.Equal(t, float32(-240), res[3])
	assert.True(t, math.IsNaN(float64(res[4])))
	assert.Equal(t, float32(0), res[5])
	assert.True(t, math.Signbit(float64(res[6])), "negative zero keeps its sign")
}

func TestQuantWideExponentFloat32(t *testing.T) {
	// Float32 sources keep the full 8-bit exponent request; values on the
	// e8m2 grid span well past the byte-sized formats and must survive.
	d := device.New()
	src := []float32{-1, 1, 0x1p100, -0x1.8p120, 0x1p-100, 0x1.Cp127}
	in := newF32(t, src)
	out := newF32(t, make([]float32, len(src)))

	require.NoError(t, Quant8Fwd(d, in, out, QuantConfig{W1: 8, W2: 2}))
	require.NoError(t, d.Synchronize())
	assert.Equal(t, src, out.AsFloat32())
}

func TestQuantHalfWideExponentAlias(t *testing.T) {
	// binary16 sources carry 5 exponent bits, so an 8-bit exponent request
	// degrades to 5 and the two configurations match bit for bit.
	d := device.New()
	bits := []uint16{
		float16.FromFloat32(1.3).Bits(),
		float16.FromFloat32(-77).Bits(),
		float16.FromFloat32(0.0004).Bits(),
		float16.FromFloat32(65504).Bits(),
	}
	in := newF16(t, bits)
	outA := newF16(t, make([]uint16, len(bits)))
	outB := newF16(t, make([]uint16, len(bits)))

	require.NoError(t, Quant8Fwd(d, in, outA, QuantConfig{W1: 8, W2: 2}))
	require.NoError(t, Quant8Fwd(d, in, outB, QuantConfig{W1: 5, W2: 2}))
	require.NoError(t, d.Synchronize())
	assert.Equal(t, outA.AsUint16(), outB.AsUint16())
}

func TestQuantStochasticDeterministic(t *testing.T) {
	d := device.New()
	in := newF32(t, []float32{1.03, 2.71, -0.37, 100.5})
	outA := newF32(t, make([]float32, 4))
	outB := newF32(t, make([]float32, 4))

	cfg := QuantConfig{W1: 4, W2: 3, Stoch: true, Seed: 99}
	require.NoError(t, Quant8Fwd(d, in, outA, cfg))
	require.NoError(t, Quant8Fwd(d, in, outB, cfg))
	require.NoError(t, d.Synchronize())
	assert.Equal(t, outA.AsFloat32(), outB.AsFloat32(), "same seed reproduces bit for bit")
}

func TestQuantStochasticUnbiased(t *testing.T) {
	// 1.03125 sits a quarter of the way from 1.0 to 1.125 on the e4m3
	// grid; over many seeds the mean cast must converge to the input.
	d := device.New()
	const n = 64
	const x = 1.03125
	const seeds = 10_000

	src := make([]float32, n)
	for i := range src {
		src[i] = x
	}
	in := newF32(t, src)
	out := newF32(t, make([]float32, n))

	var sum float64
	var count int
	for seed := uint32(0); seed < seeds; seed++ {
		cfg := QuantConfig{W1: 4, W2: 3, Stoch: true, Seed: seed}
		require.NoError(t, Quant8Fwd(d, in, out, cfg))
		require.NoError(t, d.Synchronize())
		for _, y := range out.AsFloat32() {
			require.True(t, y == 1.0 || y == float32(1.125), "cast must land on a neighbor, got %v", y)
			sum += float64(y)
			count++
		}
	}

	mean := sum / float64(count)
	ulp := float64(fp8.Format{We: 4, Wm: 3}.ULPAt(x))
	assert.InDelta(t, x, mean, ulp/4, "stochastic rounding must be unbiased")
}

func TestQuantDynamicFlagHasNoEffect(t *testing.T) {
	d := device.New()
	in := newF32(t, []float32{0.1, 0.9, 12.5, -3.3})
	outA := newF32(t, make([]float32, 4))
	outB := newF32(t, make([]float32, 4))

	require.NoError(t, Quant8Fwd(d, in, outA, QuantConfig{W1: 5, W2: 2}))
	require.NoError(t, Quant8Fwd(d, in, outB, QuantConfig{W1: 5, W2: 2, Dynamic: true}))
	require.NoError(t, d.Synchronize())
	assert.Equal(t, outA.AsFloat32(), outB.AsFloat32())
}

func TestQuantBwdIsIdentity(t *testing.T) {
	d := device.New()
	src := []float32{1.5, -0.25, 0, float32(math.Inf(1)), 42}
	in := newF32(t, src)
	out := newF32(t, make([]float32, len(src)))

	require.NoError(t, Quant8Bwd(d, in, out))
	require.NoError(t, d.Synchronize())
	assert.Equal(t, src, out.AsFloat32())

	bits := []uint16{0x3C00, 0x8000, 0x7C00, 0x7E00, 0x0001}
	h := newF16(t, bits)
	hout := newF16(t, make([]uint16, len(bits)))
	require.NoError(t, Quant8Bwd(d, h, hout))
	require.NoError(t, d.Synchronize())
	assert.Equal(t, bits, hout.AsUint16(), "backward copies raw bits, NaN and all")
}

func TestQuantUnsupportedDType(t *testing.T) {
	d := device.New()
	in, err := tensor.New(tensor.Int32, 4)
	require.NoError(t, err)
	out, err := tensor.New(tensor.Int32, 4)
	require.NoError(t, err)
	require.ErrorIs(t, Quant8Fwd(d, in, out, QuantConfig{W1: 4, W2: 3}), ErrUnsupportedDType)
	require.ErrorIs(t, Quant8Bwd(d, in, out), ErrUnsupportedDType)
}
