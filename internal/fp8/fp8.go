// Package fp8 implements the narrow floating-point formats used by the
// Quant8 kernels: 1 sign bit, we exponent bits, wm mantissa bits, bias
// 2^(we-1)-1, with subnormals, saturating overflow and a NaN sentinel.
package fp8

import "math"

// Format describes a narrow float layout. Supported widths are
// we ∈ {4, 5, 8} and wm ∈ {1, 2, 3}; the wide-exponent formats span up to
// 12 bits, so patterns are carried in the low bits of a uint16.
type Format struct {
	We int // exponent bits
	Wm int // mantissa bits
}

// Bias returns the exponent bias, 2^(we-1) - 1.
func (f Format) Bias() int {
	return 1<<(f.We-1) - 1
}

// signShift is the bit position of the sign.
func (f Format) signShift() uint {
	return uint(f.We + f.Wm)
}

// maxFinite is the magnitude bit pattern of the largest finite value:
// second-largest exponent, mantissa all ones.
func (f Format) maxFinite() uint16 {
	return uint16((1<<f.We-2)<<f.Wm | (1<<f.Wm - 1))
}

// nanBits is the magnitude bit pattern of the NaN sentinel: exponent and
// mantissa all ones.
func (f Format) nanBits() uint16 {
	return uint16((1<<f.We-1)<<f.Wm | (1<<f.Wm - 1))
}

// MaxFloat32 returns the largest finite value of the format.
func (f Format) MaxFloat32() float32 {
	return f.Decode(f.maxFinite())
}

// ULPAt returns the spacing between representable values at the magnitude
// of x (the quantum x is rounded to).
func (f Format) ULPAt(x float32) float32 {
	e := f.Decode(f.Encode(x, false, 0))
	bits := f.Encode(e, false, 0) &^ (uint16(1) << f.signShift())
	lo, hi := f.Decode(bits), f.Decode(bits+1)
	if math.IsNaN(float64(hi)) || math.IsInf(float64(hi), 0) {
		hi, lo = lo, f.Decode(bits-1)
	}
	return float32(math.Abs(float64(hi - lo)))
}

// Encode casts x to the narrow format. With stoch false the rounding is
// round-to-nearest, ties-to-even; with stoch true the low bits of rng are
// added into the dropped fraction, rounding up with probability equal to
// the fractional position between the two neighbors (unbiased in
// expectation). Out-of-range magnitudes, including infinities, saturate to
// the largest finite value. NaN maps to the sentinel, signed zero survives.
func (f Format) Encode(x float32, stoch bool, rng uint32) uint16 {
	b := math.Float32bits(x)
	signBit := uint16(b>>31) << f.signShift()
	exp := int(b>>23) & 0xFF
	man := b & 0x7FFFFF

	if exp == 0xFF {
		if man != 0 {
			return signBit | f.nanBits()
		}
		return signBit | f.maxFinite()
	}
	if b&0x7FFFFFFF == 0 {
		return signBit
	}

	// Normalize the source significand to 1.x * 2^e.
	e := exp - 127
	c := uint64(man)
	if exp == 0 {
		e = -126
		for c&(1<<23) == 0 {
			c <<= 1
			e--
		}
		c &= 0x7FFFFF
	}
	c |= 1 << 23

	// te is the biased target exponent; values below the normal range get
	// extra right-shift and land in the subnormal encoding.
	te := e + f.Bias()
	shift := 23 - f.Wm
	if te < 1 {
		shift += 1 - te
		te = 0
	}
	if shift > 48 {
		return signBit // far below half the smallest subnormal
	}

	if stoch {
		c += uint64(rng) & (1<<shift - 1)
	} else {
		c += (c >> uint(shift) & 1) + 1<<(shift-1) - 1
	}
	v := c >> uint(shift)

	// Reassemble; rounding carries propagate into the exponent field.
	var bits uint64
	if te == 0 {
		bits = v
	} else {
		bits = v + uint64(te-1)<<f.Wm
	}
	if bits>>uint(f.Wm) >= uint64(1<<f.We-1) {
		return signBit | f.maxFinite()
	}
	return signBit | uint16(bits)
}

// Decode expands a narrow-format bit pattern to float32. Exact: every
// narrow value is representable in float32 (and, for the formats legal on
// 16-bit sources, in float16).
func (f Format) Decode(bits uint16) float32 {
	sign := uint32(bits>>f.signShift()&1) << 31
	exp := int(bits>>f.Wm) & (1<<f.We - 1)
	man := uint32(bits) & (1<<f.Wm - 1)

	if exp == 1<<f.We-1 {
		if man != 0 {
			return math.Float32frombits(sign | 0x7FC00000 | man<<(23-f.Wm))
		}
		return math.Float32frombits(sign | 0x7F800000)
	}

	if exp == 0 {
		if man == 0 {
			return math.Float32frombits(sign)
		}
		// Normalize the subnormal.
		exp = 1
		for man&(1<<f.Wm) == 0 {
			man <<= 1
			exp--
		}
		man &= 1<<f.Wm - 1
	}

	e32 := exp - f.Bias() + 127
	man32 := man << (23 - f.Wm)
	if e32 <= 0 {
		// Result is a float32 subnormal (only reachable for we = 8).
		full := uint32(1<<23) | man32
		return math.Float32frombits(sign | full>>uint(1-e32))
	}
	return math.Float32frombits(sign | uint32(e32)<<23 | man32)
}
