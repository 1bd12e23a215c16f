// Package float16 implements IEEE 754 binary16 in software, plus the packed
// two-lane helpers the half-precision kernels are built on. Widening to
// float32 is exact; narrowing rounds to nearest, ties to even.
package float16

import "math"

// F16 is the raw bit pattern of a binary16 value.
type F16 uint16

const (
	signMask     = 0x8000
	exponentMask = 0x7C00
	mantissaMask = 0x03FF
	mantissaBits = 10
	exponentBias = 15
)

// Float32 returns the exact float32 equivalent.
func (f F16) Float32() float32 {
	sign := uint32(f&signMask) << 16
	exponent := uint32(f&exponentMask) >> mantissaBits
	mantissa := uint32(f & mantissaMask)

	switch exponent {
	case 0:
		if mantissa == 0 {
			return math.Float32frombits(sign) // signed zero
		}
		// Subnormal: normalize into float32's larger exponent range.
		exponent = 1
		for mantissa&(1<<mantissaBits) == 0 {
			mantissa <<= 1
			exponent--
		}
		mantissa &= mantissaMask
	case 0x1F:
		if mantissa == 0 {
			return math.Float32frombits(sign | 0x7F800000) // Inf
		}
		return math.Float32frombits(sign | 0x7FC00000 | (mantissa << 13)) // NaN
	}

	exponent += 127 - exponentBias
	return math.Float32frombits(sign | (exponent << 23) | (mantissa << 13))
}

// FromFloat32 narrows a float32 to binary16 with round-to-nearest-even.
func FromFloat32(x float32) F16 {
	b := math.Float32bits(x)
	sign := uint16((b >> 16) & signMask)
	exp := int32((b>>23)&0xFF) - 127 + exponentBias
	coef := b & 0x7FFFFF

	if (b>>23)&0xFF == 0xFF {
		if coef != 0 {
			m := uint16(coef >> 13)
			if m == 0 {
				m = 1 // keep NaN a NaN after truncation
			}
			return F16(sign | exponentMask | m)
		}
		return F16(sign | exponentMask)
	}

	if exp >= 0x1F {
		return F16(sign | exponentMask) // overflow to Inf
	}

	if exp <= 0 {
		if exp < -10 {
			return F16(sign) // underflows past half the smallest subnormal
		}
		// Subnormal result: shift out 13 + (1-exp) bits with RNE.
		c := coef | 0x800000
		shift := uint32(14 - exp)
		c += ((c >> shift) & 1) + (1 << (shift - 1)) - 1
		return F16(sign | uint16(c>>shift))
	}

	// Normal result: drop 13 mantissa bits with RNE. A rounding carry
	// propagates into the exponent field, including overflow to Inf.
	c := coef + ((coef>>13)&1) + 0xFFF
	//nolint:gosec // value fits: exp < 0x1F and carry is accounted for in the sum
	return F16(sign | uint16(uint32(exp)<<mantissaBits+c>>13))
}

// IsNaN reports whether f encodes a NaN.
func (f F16) IsNaN() bool {
	return f&exponentMask == exponentMask && f&mantissaMask != 0
}

// Bits returns the raw bit pattern.
func (f F16) Bits() uint16 {
	return uint16(f)
}
