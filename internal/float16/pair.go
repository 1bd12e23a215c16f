package float16

// A pair is two binary16 values packed in one 32-bit word, low lane first.
// Both half ReLU-gradient tiers are built on the same pair primitives, which
// is what makes their outputs bit-identical by construction.

// PackPair packs two binary16 values into one word.
func PackPair(lo, hi F16) uint32 {
	return uint32(lo) | uint32(hi)<<16
}

// PairLo returns the low lane.
func PairLo(p uint32) F16 {
	return F16(p & 0xFFFF)
}

// PairHi returns the high lane.
func PairHi(p uint32) F16 {
	return F16(p >> 16)
}

// one is 1.0 in binary16.
const one F16 = 0x3C00

// PairGtZero computes a lanewise (lane > 0) mask as binary16 1.0 / 0.0,
// the packed-half analogue of a native two-lane greater-than.
func PairGtZero(p uint32) uint32 {
	var lo, hi F16
	if PairLo(p).Float32() > 0 {
		lo = one
	}
	if PairHi(p).Float32() > 0 {
		hi = one
	}
	return PackPair(lo, hi)
}

// PairMul multiplies lanewise in binary16. The product of two binary16
// significands is exact in float32, so widen-multiply-narrow reproduces a
// native half multiply bit for bit.
func PairMul(a, b uint32) uint32 {
	lo := FromFloat32(PairLo(a).Float32() * PairLo(b).Float32())
	hi := FromFloat32(PairHi(a).Float32() * PairHi(b).Float32())
	return PackPair(lo, hi)
}

// PairSelectGtZero is the widening fallback used when the device lacks
// native packed-half compare: each lane is widened to float32, gated on
// (feature > 0), and narrowed back.
func PairSelectGtZero(grad, feat uint32) uint32 {
	var lo, hi float32
	if PairLo(feat).Float32() > 0 {
		lo = PairLo(grad).Float32()
	}
	if PairHi(feat).Float32() > 0 {
		hi = PairHi(grad).Float32()
	}
	return PackPair(FromFloat32(lo), FromFloat32(hi))
}
