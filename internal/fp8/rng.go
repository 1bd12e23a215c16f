package fp8

// MixRNG derives the per-element 32-bit random word feeding stochastic
// rounding. The derivation is part of the wire contract: it mixes the
// source element's bit pattern, its flat index and the per-launch seed, so
// repeated launches with identical inputs reproduce bit for bit.
//
// srcBits carries the element's raw pattern (16 or 32 bits); wide is true
// for 32-bit sources, whose upper half is folded in.
func MixRNG(srcBits uint32, wide bool, i int, seed uint32) uint32 {
	drop := srcBits & 0xFFFF
	if wide {
		drop ^= srcBits >> 16
	}
	drop = ((drop & 31) << 11) | (drop >> 5)
	drop *= 0x7000149
	return drop ^ 0x13371337 ^ (uint32(i) * 229791) ^ seed
}
