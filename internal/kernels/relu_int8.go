package kernels

import "github.com/flare-ml/flare/internal/device"

// ReluInt8x4 clamps four signed 8-bit lanes per 32-bit word to >= 0.
// Without a packed signed-max instruction, negative lanes are zeroed with a
// bit-parallel mask: the inverted sign bits are fanned out across each lane
// to form 0x7f for non-negative lanes and 0x00 for negative ones.
func ReluInt8x4(in, out []uint32, vectCount int) device.KernelFunc {
	return func(tid device.ThreadID) {
		for index := tid.Global(); index < vectCount; index += tid.Stride() {
			w := in[index]
			signs := ^w & 0x80808080
			signs >>= 7
			signs |= signs << 1
			signs |= signs << 2
			signs |= signs << 4
			signs &= 0x7f7f7f7f
			out[index] = w & signs
		}
	}
}
