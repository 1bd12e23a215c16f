package tensor

import (
	"fmt"
	"unsafe"
)

// bufferAlign is the allocation alignment in bytes. The 8-wide half kernels
// and the packed int8 kernel rely on buffers starting on a 16-byte boundary
// and occupying whole 16-byte multiples.
const bufferAlign = 16

// View is a non-owning, flat, contiguous description of a kernel buffer:
// element type, base pointer and element count. Rank and shape are collapsed
// by the host runtime before a launch; kernels only ever see flat buffers.
type View struct {
	data  []byte
	dtype DataType
	count int
}

// New allocates a zeroed, 16-byte aligned buffer for n elements of dtype and
// returns a View over it. The byte size is rounded up to a whole multiple of
// the alignment so word-granular kernels may read past the logical end.
func New(dtype DataType, n int) (*View, error) {
	if n < 0 {
		return nil, fmt.Errorf("tensor: negative element count %d", n)
	}
	byteSize := n * dtype.Size()
	padded := (byteSize + bufferAlign - 1) &^ (bufferAlign - 1)

	// Over-allocate so an aligned base always exists inside the backing array.
	backing := make([]byte, padded+bufferAlign)
	base := uintptr(unsafe.Pointer(unsafe.SliceData(backing)))
	off := int((bufferAlign - base%bufferAlign) % bufferAlign)

	return &View{
		data:  backing[off : off+padded],
		dtype: dtype,
		count: n,
	}, nil
}

// Wrap creates a View over caller-owned bytes. The caller is responsible for
// any alignment the selected kernel requires; launchers re-check it.
func Wrap(data []byte, dtype DataType, n int) (*View, error) {
	if n*dtype.Size() > len(data) {
		return nil, fmt.Errorf("tensor: %d %s elements need %d bytes, have %d",
			n, dtype, n*dtype.Size(), len(data))
	}
	return &View{data: data, dtype: dtype, count: n}, nil
}

// DType returns the view's element type.
func (v *View) DType() DataType {
	return v.dtype
}

// Len returns the number of elements.
func (v *View) Len() int {
	return v.count
}

// ByteSize returns the logical size in bytes (count * element size).
func (v *View) ByteSize() int {
	return v.count * v.dtype.Size()
}

// Data returns the raw byte slice, including alignment padding.
// WARNING: direct access to underlying memory. Use with caution.
func (v *View) Data() []byte {
	return v.data
}

// Aligned reports whether the base pointer is aligned to align bytes.
func (v *View) Aligned(align int) bool {
	if len(v.data) == 0 {
		return true
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(v.data)))%uintptr(align) == 0
}

// AsFloat32 interprets the data as []float32.
// Panics if the view's dtype is not Float32.
func (v *View) AsFloat32() []float32 {
	if v.dtype != Float32 {
		panic(fmt.Sprintf("tensor: view dtype is %s, not float32", v.dtype))
	}
	if v.count == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy reinterpretation, bounds checked by count
	return unsafe.Slice((*float32)(unsafe.Pointer(&v.data[0])), v.count)
}

// AsUint16 interprets the data as []uint16 (raw float16 bit patterns).
// Panics if the view's dtype is not Float16.
func (v *View) AsUint16() []uint16 {
	if v.dtype != Float16 {
		panic(fmt.Sprintf("tensor: view dtype is %s, not float16", v.dtype))
	}
	if v.count == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy reinterpretation, bounds checked by count
	return unsafe.Slice((*uint16)(unsafe.Pointer(&v.data[0])), v.count)
}

// AsInt8 interprets the data as []int8.
// Panics if the view's dtype is not Int8.
func (v *View) AsInt8() []int8 {
	if v.dtype != Int8 {
		panic(fmt.Sprintf("tensor: view dtype is %s, not int8", v.dtype))
	}
	if v.count == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy reinterpretation, bounds checked by count
	return unsafe.Slice((*int8)(unsafe.Pointer(&v.data[0])), v.count)
}

// AsInt32 interprets the data as []int32.
// Panics if the view's dtype is not Int32.
func (v *View) AsInt32() []int32 {
	if v.dtype != Int32 {
		panic(fmt.Sprintf("tensor: view dtype is %s, not int32", v.dtype))
	}
	if v.count == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy reinterpretation, bounds checked by count
	return unsafe.Slice((*int32)(unsafe.Pointer(&v.data[0])), v.count)
}

// Words reinterprets the buffer as 32-bit words, covering the padded extent.
// Used by the lane-packed kernels (half pairs, int8x4) regardless of dtype.
func (v *View) Words() []uint32 {
	if len(v.data) == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy reinterpretation, padded size is a multiple of 4
	return unsafe.Slice((*uint32)(unsafe.Pointer(&v.data[0])), len(v.data)/4)
}
