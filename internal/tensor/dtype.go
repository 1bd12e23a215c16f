// Package tensor provides flat tensor views for the flare kernel library.
package tensor

// DataType represents runtime type information for tensor views.
type DataType int

// Supported data types for kernel buffers.
const (
	Float32 DataType = iota
	Float16
	Int8
	Int32
)

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float32, Int32:
		return 4
	case Float16:
		return 2
	case Int8:
		return 1
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	case Int8:
		return "int8"
	case Int32:
		return "int32"
	default:
		return "unknown"
	}
}
