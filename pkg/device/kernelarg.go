package device

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ArgKind distinguishes kernel argument descriptors.
type ArgKind int

const (
	ArgPointer ArgKind = iota + 1
	ArgScalar
)

func (k ArgKind) String() string {
	switch k {
	case ArgPointer:
		return "pointer"
	case ArgScalar:
		return "scalar"
	default:
		return fmt.Sprintf("argkind(%d)", int(k))
	}
}

// KernelArg is one staged kernel argument: either a device address or a
// host scalar captured by value.
type KernelArg struct {
	Kind   ArgKind
	Device DevicePtr
	Value  []byte
}

// Size returns the argument's size in bytes as seen by the kernel.
func (a KernelArg) Size() int {
	if a.Kind == ArgPointer {
		return 8
	}
	return len(a.Value)
}

func (a KernelArg) String() string {
	if a.Kind == ArgPointer {
		return "ptr:" + a.Device.String()
	}
	return fmt.Sprintf("scalar[%d]", len(a.Value))
}

// Int32 decodes a 4-byte scalar.
func (a KernelArg) Int32() (int32, error) {
	if a.Kind != ArgScalar || len(a.Value) != 4 {
		return 0, fmt.Errorf("kernel arg %s is not a 4-byte scalar", a)
	}
	return int32(binary.NativeEndian.Uint32(a.Value)), nil
}

// Int64 decodes an 8-byte scalar.
func (a KernelArg) Int64() (int64, error) {
	if a.Kind != ArgScalar || len(a.Value) != 8 {
		return 0, fmt.Errorf("kernel arg %s is not an 8-byte scalar", a)
	}
	return int64(binary.NativeEndian.Uint64(a.Value)), nil
}

// Float32 decodes a 4-byte floating point scalar.
func (a KernelArg) Float32() (float32, error) {
	v, err := a.Int32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(uint32(v)), nil
}

// Float64 decodes an 8-byte floating point scalar.
func (a KernelArg) Float64() (float64, error) {
	v, err := a.Int64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(uint64(v)), nil
}
