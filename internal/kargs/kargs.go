// Package kargs stages kernel arguments in call order ahead of a launch.
package kargs

import (
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"

	"github.com/samcharles93/accrt/pkg/device"
)

// Stager holds the argument list for the next kernel launch. The zero
// value is ready to use; the first push begins a list implicitly.
type Stager struct {
	args  []device.KernelArg
	begun bool
}

// Begin starts a fresh argument list, discarding any staged arguments.
func (s *Stager) Begin() {
	s.args = s.args[:0]
	s.begun = true
}

func (s *Stager) push(a device.KernelArg) {
	if !s.begun {
		s.Begin()
	}
	s.args = append(s.args, a)
}

// PushPointer appends a device address argument.
func (s *Stager) PushPointer(dev device.DevicePtr) {
	s.push(device.KernelArg{Kind: device.ArgPointer, Device: dev})
}

// PushScalar appends size bytes read from p. The value is captured now, so
// later writes to p do not affect the staged argument. A zero size stages an
// empty value; a negative size, or a nil p with a positive size, is rejected
// and leaves the list untouched.
func (s *Stager) PushScalar(p unsafe.Pointer, size int) error {
	switch {
	case size < 0:
		return fmt.Errorf("scalar argument size %d is negative: %w", size, device.ErrUsage)
	case size > 0 && p == nil:
		return fmt.Errorf("scalar argument of %d bytes from nil pointer: %w", size, device.ErrUsage)
	}
	v := make([]byte, size)
	if size > 0 {
		copy(v, unsafe.Slice((*byte)(p), size))
	}
	s.push(device.KernelArg{Kind: device.ArgScalar, Value: v})
	return nil
}

func (s *Stager) PushInt32(v int32) {
	b := make([]byte, 4)
	binary.NativeEndian.PutUint32(b, uint32(v))
	s.push(device.KernelArg{Kind: device.ArgScalar, Value: b})
}

func (s *Stager) PushInt64(v int64) {
	b := make([]byte, 8)
	binary.NativeEndian.PutUint64(b, uint64(v))
	s.push(device.KernelArg{Kind: device.ArgScalar, Value: b})
}

func (s *Stager) PushFloat32(v float32) {
	s.PushInt32(int32(math.Float32bits(v)))
}

func (s *Stager) PushFloat64(v float64) {
	s.PushInt64(int64(math.Float64bits(v)))
}

// Finish returns a copy of the staged list in push order.
func (s *Stager) Finish() []device.KernelArg {
	out := make([]device.KernelArg, len(s.args))
	copy(out, s.args)
	return out
}

// Clear discards the list. The next push begins a new one.
func (s *Stager) Clear() {
	clear(s.args)
	s.args = s.args[:0]
	s.begun = false
}

// Len returns the number of staged arguments.
func (s *Stager) Len() int {
	return len(s.args)
}

// Begun reports whether a list is currently open.
func (s *Stager) Begun() bool {
	return s.begun
}
