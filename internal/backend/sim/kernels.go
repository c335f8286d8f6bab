package sim

import (
	"fmt"
	"unsafe"

	"github.com/samcharles93/accrt/pkg/device"
)

// Memory gives kernels access to device memory.
type Memory interface {
	Span(p device.DevicePtr, n int64) ([]byte, error)
}

// Kernel is a simulated device function. It runs on the stream it was
// launched on, after everything queued before it.
type Kernel func(mem Memory, args []device.KernelArg) error

var builtinKernels = map[string]Kernel{
	"fill_u8":   fillU8,
	"scale_f32": scaleF32,
	"axpy_f32":  axpyF32,
}

// RegisterKernel adds or replaces a kernel.
func (d *Driver) RegisterKernel(name string, k Kernel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.kernels[name] = k
}

// Kernels returns the registered kernel names.
func (d *Driver) Kernels() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.kernels))
	for name := range d.kernels {
		names = append(names, name)
	}
	return names
}

// Launch queues the named kernel on s, or runs it immediately when s is nil.
func (d *Driver) Launch(name string, args []device.KernelArg, s device.Stream) error {
	d.mu.Lock()
	k, ok := d.kernels[name]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown kernel %q", name)
	}
	return d.run(s, func() error {
		if err := k(d, args); err != nil {
			return fmt.Errorf("kernel %s: %w", name, err)
		}
		return nil
	})
}

func wantArgs(args []device.KernelArg, kinds ...device.ArgKind) error {
	if len(args) != len(kinds) {
		return fmt.Errorf("expected %d arguments, got %d", len(kinds), len(args))
	}
	for i, k := range kinds {
		if args[i].Kind != k {
			return fmt.Errorf("argument %d: expected %s, got %s", i, k, args[i].Kind)
		}
	}
	return nil
}

func float32s(mem Memory, p device.DevicePtr, n int64) ([]float32, error) {
	if n == 0 {
		return nil, nil
	}
	b, err := mem.Span(p, n*4)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), n), nil
}

// fill_u8(ptr, n int64, value int32)
func fillU8(mem Memory, args []device.KernelArg) error {
	if err := wantArgs(args, device.ArgPointer, device.ArgScalar, device.ArgScalar); err != nil {
		return err
	}
	n, err := args[1].Int64()
	if err != nil {
		return err
	}
	v, err := args[2].Int32()
	if err != nil {
		return err
	}
	b, err := mem.Span(args[0].Device, n)
	if err != nil {
		return err
	}
	for i := range b {
		b[i] = byte(v)
	}
	return nil
}

// scale_f32(x, n int64, alpha float32): x *= alpha
func scaleF32(mem Memory, args []device.KernelArg) error {
	if err := wantArgs(args, device.ArgPointer, device.ArgScalar, device.ArgScalar); err != nil {
		return err
	}
	n, err := args[1].Int64()
	if err != nil {
		return err
	}
	alpha, err := args[2].Float32()
	if err != nil {
		return err
	}
	x, err := float32s(mem, args[0].Device, n)
	if err != nil {
		return err
	}
	for i := range x {
		x[i] *= alpha
	}
	return nil
}

// axpy_f32(y, x, n int64, alpha float32): y += alpha*x
func axpyF32(mem Memory, args []device.KernelArg) error {
	if err := wantArgs(args, device.ArgPointer, device.ArgPointer, device.ArgScalar, device.ArgScalar); err != nil {
		return err
	}
	n, err := args[2].Int64()
	if err != nil {
		return err
	}
	alpha, err := args[3].Float32()
	if err != nil {
		return err
	}
	y, err := float32s(mem, args[0].Device, n)
	if err != nil {
		return err
	}
	x, err := float32s(mem, args[1].Device, n)
	if err != nil {
		return err
	}
	for i := range y {
		y[i] += alpha * x[i]
	}
	return nil
}
