package accrt

import (
	"fmt"
	"unsafe"

	"github.com/samcharles93/accrt/pkg/device"
)

func (r *Runtime) BeginArgs() {
	r.argsMu.Lock()
	defer r.argsMu.Unlock()
	r.args.Begin()
}

func (r *Runtime) PushPointerArg(dev device.DevicePtr) {
	r.argsMu.Lock()
	defer r.argsMu.Unlock()
	r.args.PushPointer(dev)
}

// PushScalarArg copies size bytes from p into the argument list.
func (r *Runtime) PushScalarArg(p unsafe.Pointer, size int) error {
	r.argsMu.Lock()
	err := r.args.PushScalar(p, size)
	r.argsMu.Unlock()
	return r.fail(err)
}

func (r *Runtime) PushInt32Arg(v int32) {
	r.argsMu.Lock()
	defer r.argsMu.Unlock()
	r.args.PushInt32(v)
}

func (r *Runtime) PushInt64Arg(v int64) {
	r.argsMu.Lock()
	defer r.argsMu.Unlock()
	r.args.PushInt64(v)
}

func (r *Runtime) PushFloat32Arg(v float32) {
	r.argsMu.Lock()
	defer r.argsMu.Unlock()
	r.args.PushFloat32(v)
}

func (r *Runtime) PushFloat64Arg(v float64) {
	r.argsMu.Lock()
	defer r.argsMu.Unlock()
	r.args.PushFloat64(v)
}

// FinishArgs returns a copy of the staged arguments in push order.
func (r *Runtime) FinishArgs() []device.KernelArg {
	r.argsMu.Lock()
	defer r.argsMu.Unlock()
	return r.args.Finish()
}

func (r *Runtime) ClearArgs() {
	r.argsMu.Lock()
	defer r.argsMu.Unlock()
	r.args.Clear()
}

// StagedArgs returns the number of staged arguments.
func (r *Runtime) StagedArgs() int {
	r.argsMu.Lock()
	defer r.argsMu.Unlock()
	return r.args.Len()
}

// CanLaunch reports whether the driver can run kernels.
func (r *Runtime) CanLaunch() bool {
	_, ok := r.drv.(device.Launcher)
	return ok
}

// Launch hands the staged arguments to the driver's kernel launcher on
// tag's stream and clears them, whether or not the launch succeeds. Every
// pointer argument must be the base address of a live allocation.
func (r *Runtime) Launch(name string, tag int) error {
	args := r.FinishArgs()
	defer r.ClearArgs()

	if err := r.checkReady("launch " + name); err != nil {
		return err
	}
	launcher, ok := r.drv.(device.Launcher)
	if !ok {
		return r.fail(fmt.Errorf("launch %s: %s driver cannot launch kernels: %w", name, r.drv.Name(), device.ErrUsage))
	}
	for i, a := range args {
		if a.Kind == device.ArgPointer && !r.reg.ContainsDevice(a.Device) {
			return r.fail(fmt.Errorf("launch %s: argument %d: %s is not a live allocation: %w", name, i, a.Device, device.ErrNotFound))
		}
	}

	err := r.pool.Submit(tag, func(s device.Stream) error {
		return launcher.Launch(name, args, s)
	})
	if err != nil {
		return r.fail(device.DriverError("launch "+name, err))
	}
	r.metrics.Launched(name)
	r.log.Debug("kernel launched", "kernel", name, "args", len(args), "tag", tag)
	return nil
}
