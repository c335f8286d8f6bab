package accrt

import (
	"fmt"
	"unsafe"

	"github.com/samcharles93/accrt/pkg/device"
)

// Allocate reserves size bytes of device-only memory.
func (r *Runtime) Allocate(size int64) (device.DevicePtr, error) {
	return r.allocate(nil, size)
}

// AllocateMirrored reserves size bytes of device memory as the counterpart
// of host. Translate(host) returns the new address until it is freed.
func (r *Runtime) AllocateMirrored(host unsafe.Pointer, size int64) (device.DevicePtr, error) {
	if host == nil {
		return 0, r.fail(fmt.Errorf("allocate mirrored: nil host pointer: %w", device.ErrUsage))
	}
	return r.allocate(host, size)
}

func (r *Runtime) allocate(host unsafe.Pointer, size int64) (device.DevicePtr, error) {
	if err := r.checkReady("allocate"); err != nil {
		return 0, err
	}
	if size <= 0 {
		return 0, r.fail(fmt.Errorf("allocate: size must be > 0, got %d: %w", size, device.ErrUsage))
	}
	dev, err := r.drv.Alloc(size)
	if err != nil {
		return 0, r.fail(device.DriverError(fmt.Sprintf("alloc %d bytes", size), err))
	}
	rec, err := r.reg.Register(host, dev, size)
	if err != nil {
		_ = r.drv.Free(dev)
		return 0, r.fail(err)
	}
	r.metrics.Allocated(size)
	r.log.Debug("allocated", "device", dev.String(), "size", size, "seq", rec.Seq, "mirrored", host != nil)
	return dev, nil
}

// Deallocate frees a device allocation and drops its record. A zero address
// is a no-op; an address the runtime does not know fails with
// device.ErrNotFound.
func (r *Runtime) Deallocate(dev device.DevicePtr) error {
	if dev == 0 {
		return nil
	}
	return r.fail(r.deallocate(dev))
}

func (r *Runtime) deallocate(dev device.DevicePtr) error {
	rec, ok := r.reg.Lookup(dev)
	if !ok || !r.reg.RemoveByDevice(dev) {
		return fmt.Errorf("deallocate %s: %w", dev, device.ErrNotFound)
	}
	r.metrics.Freed(rec.Size)
	if err := r.drv.Free(dev); err != nil {
		return device.DriverError("free "+dev.String(), err)
	}
	r.log.Debug("freed", "device", dev.String(), "size", rec.Size)
	if rec.Host != nil && !r.reg.ContainsHost(rec.Host) {
		return r.unpin(rec.Host, rec.Size)
	}
	return nil
}

// unpin releases the pinned ranges of a host buffer the registry no longer
// mirrors. The driver's Free has already waited for queued copies.
func (r *Runtime) unpin(host unsafe.Pointer, size int64) error {
	u, ok := r.drv.(device.Unpinner)
	if !ok {
		return nil
	}
	if err := u.UnpinHost(host, size); err != nil {
		return device.DriverError(fmt.Sprintf("unpin %p", host), err)
	}
	return nil
}

// PresentOrCreate returns the device counterpart of host, allocating one
// and recording it in the innermost region when none exists. It requires an
// open region.
func (r *Runtime) PresentOrCreate(host unsafe.Pointer, size int64) (device.DevicePtr, error) {
	if r.reg.ContainsHost(host) {
		return r.Translate(host)
	}
	if r.regions.Depth() == 0 {
		return 0, r.fail(fmt.Errorf("present or create %p: no open region: %w", host, device.ErrUsage))
	}
	dev, err := r.AllocateMirrored(host, size)
	if err != nil {
		return 0, err
	}
	if err := r.RecordPending(dev); err != nil {
		return 0, err
	}
	return dev, nil
}

// Translate returns the device address mirroring host.
func (r *Runtime) Translate(host unsafe.Pointer) (device.DevicePtr, error) {
	dev, err := r.reg.Translate(host)
	if err != nil {
		return 0, r.fail(err)
	}
	return dev, nil
}

// Present reports whether host has a device counterpart.
func (r *Runtime) Present(host unsafe.Pointer) bool {
	return r.reg.ContainsHost(host)
}

// DevicePresent reports whether dev is a live allocation.
func (r *Runtime) DevicePresent(dev device.DevicePtr) bool {
	return r.reg.ContainsDevice(dev)
}
