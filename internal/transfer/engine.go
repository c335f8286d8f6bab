// Package transfer copies data between host buffers and their registered
// device counterparts, either blocking or queued on a stream slot.
package transfer

import (
	"fmt"
	"unsafe"

	"github.com/samcharles93/accrt/internal/logger"
	"github.com/samcharles93/accrt/internal/metrics"
	"github.com/samcharles93/accrt/internal/registry"
	"github.com/samcharles93/accrt/internal/stream"
	"github.com/samcharles93/accrt/pkg/device"
)

// Engine issues copies for registered host buffers. A negative tag copies
// synchronously; any other tag queues the copy on the tag's stream slot and
// returns before it completes.
type Engine struct {
	drv     device.Driver
	reg     *registry.Registry
	pool    *stream.Pool
	metrics *metrics.Metrics
	log     logger.Logger
}

type Option func(*Engine)

func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		e.log = logger.Component(l, "transfer")
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func New(drv device.Driver, reg *registry.Registry, pool *stream.Pool, opts ...Option) *Engine {
	e := &Engine{drv: drv, reg: reg, pool: pool}
	for _, o := range opts {
		o(e)
	}
	if e.log == nil {
		e.log = logger.Component(logger.Discard(), "transfer")
	}
	return e
}

// Upload copies size bytes at offset from host into its device counterpart.
func (e *Engine) Upload(host unsafe.Pointer, size, offset int64, tag int) error {
	return e.Copy(device.HostToDevice, host, size, offset, tag)
}

// Download copies size bytes at offset from the device counterpart of host
// back into host.
func (e *Engine) Download(host unsafe.Pointer, size, offset int64, tag int) error {
	return e.Copy(device.DeviceToHost, host, size, offset, tag)
}

// Copy moves [offset, offset+size) of host in the given direction. The same
// offset applies on both sides. For asynchronous tags the host range is
// page-locked first and must stay valid until the slot is waited on.
func (e *Engine) Copy(kind device.CopyKind, host unsafe.Pointer, size, offset int64, tag int) error {
	if host == nil {
		return fmt.Errorf("%s: nil host pointer: %w", kind, device.ErrTransferPrecondition)
	}
	rec, err := e.reg.Resolve(host)
	if err != nil {
		return fmt.Errorf("%s: %w", kind, err)
	}
	if rec.Device == 0 {
		return fmt.Errorf("%s: host %p has no device address: %w", kind, host, device.ErrTransferPrecondition)
	}
	if size < 0 || offset < 0 || offset+size > rec.Size {
		return fmt.Errorf("%s: range [%d, %d) outside allocation of %d bytes: %w",
			kind, offset, offset+size, rec.Size, device.ErrTransferPrecondition)
	}
	if size == 0 {
		return nil
	}

	h := unsafe.Add(host, offset)
	d := rec.Device.Add(offset)
	async := tag >= 0

	if async {
		if err := e.drv.PinHost(h, size); err != nil {
			return device.DriverError(fmt.Sprintf("%s: pin host %p+%d", kind, h, size), err)
		}
	}
	err = e.pool.Submit(tag, func(s device.Stream) error {
		if kind == device.HostToDevice {
			return e.drv.CopyHtoD(d, h, size, s)
		}
		return e.drv.CopyDtoH(h, d, size, s)
	})
	if err != nil {
		return device.DriverError(fmt.Sprintf("%s %d bytes at %s", kind, size, d), err)
	}

	e.metrics.Transferred(kind, async, size)
	e.log.Debug("copy issued", "dir", kind.String(), "host", fmt.Sprintf("%p", h), "device", d.String(), "size", size, "tag", tag)
	return nil
}
