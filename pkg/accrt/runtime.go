// Package accrt is the residency runtime called by offloaded code. A Runtime
// tracks which host buffers have device counterparts, moves data between
// them on synchronous or tagged asynchronous queues, stages kernel
// arguments, and frees device memory when data regions close.
//
// Every Runtime is independent; nothing is shared between instances.
package accrt

import (
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/samcharles93/accrt/internal/kargs"
	"github.com/samcharles93/accrt/internal/logger"
	"github.com/samcharles93/accrt/internal/metrics"
	"github.com/samcharles93/accrt/internal/region"
	"github.com/samcharles93/accrt/internal/registry"
	"github.com/samcharles93/accrt/internal/stream"
	"github.com/samcharles93/accrt/internal/transfer"
	"github.com/samcharles93/accrt/pkg/device"
)

// Options configure a Runtime. Driver is required.
type Options struct {
	Driver device.Driver
	// Streams is the stream pool size including the default slot. Zero
	// selects stream.DefaultSize.
	Streams int
	Logger  logger.Logger
	// OnFatal, when set, receives every unrecoverable error before it is
	// returned to the caller. Presence tests never reach it.
	OnFatal func(error)
}

type Runtime struct {
	id      string
	drv     device.Driver
	log     logger.Logger
	onFatal func(error)
	metrics *metrics.Metrics

	reg     *registry.Registry
	pool    *stream.Pool
	eng     *transfer.Engine
	regions region.Stack

	argsMu sync.Mutex
	args   kargs.Stager

	mu     sync.Mutex
	closed bool
}

func New(opts Options) (*Runtime, error) {
	if opts.Driver == nil {
		return nil, fmt.Errorf("accrt: no driver: %w", device.ErrUsage)
	}
	size := opts.Streams
	if size == 0 {
		size = stream.DefaultSize
	}

	id := uuid.NewString()
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	log = log.With("runtime", id)

	r := &Runtime{
		id:      id,
		drv:     opts.Driver,
		log:     logger.Component(log, "runtime"),
		onFatal: opts.OnFatal,
		metrics: metrics.New(id),
		reg:     registry.New(),
	}

	pool, err := stream.New(opts.Driver, size,
		stream.WithLogger(log),
		stream.WithCreateHook(func(int) { r.metrics.SlotCreated() }),
	)
	if err != nil {
		return nil, err
	}
	r.pool = pool
	r.eng = transfer.New(opts.Driver, r.reg, pool,
		transfer.WithLogger(log),
		transfer.WithMetrics(r.metrics),
	)

	r.log.Debug("runtime created", "backend", opts.Driver.Name(), "streams", size)
	return r, nil
}

// ID returns the runtime's unique identifier.
func (r *Runtime) ID() string {
	return r.id
}

// Backend returns the driver name.
func (r *Runtime) Backend() string {
	return r.drv.Name()
}

// Streams returns the stream pool size including the default slot.
func (r *Runtime) Streams() int {
	return r.pool.Size()
}

// Metrics returns the runtime's metric set.
func (r *Runtime) Metrics() *metrics.Metrics {
	return r.metrics
}

// Ready reports whether the runtime is open and its device is usable.
func (r *Runtime) Ready() bool {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	return !closed && r.drv.Ready()
}

func (r *Runtime) checkReady(op string) error {
	if !r.Ready() {
		return r.fail(fmt.Errorf("%s: device not ready: %w", op, device.ErrUsage))
	}
	return nil
}

// fail records an unrecoverable error and hands it to OnFatal.
func (r *Runtime) fail(err error) error {
	if err == nil {
		return nil
	}
	r.log.Error("runtime error", "kind", device.Kind(err), "error", err)
	r.metrics.Failed(err)
	if r.onFatal != nil {
		r.onFatal(err)
	}
	return err
}

// Shutdown waits for all queued work, destroys every stream, frees any
// allocation still registered and closes the driver when it implements
// io.Closer. Failures along the way are collected and returned together.
// Calling Shutdown again is a no-op.
func (r *Runtime) Shutdown() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	var errs *multierror.Error
	if err := r.pool.WaitAll(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := r.pool.DestroyAll(); err != nil {
		errs = multierror.Append(errs, err)
	}
	r.metrics.SlotsReset()

	leaked := r.reg.Records()
	for _, rec := range leaked {
		r.log.Warn("freeing leaked allocation", "device", rec.Device.String(), "size", rec.Size, "mirrored", rec.Mirrored())
		r.reg.RemoveByDevice(rec.Device)
		r.metrics.Freed(rec.Size)
		if err := r.drv.Free(rec.Device); err != nil {
			errs = multierror.Append(errs, device.DriverError("free "+rec.Device.String(), err))
		}
	}
	r.reg.Reset()

	for r.regions.Depth() > 0 {
		_ = r.regions.Pop()
	}
	r.ClearArgs()

	if c, ok := r.drv.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = multierror.Append(errs, device.DriverError("close driver", err))
		}
	}

	r.log.Debug("runtime shut down", "leaked", len(leaked))
	if err := errs.ErrorOrNil(); err != nil {
		return r.fail(err)
	}
	return nil
}
