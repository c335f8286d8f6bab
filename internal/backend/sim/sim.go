// Package sim is an in-process accelerator. Device memory is carved out of
// anonymous mappings outside the Go heap, streams are FIFO worker queues, and
// kernels are registered Go functions run in stream order.
package sim

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/samcharles93/accrt/internal/logger"
	"github.com/samcharles93/accrt/pkg/device"
)

const Name = "sim"

var errClosed = errors.New("sim device is closed")

// Options tune the simulated device.
type Options struct {
	// CopyLatency is added to every operation executed on a stream, which
	// keeps asynchronous work observably in flight.
	CopyLatency time.Duration
	// MemoryLimit caps the bytes that may be allocated at once. Zero means
	// unlimited.
	MemoryLimit int64
	// LockPages makes PinHost mlock the host range.
	LockPages bool
	Logger    logger.Logger
}

type pinKey struct {
	addr uintptr
	size int64
}

// Driver implements device.Driver and device.Launcher.
type Driver struct {
	opts Options
	log  logger.Logger

	mu       sync.Mutex
	allocs   map[device.DevicePtr][]byte
	bases    []device.DevicePtr
	used     int64
	pinned   map[pinKey][]byte
	kernels  map[string]Kernel
	streams  map[*Stream]struct{}
	streamID int
	closed   bool
}

var (
	_ device.Driver    = (*Driver)(nil)
	_ device.Launcher  = (*Driver)(nil)
	_ device.Describer = (*Driver)(nil)
	_ device.Unpinner  = (*Driver)(nil)
)

// New returns a ready simulated device with the built-in kernels registered.
func New(opts Options) *Driver {
	d := &Driver{
		opts:    opts,
		log:     logger.Component(opts.Logger, "sim"),
		allocs:  make(map[device.DevicePtr][]byte),
		pinned:  make(map[pinKey][]byte),
		kernels: make(map[string]Kernel),
		streams: make(map[*Stream]struct{}),
	}
	for name, k := range builtinKernels {
		d.kernels[name] = k
	}
	return d
}

func (d *Driver) Name() string {
	return Name
}

func (d *Driver) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.closed
}

func (d *Driver) Describe() device.Info {
	return device.Info{
		Backend:     Name,
		Name:        "accrt simulated accelerator",
		TotalMemory: d.opts.MemoryLimit,
		Devices:     1,
	}
}

// Alloc maps size bytes of fresh zeroed device memory.
func (d *Driver) Alloc(size int64) (device.DevicePtr, error) {
	if size <= 0 {
		return 0, fmt.Errorf("device alloc size must be > 0")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, errClosed
	}
	if d.opts.MemoryLimit > 0 && d.used+size > d.opts.MemoryLimit {
		return 0, fmt.Errorf("out of device memory: %d bytes requested, %d of %d in use", size, d.used, d.opts.MemoryLimit)
	}

	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return 0, fmt.Errorf("mmap %d bytes: %w", size, err)
	}
	ptr := device.DevicePtr(uintptr(unsafe.Pointer(&mem[0])))
	d.allocs[ptr] = mem
	idx, _ := slices.BinarySearch(d.bases, ptr)
	d.bases = slices.Insert(d.bases, idx, ptr)
	d.used += size
	return ptr, nil
}

// Free unmaps an allocation returned by Alloc. Like cudaFree it first waits
// for work queued on every live stream, so no in-flight copy or kernel can
// touch the mapping once it is gone. Sticky stream errors are left for the
// next Synchronize to report.
func (d *Driver) Free(ptr device.DevicePtr) error {
	d.mu.Lock()
	if _, ok := d.allocs[ptr]; !ok {
		d.mu.Unlock()
		return fmt.Errorf("free of unknown device address %s", ptr)
	}
	streams := d.liveStreamsLocked()
	d.mu.Unlock()

	for _, s := range streams {
		s.drain()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.freeLocked(ptr)
}

func (d *Driver) liveStreamsLocked() []*Stream {
	out := make([]*Stream, 0, len(d.streams))
	for s := range d.streams {
		out = append(out, s)
	}
	return out
}

func (d *Driver) freeLocked(ptr device.DevicePtr) error {
	mem, ok := d.allocs[ptr]
	if !ok {
		return fmt.Errorf("free of unknown device address %s", ptr)
	}
	delete(d.allocs, ptr)
	if idx, found := slices.BinarySearch(d.bases, ptr); found {
		d.bases = slices.Delete(d.bases, idx, idx+1)
	}
	d.used -= int64(len(mem))
	if err := unix.Munmap(mem); err != nil {
		return fmt.Errorf("munmap %s: %w", ptr, err)
	}
	return nil
}

// Span returns the n bytes of device memory starting at p. The range must
// lie inside a single live allocation.
func (d *Driver) Span(p device.DevicePtr, n int64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.spanLocked(p, n)
}

func (d *Driver) spanLocked(p device.DevicePtr, n int64) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("negative span length %d", n)
	}
	idx, found := slices.BinarySearch(d.bases, p)
	if !found {
		idx--
	}
	if idx < 0 {
		return nil, fmt.Errorf("device address %s is not allocated", p)
	}
	base := d.bases[idx]
	mem := d.allocs[base]
	off := int64(p - base)
	if off+n > int64(len(mem)) {
		return nil, fmt.Errorf("device range %s+%d exceeds allocation %s of %d bytes", p, n, base, len(mem))
	}
	return mem[off : off+n : off+n], nil
}

func hostBytes(p unsafe.Pointer, n int64) []byte {
	return unsafe.Slice((*byte)(p), n)
}

func (d *Driver) CopyHtoD(dst device.DevicePtr, src unsafe.Pointer, size int64, s device.Stream) error {
	if size == 0 {
		return nil
	}
	if src == nil || size < 0 {
		return fmt.Errorf("invalid h2d copy of %d bytes from %p", size, src)
	}
	return d.run(s, func() error {
		mem, err := d.Span(dst, size)
		if err != nil {
			return err
		}
		copy(mem, hostBytes(src, size))
		return nil
	})
}

func (d *Driver) CopyDtoH(dst unsafe.Pointer, src device.DevicePtr, size int64, s device.Stream) error {
	if size == 0 {
		return nil
	}
	if dst == nil || size < 0 {
		return fmt.Errorf("invalid d2h copy of %d bytes to %p", size, dst)
	}
	return d.run(s, func() error {
		mem, err := d.Span(src, size)
		if err != nil {
			return err
		}
		copy(hostBytes(dst, size), mem)
		return nil
	})
}

// run executes op now when s is nil and queues it on s otherwise.
func (d *Driver) run(s device.Stream, op func() error) error {
	if !d.Ready() {
		return errClosed
	}
	if s == nil {
		return op()
	}
	st, ok := s.(*Stream)
	if !ok {
		return fmt.Errorf("stream %T does not belong to the sim device", s)
	}
	return st.enqueue(op)
}

// PinHost records the range as page-locked, calling mlock when LockPages is
// set. Pinning the same range again is a no-op.
func (d *Driver) PinHost(p unsafe.Pointer, size int64) error {
	if p == nil || size <= 0 {
		return fmt.Errorf("invalid pin range %p+%d", p, size)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return errClosed
	}
	key := pinKey{addr: uintptr(p), size: size}
	if _, ok := d.pinned[key]; ok {
		return nil
	}
	var locked []byte
	if d.opts.LockPages {
		locked = hostBytes(p, size)
		if err := unix.Mlock(locked); err != nil {
			return fmt.Errorf("mlock %p+%d: %w", p, size, err)
		}
	}
	d.pinned[key] = locked
	return nil
}

// UnpinHost drops every pinned range inside [p, p+size), unlocking the
// pages of those that were mlocked.
func (d *Driver) UnpinHost(p unsafe.Pointer, size int64) error {
	lo := uintptr(p)
	hi := lo + uintptr(size)

	d.mu.Lock()
	defer d.mu.Unlock()

	var err error
	for key, locked := range d.pinned {
		if key.addr < lo || key.addr+uintptr(key.size) > hi {
			continue
		}
		if locked != nil {
			if e := unix.Munlock(locked); e != nil && err == nil {
				err = fmt.Errorf("munlock %#x+%d: %w", key.addr, key.size, e)
			}
		}
		delete(d.pinned, key)
	}
	return err
}

func (d *Driver) NewStream() (device.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, errClosed
	}
	d.streamID++
	s := newStream(d.streamID, d.opts.CopyLatency, func(s *Stream) {
		d.mu.Lock()
		delete(d.streams, s)
		d.mu.Unlock()
	})
	d.streams[s] = struct{}{}
	d.log.Debug("stream created", "stream", s.id)
	return s, nil
}

// Stats is a point-in-time view of device usage.
type Stats struct {
	Allocations  int
	BytesInUse   int64
	PinnedRanges int
	Streams      int
}

func (d *Driver) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Allocations:  len(d.allocs),
		BytesInUse:   d.used,
		PinnedRanges: len(d.pinned),
		Streams:      len(d.streams),
	}
}

// Close tears down live streams, unmaps every allocation and unlocks pinned
// ranges. The device is unusable afterwards.
func (d *Driver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	streams := d.liveStreamsLocked()
	d.mu.Unlock()

	var err error
	for _, s := range streams {
		if e := s.Destroy(); e != nil && err == nil {
			err = e
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ptr := range slices.Clone(d.bases) {
		if e := d.freeLocked(ptr); e != nil && err == nil {
			err = e
		}
	}
	for key, locked := range d.pinned {
		if locked != nil {
			if e := unix.Munlock(locked); e != nil && err == nil {
				err = e
			}
		}
		delete(d.pinned, key)
	}
	return err
}
