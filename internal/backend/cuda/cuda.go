//go:build cuda

// Package cuda drives an NVIDIA device through the CUDA runtime.
package cuda

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/samcharles93/accrt/internal/backend/cuda/native"
	"github.com/samcharles93/accrt/internal/logger"
	"github.com/samcharles93/accrt/pkg/device"
)

const Name = "cuda"

type pinKey struct {
	addr uintptr
	size int64
}

// Driver implements device.Driver on device 0. Kernel launch is left to
// generated code, so it does not implement device.Launcher.
type Driver struct {
	log logger.Logger

	mu      sync.Mutex
	allocs  map[device.DevicePtr]int64
	pinned  map[pinKey]unsafe.Pointer
	streams map[*Stream]struct{}
	closed  bool
}

var (
	_ device.Driver    = (*Driver)(nil)
	_ device.Describer = (*Driver)(nil)
	_ device.Unpinner  = (*Driver)(nil)
)

func New(log logger.Logger) (*Driver, error) {
	count, err := native.DeviceCount()
	if err != nil {
		return nil, opError("device query", err)
	}
	if count < 1 {
		return nil, fmt.Errorf("no cuda devices detected")
	}
	return &Driver{
		log:     logger.Component(log, "cuda"),
		allocs:  make(map[device.DevicePtr]int64),
		pinned:  make(map[pinKey]unsafe.Pointer),
		streams: make(map[*Stream]struct{}),
	}, nil
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
	info := device.Info{Backend: Name, Name: "cuda device 0"}
	if n, err := native.DeviceCount(); err == nil {
		info.Devices = n
	}
	if _, total, err := native.MemInfo(); err == nil {
		info.TotalMemory = total
	}
	return info
}

func devPtr(p device.DevicePtr) unsafe.Pointer {
	return unsafe.Pointer(uintptr(p))
}

func (d *Driver) Alloc(size int64) (device.DevicePtr, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, errClosed
	}
	p, err := native.Malloc(size)
	if err != nil {
		return 0, opError("malloc", err)
	}
	ptr := device.DevicePtr(uintptr(p))
	d.allocs[ptr] = size
	return ptr, nil
}

func (d *Driver) Free(ptr device.DevicePtr) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.freeLocked(ptr)
}

func (d *Driver) freeLocked(ptr device.DevicePtr) error {
	if _, ok := d.allocs[ptr]; !ok {
		return fmt.Errorf("free of unknown device address %s", ptr)
	}
	delete(d.allocs, ptr)
	return opError("free", native.Free(devPtr(ptr)))
}

func (d *Driver) CopyHtoD(dst device.DevicePtr, src unsafe.Pointer, size int64, s device.Stream) error {
	if s == nil {
		return opError("memcpy h2d", native.MemcpyH2D(devPtr(dst), src, size))
	}
	st, err := d.own(s)
	if err != nil {
		return err
	}
	return opError("memcpy h2d async", native.MemcpyH2DAsync(devPtr(dst), src, size, st.s))
}

func (d *Driver) CopyDtoH(dst unsafe.Pointer, src device.DevicePtr, size int64, s device.Stream) error {
	if s == nil {
		return opError("memcpy d2h", native.MemcpyD2H(dst, devPtr(src), size))
	}
	st, err := d.own(s)
	if err != nil {
		return err
	}
	return opError("memcpy d2h async", native.MemcpyD2HAsync(dst, devPtr(src), size, st.s))
}

func (d *Driver) own(s device.Stream) (*Stream, error) {
	st, ok := s.(*Stream)
	if !ok {
		return nil, fmt.Errorf("stream %T does not belong to the cuda device", s)
	}
	return st, nil
}

// PinHost registers the range with the CUDA runtime. A range the runtime
// already knows about counts as pinned.
func (d *Driver) PinHost(p unsafe.Pointer, size int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errClosed
	}
	key := pinKey{addr: uintptr(p), size: size}
	if _, ok := d.pinned[key]; ok {
		return nil
	}
	err := native.HostRegister(p, size)
	switch {
	case err == nil:
		d.pinned[key] = p
	case native.IsAlreadyRegistered(err):
		d.log.Debug("host range already registered", "addr", fmt.Sprintf("%p", p), "size", size)
	default:
		return opError("host register", err)
	}
	return nil
}

// UnpinHost unregisters every range this driver registered inside
// [p, p+size).
func (d *Driver) UnpinHost(p unsafe.Pointer, size int64) error {
	lo := uintptr(p)
	hi := lo + uintptr(size)

	d.mu.Lock()
	defer d.mu.Unlock()

	var err error
	for key, base := range d.pinned {
		if key.addr < lo || key.addr+uintptr(key.size) > hi {
			continue
		}
		if e := native.HostUnregister(base); e != nil && err == nil {
			err = opError("host unregister", e)
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
	ns, err := native.NewStream()
	if err != nil {
		return nil, opError("stream create", err)
	}
	s := &Stream{s: ns, drv: d}
	d.streams[s] = struct{}{}
	return s, nil
}

// Close destroys live streams, frees every allocation and unregisters
// pinned ranges.
func (d *Driver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	streams := make([]*Stream, 0, len(d.streams))
	for s := range d.streams {
		streams = append(streams, s)
	}
	d.mu.Unlock()

	var err error
	for _, s := range streams {
		if e := s.Destroy(); e != nil && err == nil {
			err = e
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for ptr := range d.allocs {
		if e := d.freeLocked(ptr); e != nil && err == nil {
			err = e
		}
	}
	for key, p := range d.pinned {
		if e := native.HostUnregister(p); e != nil && err == nil {
			err = opError("host unregister", e)
		}
		delete(d.pinned, key)
	}
	return err
}

// Stream is a cudaStream_t owned by a Driver.
type Stream struct {
	s    native.Stream
	drv  *Driver
	once sync.Once
}

func (s *Stream) Synchronize() error {
	return opError("stream synchronize", s.s.Synchronize())
}

func (s *Stream) Query() (bool, error) {
	idle, err := s.s.Query()
	return idle, opError("stream query", err)
}

func (s *Stream) Destroy() error {
	var err error
	s.once.Do(func() {
		err = opError("stream destroy", s.s.Destroy())
		s.drv.mu.Lock()
		delete(s.drv.streams, s)
		s.drv.mu.Unlock()
	})
	return err
}
