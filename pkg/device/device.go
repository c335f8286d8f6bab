// Package device defines the contract between the residency runtime and an
// accelerator driver: raw allocation, copies, page locking, streams and the
// kernel launch boundary.
package device

import (
	"fmt"
	"unsafe"
)

// DevicePtr is an address in accelerator memory. The zero value means "no
// device allocation".
type DevicePtr uintptr

// Add returns p advanced by off bytes.
func (p DevicePtr) Add(off int64) DevicePtr {
	return p + DevicePtr(off)
}

func (p DevicePtr) String() string {
	return fmt.Sprintf("0x%x", uintptr(p))
}

// CopyKind is the direction of a host/device copy.
type CopyKind int

const (
	HostToDevice CopyKind = 1
	DeviceToHost CopyKind = 2
)

func (k CopyKind) String() string {
	switch k {
	case HostToDevice:
		return "h2d"
	case DeviceToHost:
		return "d2h"
	default:
		return fmt.Sprintf("copykind(%d)", int(k))
	}
}

// Stream is an ordered asynchronous execution queue on the device.
type Stream interface {
	// Synchronize blocks until every operation queued so far has completed.
	Synchronize() error
	// Query reports whether the stream has no pending work.
	Query() (bool, error)
	Destroy() error
}

// Driver is the raw primitive set the runtime consumes from the device
// context. A nil stream argument means "copy synchronously".
type Driver interface {
	Name() string
	Ready() bool
	Alloc(size int64) (DevicePtr, error)
	Free(ptr DevicePtr) error
	CopyHtoD(dst DevicePtr, src unsafe.Pointer, size int64, s Stream) error
	CopyDtoH(dst unsafe.Pointer, src DevicePtr, size int64, s Stream) error
	// PinHost page-locks a host range for direct device access. Pinning a
	// range that is already pinned must succeed.
	PinHost(p unsafe.Pointer, size int64) error
	NewStream() (Stream, error)
}

// Launcher is implemented by drivers that can run kernels. It is the
// boundary to the kernel-launch collaborator: the runtime hands over the
// staged argument list and the stream (nil for synchronous execution).
type Launcher interface {
	Launch(name string, args []KernelArg, s Stream) error
}

// Unpinner is implemented by drivers that can release pinned host ranges
// before the driver is closed. UnpinHost releases every pinned range that
// lies inside [p, p+size); ranges it does not know are ignored.
type Unpinner interface {
	UnpinHost(p unsafe.Pointer, size int64) error
}

// Info describes the device behind a driver.
type Info struct {
	Backend     string `json:"backend"`
	Name        string `json:"name"`
	TotalMemory int64  `json:"total_memory"`
	Devices     int    `json:"devices"`
}

// Describer is implemented by drivers that can report device properties.
type Describer interface {
	Describe() Info
}
