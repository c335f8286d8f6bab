// Package registry tracks every live device allocation and, for mirrored
// allocations, the host buffer it shadows.
//
// Records are numbered by insertion sequence. Sequence numbers increase
// monotonically and are never reused, so a removed record leaves a hole
// rather than shifting later entries. Lookups go through address-keyed
// indexes; when the same host address is registered more than once the
// record with the lowest sequence number wins.
package registry

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"unsafe"

	"github.com/samcharles93/accrt/pkg/device"
)

// Record is one live device allocation.
type Record struct {
	Seq    uint64
	Host   unsafe.Pointer
	Device device.DevicePtr
	Size   int64
}

// Mirrored reports whether the record has a host counterpart.
func (r Record) Mirrored() bool {
	return r.Host != nil
}

// Registry is safe for concurrent use. The zero value is an uncreated
// registry: presence tests answer false and translations fail with
// device.ErrUsage until the first Register.
type Registry struct {
	mu      sync.RWMutex
	next    uint64
	records map[uint64]*Record
	byDev   map[device.DevicePtr]uint64
	byHost  map[uintptr][]uint64
	bytes   int64
}

// New returns a created, empty registry.
func New() *Registry {
	r := &Registry{}
	r.init()
	return r
}

func (r *Registry) init() {
	r.records = make(map[uint64]*Record)
	r.byDev = make(map[device.DevicePtr]uint64)
	r.byHost = make(map[uintptr][]uint64)
}

func (r *Registry) created() bool {
	return r.records != nil
}

// Register appends a record at the next sequence number. host may be nil for
// device-only allocations. Registering a host address a second time adds
// another record; lookups keep returning the earlier one until it is removed.
func (r *Registry) Register(host unsafe.Pointer, dev device.DevicePtr, size int64) (Record, error) {
	if dev == 0 {
		return Record{}, fmt.Errorf("register: zero device address: %w", device.ErrUsage)
	}
	if size < 0 {
		return Record{}, fmt.Errorf("register %s: negative size %d: %w", dev, size, device.ErrUsage)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.created() {
		r.init()
	}
	if seq, ok := r.byDev[dev]; ok {
		return Record{}, fmt.Errorf("register %s: device address already live as record %d: %w", dev, seq, device.ErrUsage)
	}

	seq := r.next
	r.next++
	rec := &Record{Seq: seq, Host: host, Device: dev, Size: size}
	r.records[seq] = rec
	r.byDev[dev] = seq
	if host != nil {
		key := uintptr(host)
		r.byHost[key] = append(r.byHost[key], seq)
	}
	r.bytes += size
	return *rec, nil
}

// Resolve returns the first live record registered for host.
func (r *Registry) Resolve(host unsafe.Pointer) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.created() {
		return Record{}, fmt.Errorf("translate %p: registry not created: %w", host, device.ErrUsage)
	}
	seqs := r.byHost[uintptr(host)]
	if host == nil || len(seqs) == 0 {
		return Record{}, fmt.Errorf("translate %p: no device copy: %w", host, device.ErrNotFound)
	}
	return *r.records[seqs[0]], nil
}

// Translate returns the device address mirroring host.
func (r *Registry) Translate(host unsafe.Pointer) (device.DevicePtr, error) {
	rec, err := r.Resolve(host)
	if err != nil {
		return 0, err
	}
	return rec.Device, nil
}

// ContainsHost reports whether host has a live device copy.
func (r *Registry) ContainsHost(host unsafe.Pointer) bool {
	if host == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byHost[uintptr(host)]) > 0
}

// ContainsDevice reports whether dev is a live allocation.
func (r *Registry) ContainsDevice(dev device.DevicePtr) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byDev[dev]
	return ok
}

// Lookup returns the record for dev.
func (r *Registry) Lookup(dev device.DevicePtr) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seq, ok := r.byDev[dev]
	if !ok {
		return Record{}, false
	}
	return *r.records[seq], true
}

// RemoveByDevice tombstones the record for dev. It reports false when no
// live record matches, including on a repeated call.
func (r *Registry) RemoveByDevice(dev device.DevicePtr) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	seq, ok := r.byDev[dev]
	if !ok {
		return false
	}
	rec := r.records[seq]
	delete(r.records, seq)
	delete(r.byDev, dev)
	if rec.Host != nil {
		key := uintptr(rec.Host)
		seqs := slices.DeleteFunc(r.byHost[key], func(s uint64) bool { return s == seq })
		if len(seqs) == 0 {
			delete(r.byHost, key)
		} else {
			r.byHost[key] = seqs
		}
	}
	r.bytes -= rec.Size
	return true
}

// Len returns the number of live records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Bytes returns the total size of live records.
func (r *Registry) Bytes() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bytes
}

// NextSeq returns the sequence number the next Register will use.
func (r *Registry) NextSeq() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.next
}

// Records returns the live records in ascending sequence order.
func (r *Registry) Records() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	slices.SortFunc(out, func(a, b Record) int { return cmp.Compare(a.Seq, b.Seq) })
	return out
}

// Reset drops every record and returns the registry to the uncreated state.
// Sequence numbers keep increasing across a reset.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = nil
	r.byDev = nil
	r.byHost = nil
	r.bytes = 0
}
