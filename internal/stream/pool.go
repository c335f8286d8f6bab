// Package stream maps caller-supplied async tags onto a fixed table of
// lazily created device streams.
//
// With a pool of size N the last slot (N-1) is reserved as the default
// stream. Slot(tag) is the hashing policy:
//
//	tag < 0  -> synchronous, no slot
//	tag == 0 -> N-1 (default)
//	tag > 0  -> tag mod (N-1)
//
// Tags that hash to the same slot share one FIFO queue.
package stream

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/samcharles93/accrt/internal/logger"
	"github.com/samcharles93/accrt/pkg/device"
)

// DefaultSize is 11 general-purpose slots plus the reserved default slot.
const DefaultSize = 12

// Pool is safe for concurrent use; each slot's stream is created at most
// once between DestroyAll calls.
type Pool struct {
	drv  device.Driver
	log  logger.Logger
	size int

	mu       sync.Mutex
	slots    []device.Stream
	created  []uint64
	onCreate func(slot int)
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the pool's logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Pool) {
		p.log = logger.Component(l, "stream")
	}
}

// WithCreateHook registers fn to run after a slot's stream is created.
func WithCreateHook(fn func(slot int)) Option {
	return func(p *Pool) {
		p.onCreate = fn
	}
}

// New returns a pool of size slots over drv. size must be at least 2 so
// that one general-purpose slot exists next to the default slot.
func New(drv device.Driver, size int, opts ...Option) (*Pool, error) {
	if drv == nil {
		return nil, fmt.Errorf("stream pool: nil driver: %w", device.ErrUsage)
	}
	if size < 2 {
		return nil, fmt.Errorf("stream pool size must be >= 2, got %d: %w", size, device.ErrUsage)
	}
	p := &Pool{
		drv:     drv,
		size:    size,
		slots:   make([]device.Stream, size),
		created: make([]uint64, size),
	}
	for _, o := range opts {
		o(p)
	}
	if p.log == nil {
		p.log = logger.Component(logger.Discard(), "stream")
	}
	return p, nil
}

// Size returns the number of slots, including the default slot.
func (p *Pool) Size() int {
	return p.size
}

// DefaultSlot returns the index of the reserved default slot.
func (p *Pool) DefaultSlot() int {
	return p.size - 1
}

// Slot resolves tag to a slot index. ok is false for synchronous tags.
func (p *Pool) Slot(tag int) (slot int, ok bool) {
	return SlotFor(tag, p.size)
}

// SlotFor is the tag hashing function for a pool of the given size.
func SlotFor(tag, size int) (slot int, ok bool) {
	switch {
	case tag < 0:
		return -1, false
	case tag == 0:
		return size - 1, true
	default:
		return tag % (size - 1), true
	}
}

// stream returns the slot's stream, creating it on first use.
func (p *Pool) stream(slot int) (device.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s := p.slots[slot]; s != nil {
		return s, nil
	}
	s, err := p.drv.NewStream()
	if err != nil {
		return nil, device.DriverError(fmt.Sprintf("create stream for slot %d", slot), err)
	}
	p.slots[slot] = s
	p.created[slot]++
	p.log.Debug("slot created", "slot", slot)
	if p.onCreate != nil {
		p.onCreate(slot)
	}
	return s, nil
}

// existing returns the slot's stream or nil without creating it.
func (p *Pool) existing(slot int) device.Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.slots[slot]
}

// Stream resolves tag and returns its stream, creating it if needed. A
// synchronous tag yields a nil stream.
func (p *Pool) Stream(tag int) (device.Stream, error) {
	slot, ok := p.Slot(tag)
	if !ok {
		return nil, nil
	}
	return p.stream(slot)
}

// Submit issues op against the stream for tag. For a synchronous tag op
// receives a nil stream and the pool is bypassed entirely.
func (p *Pool) Submit(tag int, op func(device.Stream) error) error {
	s, err := p.Stream(tag)
	if err != nil {
		return err
	}
	return op(s)
}

// Wait blocks until everything queued on tag's slot has completed. It is a
// no-op for synchronous tags and slots that were never created.
func (p *Pool) Wait(tag int) error {
	slot, ok := p.Slot(tag)
	if !ok {
		return nil
	}
	s := p.existing(slot)
	if s == nil {
		return nil
	}
	if err := s.Synchronize(); err != nil {
		return device.DriverError(fmt.Sprintf("wait on slot %d", slot), err)
	}
	p.log.Debug("waited", "tag", tag, "slot", slot)
	return nil
}

// WaitAll waits on every created slot, including the default slot. All
// slots are waited on even if one fails.
func (p *Pool) WaitAll() error {
	var errs *multierror.Error
	for slot, s := range p.snapshot() {
		if s == nil {
			continue
		}
		if err := s.Synchronize(); err != nil {
			errs = multierror.Append(errs, device.DriverError(fmt.Sprintf("wait on slot %d", slot), err))
		}
	}
	return errs.ErrorOrNil()
}

// WaitSomeOrAll waits on every slot for tag 0 and on tag's slot otherwise.
// It backs the wait directive, where an absent argument means "everything".
func (p *Pool) WaitSomeOrAll(tag int) error {
	if tag == 0 {
		return p.WaitAll()
	}
	return p.Wait(tag)
}

// Test reports whether tag's slot has no pending work. Uncreated slots and
// synchronous tags are always idle.
func (p *Pool) Test(tag int) (bool, error) {
	slot, ok := p.Slot(tag)
	if !ok {
		return true, nil
	}
	s := p.existing(slot)
	if s == nil {
		return true, nil
	}
	idle, err := s.Query()
	if err != nil {
		return false, device.DriverError(fmt.Sprintf("query slot %d", slot), err)
	}
	return idle, nil
}

// TestAll reports whether every created slot is idle.
func (p *Pool) TestAll() (bool, error) {
	for slot, s := range p.snapshot() {
		if s == nil {
			continue
		}
		idle, err := s.Query()
		if err != nil {
			return false, device.DriverError(fmt.Sprintf("query slot %d", slot), err)
		}
		if !idle {
			return false, nil
		}
	}
	return true, nil
}

// DestroyAll tears down every created slot and returns the pool to its
// initial state. Destruction continues past failures.
func (p *Pool) DestroyAll() error {
	p.mu.Lock()
	slots := p.slots
	p.slots = make([]device.Stream, p.size)
	p.mu.Unlock()

	var errs *multierror.Error
	destroyed := 0
	for slot, s := range slots {
		if s == nil {
			continue
		}
		destroyed++
		if err := s.Destroy(); err != nil {
			errs = multierror.Append(errs, device.DriverError(fmt.Sprintf("destroy slot %d", slot), err))
		}
	}
	if destroyed > 0 {
		p.log.Debug("destroyed all slots", "count", destroyed)
	}
	return errs.ErrorOrNil()
}

func (p *Pool) snapshot() []device.Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]device.Stream, len(p.slots))
	copy(out, p.slots)
	return out
}

// SlotState describes one slot for diagnostics.
type SlotState struct {
	Slot      int    `json:"slot"`
	Default   bool   `json:"default"`
	Created   bool   `json:"created"`
	Idle      bool   `json:"idle"`
	Creations uint64 `json:"creations"`
	Error     string `json:"error,omitempty"`
}

// Slots returns the state of every slot.
func (p *Pool) Slots() []SlotState {
	streams := p.snapshot()
	p.mu.Lock()
	creations := make([]uint64, len(p.created))
	copy(creations, p.created)
	p.mu.Unlock()

	out := make([]SlotState, len(streams))
	for slot, s := range streams {
		st := SlotState{
			Slot:      slot,
			Default:   slot == p.size-1,
			Created:   s != nil,
			Idle:      true,
			Creations: creations[slot],
		}
		if s != nil {
			idle, err := s.Query()
			st.Idle = idle
			if err != nil {
				st.Error = err.Error()
			}
		}
		out[slot] = st
	}
	return out
}

// Live returns the number of created slots.
func (p *Pool) Live() int {
	n := 0
	for _, s := range p.snapshot() {
		if s != nil {
			n++
		}
	}
	return n
}
