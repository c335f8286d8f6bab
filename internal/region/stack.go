// Package region ties device allocations to nested data-region lifetimes.
//
// Each frame holds the device addresses recorded while it was innermost.
// Draining a frame frees them, most recently recorded first.
package region

import (
	"fmt"
	"slices"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/samcharles93/accrt/pkg/device"
)

// Stack is safe for concurrent use.
type Stack struct {
	mu     sync.Mutex
	frames [][]device.DevicePtr
}

// Push opens a new, empty innermost frame.
func (s *Stack) Push() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, nil)
}

// Pop discards the innermost frame without freeing anything it holds.
func (s *Stack) Pop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return fmt.Errorf("pop region: stack is empty: %w", device.ErrUsage)
	}
	s.frames[len(s.frames)-1] = nil
	s.frames = s.frames[:len(s.frames)-1]
	return nil
}

// Record adds dev to the innermost frame. Recording the same address twice
// frees it twice on drain.
func (s *Stack) Record(dev device.DevicePtr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return fmt.Errorf("record %s: no open region: %w", dev, device.ErrUsage)
	}
	top := len(s.frames) - 1
	s.frames[top] = append(s.frames[top], dev)
	return nil
}

// Drain calls free on every address in the innermost frame, newest first,
// then empties the frame. It keeps going after a failed free and returns
// every failure. The frame stays on the stack.
func (s *Stack) Drain(free func(device.DevicePtr) error) error {
	s.mu.Lock()
	if len(s.frames) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("drain region: no open region: %w", device.ErrUsage)
	}
	top := len(s.frames) - 1
	pending := s.frames[top]
	s.frames[top] = nil
	s.mu.Unlock()

	var errs *multierror.Error
	for i := len(pending) - 1; i >= 0; i-- {
		if err := free(pending[i]); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("free %s: %w", pending[i], err))
		}
	}
	return errs.ErrorOrNil()
}

// Depth returns the number of open frames.
func (s *Stack) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// Pending returns a copy of the innermost frame's addresses in record
// order, or nil when no frame is open.
func (s *Stack) Pending() []device.DevicePtr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil
	}
	return slices.Clone(s.frames[len(s.frames)-1])
}
