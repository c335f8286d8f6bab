package sim

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var errStreamDestroyed = errors.New("stream destroyed")

// Stream runs queued operations one at a time, in submission order, on its
// own goroutine. The first failing operation's error is sticky until the
// next Synchronize reports it.
type Stream struct {
	id        int
	latency   time.Duration
	onDestroy func(*Stream)

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func() error
	pending int
	err     error
	closed  bool
	done    chan struct{}
}

func newStream(id int, latency time.Duration, onDestroy func(*Stream)) *Stream {
	s := &Stream{
		id:        id,
		latency:   latency,
		onDestroy: onDestroy,
		done:      make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.loop()
	return s
}

// ID returns the stream's creation index on its device.
func (s *Stream) ID() int {
	return s.id
}

func (s *Stream) enqueue(op func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("stream %d: %w", s.id, errStreamDestroyed)
	}
	s.queue = append(s.queue, op)
	s.pending++
	s.cond.Broadcast()
	return nil
}

func (s *Stream) loop() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		op := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		if s.latency > 0 {
			time.Sleep(s.latency)
		}
		err := op()

		s.mu.Lock()
		if err != nil && s.err == nil {
			s.err = fmt.Errorf("stream %d: %w", s.id, err)
		}
		s.pending--
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}

// Synchronize blocks until the queue drains and returns, then clears, the
// sticky error.
func (s *Stream) Synchronize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.pending > 0 {
		s.cond.Wait()
	}
	err := s.err
	s.err = nil
	return err
}

// drain blocks until the queue is empty without touching the sticky error.
func (s *Stream) drain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.pending > 0 {
		s.cond.Wait()
	}
}

// Query reports whether the queue is empty. A sticky error is reported but
// not cleared.
func (s *Stream) Query() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending == 0, s.err
}

// Destroy drains queued work, stops the worker and reports any sticky error.
// Destroying twice is a no-op.
func (s *Stream) Destroy() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()

	<-s.done
	if s.onDestroy != nil {
		s.onDestroy(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.err
	s.err = nil
	return err
}
