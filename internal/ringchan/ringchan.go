// Package ringchan provides a bounded channel with overwrite-oldest semantics
// for producers that must never block on a slow consumer.
package ringchan

import (
	"sync"
	"sync/atomic"
)

// RingChannel wraps a buffered channel. Send never blocks: when the buffer is
// full the oldest element is discarded. Readers range over C().
//
//	rc := ringchan.New[int](3)
//	for i := 0; i < 10; i++ {
//	    rc.Send(i)
//	}
//	rc.Close()
//	for v := range rc.C() {
//	    fmt.Println(v) // 7, 8, 9
//	}
//
// Sending after Close is a no-op.
type RingChannel[T any] struct {
	ch     chan T
	mu     sync.Mutex // serializes producers and Close
	closed bool

	written     atomic.Int64
	overwritten atomic.Int64
	rejected    atomic.Int64
}

// Stats is a snapshot of channel counters
type Stats struct {
	Written     int64
	Overwritten int64
	Rejected    int64 // sends after Close
}

// New creates a ring channel holding up to capacity elements.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the receive side. It is closed by Close.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts v, discarding the oldest element if the buffer is full.
// Reports whether an element was discarded. Returns false without sending
// once the channel is closed.
func (rc *RingChannel[T]) Send(v T) (dropped bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		rc.rejected.Add(1)
		return false
	}

	for {
		select {
		case rc.ch <- v:
			rc.written.Add(1)
			return dropped
		default:
		}
		select {
		case <-rc.ch:
			rc.overwritten.Add(1)
			dropped = true
		default:
		}
	}
}

// TrySend inserts v only if there is room.
func (rc *RingChannel[T]) TrySend(v T) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		rc.rejected.Add(1)
		return false
	}
	select {
	case rc.ch <- v:
		rc.written.Add(1)
		return true
	default:
		return false
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the capacity.
func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}

// Close closes the receive side after the buffered elements. Safe to call
// more than once.
func (rc *RingChannel[T]) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.closed {
		return
	}
	rc.closed = true
	close(rc.ch)
}

// Stats returns the current counters
func (rc *RingChannel[T]) Stats() Stats {
	return Stats{
		Written:     rc.written.Load(),
		Overwritten: rc.overwritten.Load(),
		Rejected:    rc.rejected.Load(),
	}
}
