// Package stream holds the per-category event sinks of the bridge.
//
// Every category has at most one active sink. Attaching replaces the previous
// sink wholesale, detaching clears it, and events emitted while no sink is
// attached are dropped. There is no queueing, fan-out or replay.
package stream

import (
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
)

// Sink is the destination of one event stream.
type Sink interface {
	Success(event any)
	Error(code, message string, details any)
	EndOfStream()
}

// FuncSink adapts plain functions to a Sink. Nil fields are ignored.
type FuncSink struct {
	OnEvent func(event any)
	OnError func(code, message string, details any)
	OnEnd   func()
}

// NewFuncSink creates a sink that only handles events.
func NewFuncSink(fn func(event any)) *FuncSink {
	return &FuncSink{OnEvent: fn}
}

func (s *FuncSink) Success(event any) {
	if s.OnEvent != nil {
		s.OnEvent(event)
	}
}

func (s *FuncSink) Error(code, message string, details any) {
	if s.OnError != nil {
		s.OnError(code, message, details)
	}
}

func (s *FuncSink) EndOfStream() {
	if s.OnEnd != nil {
		s.OnEnd()
	}
}

// Token identifies one attachment so that its owner can release it later
// without clearing a sink attached by someone else in the meantime.
type Token struct {
	Category Category
	id       uint64
}

type slot struct {
	id   uint64
	sink Sink
}

// Registry keeps at most one sink per category.
type Registry struct {
	slots  *hashmap.Map[Category, *slot]
	mu     sync.Mutex // serializes attach/detach; Emit reads lock-free
	nextID atomic.Uint64
	logger *logrus.Logger

	// OnChange, if set, is invoked after a category gains or loses its sink.
	OnChange func(c Category, active bool)
}

// NewRegistry creates an empty registry
func NewRegistry(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		slots:  hashmap.New[Category, *slot](),
		logger: logger,
	}
}

// Attach makes sink the active destination for c and returns the sink it
// replaced, if any. A nil sink is equivalent to Detach.
func (r *Registry) Attach(c Category, sink Sink) (Token, Sink) {
	if sink == nil {
		return Token{Category: c}, r.Detach(c)
	}

	r.mu.Lock()
	id := r.nextID.Add(1)
	var prev Sink
	if old, ok := r.slots.Get(c); ok {
		prev = old.sink
	}
	r.slots.Set(c, &slot{id: id, sink: sink})
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"stream":   c,
		"replaced": prev != nil,
	}).Debug("Stream sink attached")
	r.notify(c, true)

	return Token{Category: c, id: id}, prev
}

// Detach clears the sink for c and returns it (nil if none was attached).
func (r *Registry) Detach(c Category) Sink {
	r.mu.Lock()
	old, ok := r.slots.Get(c)
	if ok {
		r.slots.Del(c)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	r.logger.WithField("stream", c).Debug("Stream sink detached")
	r.notify(c, false)
	return old.sink
}

// Release detaches the sink identified by t, but only if it is still the
// active one. Reports whether anything was detached.
func (r *Registry) Release(t Token) bool {
	r.mu.Lock()
	old, ok := r.slots.Get(t.Category)
	if !ok || old.id != t.id {
		r.mu.Unlock()
		return false
	}
	r.slots.Del(t.Category)
	r.mu.Unlock()

	r.logger.WithField("stream", t.Category).Debug("Stream sink released")
	r.notify(t.Category, false)
	return true
}

// DetachAll clears every category.
func (r *Registry) DetachAll() {
	for _, c := range Categories() {
		r.Detach(c)
	}
}

// Active reports whether c currently has a sink.
func (r *Registry) Active(c Category) bool {
	_, ok := r.slots.Get(c)
	return ok
}

// ActiveCount returns the number of categories with a sink.
func (r *Registry) ActiveCount() int {
	return r.slots.Len()
}

// Emit delivers event to the active sink of c. Returns false when the event
// was dropped because nothing is attached.
func (r *Registry) Emit(c Category, event any) bool {
	s, ok := r.slots.Get(c)
	if !ok {
		if r.logger.IsLevelEnabled(logrus.TraceLevel) {
			r.logger.WithField("stream", c).Trace("No sink attached, event dropped")
		}
		return false
	}
	s.sink.Success(event)
	return true
}

// EmitError delivers an error event to the active sink of c.
func (r *Registry) EmitError(c Category, code, message string, details any) bool {
	s, ok := r.slots.Get(c)
	if !ok {
		return false
	}
	s.sink.Error(code, message, details)
	return true
}

func (r *Registry) notify(c Category, active bool) {
	if r.OnChange != nil {
		r.OnChange(c, active)
	}
}
