package testutils

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// QuietLogger returns a logger that discards everything
func QuietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// DebugLogger returns a debug-level logger writing to w, useful for asserting on log output
func DebugLogger(w io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetLevel(logrus.DebugLevel)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableColors: true})
	return logger
}

// RecordingSink is a stream sink that keeps everything it receives.
// Safe for concurrent use.
type RecordingSink struct {
	mu     sync.Mutex
	events []any
	errors []string
	ended  bool
	notify chan struct{}
}

// NewRecordingSink creates an empty recording sink
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{notify: make(chan struct{}, 1)}
}

func (s *RecordingSink) Success(event any) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
	s.signal()
}

func (s *RecordingSink) Error(code, message string, _ any) {
	s.mu.Lock()
	s.errors = append(s.errors, fmt.Sprintf("%s: %s", code, message))
	s.mu.Unlock()
	s.signal()
}

func (s *RecordingSink) EndOfStream() {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	s.signal()
}

func (s *RecordingSink) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Events returns a snapshot of received events
func (s *RecordingSink) Events() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]any, len(s.events))
	copy(out, s.events)
	if len(out) == 0 {
		return nil
	}
	return out
}

// Errors returns received error events formatted as "CODE: message"
func (s *RecordingSink) Errors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.errors...)
}

// Ended reports whether EndOfStream was received
func (s *RecordingSink) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// WaitForEvents blocks until at least n events arrived or timeout elapses.
// Returns the events received so far.
func (s *RecordingSink) WaitForEvents(n int, timeout time.Duration) []any {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if ev := s.Events(); len(ev) >= n {
			return ev
		}
		select {
		case <-s.notify:
		case <-deadline.C:
			return s.Events()
		}
	}
}
