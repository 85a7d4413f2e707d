// Package looper provides a single serial execution context, the equivalent
// of a host UI thread: every posted task runs on the same goroutine, one at a
// time, in posting order.
package looper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/musebridge/internal/groutine"
)

// Scheduler is the part of Looper that producers need.
type Scheduler interface {
	Post(fn func()) bool
	PostDelayed(delay time.Duration, fn func()) bool
}

// Looper runs posted tasks sequentially on one goroutine.
type Looper struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
	timers map[*time.Timer]struct{}
	logger *logrus.Logger
}

// New starts a looper. Close must be called to stop it.
func New(name string, logger *logrus.Logger) *Looper {
	if logger == nil {
		logger = logrus.New()
	}
	l := &Looper{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		timers: make(map[*time.Timer]struct{}),
		logger: logger,
	}
	groutine.Go(context.Background(), name, l.run)
	return l
}

// Post enqueues fn. Returns false if the looper is closed.
func (l *Looper) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// PostDelayed enqueues fn after delay. Once scheduled the task cannot be
// cancelled individually; only Close discards it.
func (l *Looper) PostDelayed(delay time.Duration, fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		l.mu.Lock()
		delete(l.timers, t)
		l.mu.Unlock()
		l.Post(fn)
	})
	l.timers[t] = struct{}{}
	return true
}

// Sync blocks until every task posted before the call has run.
// Returns false if the looper is closed.
func (l *Looper) Sync() bool {
	barrier := make(chan struct{})
	if !l.Post(func() { close(barrier) }) {
		return false
	}
	select {
	case <-barrier:
		return true
	case <-l.done:
		return false
	}
}

// Close stops accepting tasks, drops pending delayed tasks, runs what is
// already queued and waits for the loop to exit. Safe to call more than once.
func (l *Looper) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.closed = true
	for t := range l.timers {
		t.Stop()
	}
	l.timers = nil
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	<-l.done
}

func (l *Looper) run(ctx context.Context) {
	defer close(l.done)
	l.logger.WithField("looper", groutine.Name(ctx)).Debug("Looper started")

	for {
		l.mu.Lock()
		tasks := l.queue
		l.queue = nil
		closed := l.closed
		l.mu.Unlock()

		for _, task := range tasks {
			l.runTask(task)
		}

		if closed && len(tasks) == 0 {
			l.logger.WithField("looper", groutine.Name(ctx)).Debug("Looper stopped")
			return
		}
		if len(tasks) > 0 {
			continue
		}
		<-l.wake
	}
}

func (l *Looper) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.WithField("panic", fmt.Sprint(r)).Error("Looper task panicked")
		}
	}()
	task()
}
