package main

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ScanProgress shows a countdown and the number of headsets found so far.
//
// A ScanProgress is single-use: Start at most once, then Stop. Stop is safe
// to call more than once.
type ScanProgress struct {
	out      io.Writer
	prefix   string
	duration time.Duration
	interval time.Duration
	found    atomic.Int64

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewScanProgress creates a countdown printer for a scan of duration
func NewScanProgress(out io.Writer, prefix string, duration time.Duration) *ScanProgress {
	return &ScanProgress{
		out:      out,
		prefix:   prefix,
		duration: duration,
		interval: progressUpdateInterval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// SetFound updates the headset count shown on the next tick
func (p *ScanProgress) SetFound(n int) {
	p.found.Store(int64(n))
}

// Start begins redrawing the progress line in a background goroutine
func (p *ScanProgress) Start() {
	p.startOnce.Do(func() {
		started := time.Now()
		p.print(p.duration)

		go func() {
			defer close(p.done)
			ticker := time.NewTicker(p.interval)
			defer ticker.Stop()

			for {
				select {
				case <-p.stop:
					return
				case <-ticker.C:
					p.print(p.duration - time.Since(started))
				}
			}
		}()
	})
}

// Stop terminates the goroutine and clears the progress line
func (p *ScanProgress) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
		started := true
		p.startOnce.Do(func() { started = false })
		if started {
			<-p.done
		}
		fmt.Fprint(p.out, clearLineSequence)
	})
}

func (p *ScanProgress) print(remaining time.Duration) {
	// Round to the nearest second, never below zero
	seconds := 0
	if remaining > 0 {
		seconds = int(remaining.Seconds() + 0.5)
	}
	fmt.Fprintf(p.out, "\r%s (%ds left, %d found)   ", p.prefix, seconds, p.found.Load())
}
