// Package stub is a headset SDK that needs no hardware. A scan produces one
// placeholder headset after a fixed delay; every other operation succeeds
// without doing anything.
package stub

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/musebridge/internal/headset"
	"github.com/srg/musebridge/internal/looper"
)

// DefaultScanDelay is how long after StartScan the placeholder is reported.
const DefaultScanDelay = time.Second

// Placeholder values of the synthetic scan result
const (
	PlaceholderID      = "00:55:DA:B0:XX:XX"
	PlaceholderName    = "Muse-TEST"
	PlaceholderBattery = 75
)

// Placeholder returns the synthetic device reported by every scan.
func Placeholder() headset.Descriptor {
	return headset.Descriptor{
		ID:             PlaceholderID,
		Name:           PlaceholderName,
		IsConnected:    false,
		BatteryPercent: PlaceholderBattery,
	}
}

var _ headset.SDK = (*SDK)(nil)

// SDK is the synthetic headset SDK
type SDK struct {
	scheduler looper.Scheduler
	delay     time.Duration
	logger    *logrus.Logger
	scans     atomic.Int64
}

// New creates a stub SDK whose delayed scan results are delivered through scheduler.
func New(scheduler looper.Scheduler, delay time.Duration, logger *logrus.Logger) *SDK {
	if logger == nil {
		logger = logrus.New()
	}
	if delay < 0 {
		delay = DefaultScanDelay
	}
	return &SDK{scheduler: scheduler, delay: delay, logger: logger}
}

// StartScan schedules one placeholder result. Every call schedules its own
// result; StopScan does not cancel it.
func (s *SDK) StartScan(_ context.Context, onList func([]headset.Descriptor)) error {
	n := s.scans.Add(1)
	s.logger.WithFields(logrus.Fields{
		"delay": s.delay,
		"scan":  n,
	}).Debug("Stub scan started, placeholder scheduled")

	s.scheduler.PostDelayed(s.delay, func() {
		if onList != nil {
			onList([]headset.Descriptor{Placeholder()})
		}
	})
	return nil
}

// StopScan does nothing
func (s *SDK) StopScan() error {
	s.logger.Debug("Stub scan stopped")
	return nil
}

// Connect always succeeds
func (s *SDK) Connect(_ context.Context, id string, _ headset.Listener) (bool, error) {
	s.logger.WithField("device", id).Debug("Stub connect")
	return true, nil
}

func (s *SDK) Disconnect(id string) error {
	s.logger.WithField("device", id).Debug("Stub disconnect")
	return nil
}

func (s *SDK) StartStream(string) error { return nil }
func (s *SDK) StopStream(string) error  { return nil }
func (s *SDK) Close() error             { return nil }

// Scans returns how many scans were started
func (s *SDK) Scans() int64 {
	return s.scans.Load()
}
