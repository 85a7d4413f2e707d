// Package goble implements the headset SDK for Muse headsets over Bluetooth LE
// using go-ble.
package goble

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	blelib "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/musebridge/internal/groutine"
	"github.com/srg/musebridge/internal/headset"
	"github.com/srg/musebridge/internal/headset/museproto"
	"github.com/srg/musebridge/internal/looper"
)

// Options configures the go-ble SDK
type Options struct {
	// AllowDuplicates reports every advertisement, not only the first one per device
	AllowDuplicates bool
	// ConnectTimeout bounds dial plus service discovery
	ConnectTimeout time.Duration
	// Preset is the streaming preset sent on StartStream
	Preset string
}

// DefaultOptions returns the options used when nil is passed to New
func DefaultOptions() *Options {
	return &Options{
		AllowDuplicates: true,
		ConnectTimeout:  10 * time.Second,
		Preset:          museproto.PresetWithPPG,
	}
}

var _ headset.SDK = (*SDK)(nil)

// SDK drives Muse headsets through a Central. Callbacks are delivered through
// the scheduler, never from go-ble goroutines.
type SDK struct {
	scheduler looper.Scheduler
	opts      *Options
	logger    *logrus.Logger

	devices *hashmap.Map[string, *museDevice]

	mu         sync.Mutex
	central    Central
	scanCancel context.CancelFunc
	scanDone   chan struct{}
	onList     func([]headset.Descriptor)
	closed     bool
}

// New creates a go-ble SDK. The Central is created lazily on first use.
func New(scheduler looper.Scheduler, opts *Options, logger *logrus.Logger) *SDK {
	if logger == nil {
		logger = logrus.New()
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	return &SDK{
		scheduler: scheduler,
		opts:      opts,
		logger:    logger,
		devices:   hashmap.New[string, *museDevice](),
	}
}

func (s *SDK) centralLocked() (Central, error) {
	if s.central != nil {
		return s.central, nil
	}
	c, err := CentralFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE central: %w", err)
	}
	s.central = c
	return c, nil
}

// StartScan begins discovery of Muse headsets. Calling it while a scan is
// running only replaces the list callback.
func (s *SDK) StartScan(ctx context.Context, onList func([]headset.Descriptor)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return headset.ErrClosed
	}
	s.onList = onList
	if s.scanCancel != nil {
		return nil
	}

	central, err := s.centralLocked()
	if err != nil {
		return err
	}

	scanCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	s.scanCancel = cancel
	s.scanDone = done

	s.logger.WithField("allow_duplicates", s.opts.AllowDuplicates).Info("Starting Muse scan...")

	groutine.Go(scanCtx, "muse-scan", func(ctx context.Context) {
		defer close(done)
		err := central.Scan(ctx, s.opts.AllowDuplicates, s.handleAdvertisement)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			s.logger.WithError(err).Error("Muse scan failed")
		}
		s.logger.WithField("device_count", s.devices.Len()).Info("Muse scan completed")
	})
	return nil
}

// StopScan stops discovery and waits for the scan goroutine to exit.
func (s *SDK) StopScan() error {
	s.mu.Lock()
	cancel, done := s.scanCancel, s.scanDone
	s.scanCancel, s.scanDone = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// handleAdvertisement adds or updates a discovered headset and publishes the list when it changes
func (s *SDK) handleAdvertisement(adv blelib.Advertisement) {
	name := adv.LocalName()
	id := adv.Addr().String()

	dev, existing := s.devices.Get(id)
	if !existing {
		if !museproto.IsMuseName(name) {
			return
		}
		dev, existing = s.devices.GetOrInsert(id, newMuseDevice(id, name))
	}

	changed := !existing
	if existing {
		changed = dev.setName(name)
	} else {
		s.logger.WithFields(logrus.Fields{
			"device":  name,
			"address": id,
			"rssi":    adv.RSSI(),
		}).Info("Discovered Muse headset")
	}

	if changed {
		s.publishList()
	}
}

// publishList posts the current device list to the scan callback
func (s *SDK) publishList() {
	s.mu.Lock()
	onList := s.onList
	s.mu.Unlock()
	if onList == nil {
		return
	}
	list := s.Devices()
	s.scheduler.Post(func() { onList(list) })
}

// Devices returns a snapshot of discovered headsets ordered by id
func (s *SDK) Devices() []headset.Descriptor {
	list := make([]headset.Descriptor, 0, s.devices.Len())
	s.devices.Range(func(_ string, d *museDevice) bool {
		list = append(list, d.descriptor())
		return true
	})
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// Connect dials a discovered headset, discovers its profile and subscribes to
// every data characteristic. Connecting an already connected headset succeeds.
func (s *SDK) Connect(ctx context.Context, id string, listener headset.Listener) (bool, error) {
	dev, ok := s.devices.Get(id)
	if !ok {
		s.logger.WithField("device", id).Warn("Connect requested for unknown device")
		return false, nil
	}
	if dev.connected() {
		return true, nil
	}
	if listener == nil {
		listener = headset.NopListener{}
	}

	s.mu.Lock()
	central, err := s.centralLocked()
	s.mu.Unlock()
	if err != nil {
		return false, err
	}

	if s.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ConnectTimeout)
		defer cancel()
	}

	logger := s.logger.WithField("device", id)
	logger.Info("Connecting to Muse headset...")

	client, err := central.Connect(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to connect to %s: %w", id, NormalizeError(err))
	}

	sess, err := s.openSession(dev, client, listener)
	if err != nil {
		_ = client.CancelConnection()
		return false, err
	}
	if !dev.attach(sess) {
		_ = client.CancelConnection()
		return true, nil
	}

	logger.Info("Muse headset connected")
	s.postStatus(sess, true)
	s.publishList()
	return true, nil
}

// Disconnect tears down the connection. Disconnecting an idle headset succeeds.
func (s *SDK) Disconnect(id string) error {
	dev, ok := s.devices.Get(id)
	if !ok {
		return nil
	}
	sess := dev.detach()
	if sess == nil {
		return nil
	}

	err := sess.close()
	s.logger.WithField("device", id).Info("Muse headset disconnected")
	s.postStatus(sess, false)
	s.publishList()
	return err
}

// StartStream sends the start command sequence
func (s *SDK) StartStream(id string) error {
	sess, err := s.session(id)
	if err != nil {
		return err
	}
	if err := sess.write(museproto.StartSequence(s.opts.Preset)); err != nil {
		return fmt.Errorf("failed to start stream on %s: %w", id, err)
	}
	sess.markStarted(time.Now())
	return nil
}

// StopStream sends the halt command
func (s *SDK) StopStream(id string) error {
	sess, err := s.session(id)
	if err != nil {
		return err
	}
	if err := sess.write(museproto.StopSequence()); err != nil {
		return fmt.Errorf("failed to stop stream on %s: %w", id, err)
	}
	return nil
}

// Close stops scanning and disconnects every headset
func (s *SDK) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.onList = nil
	s.mu.Unlock()

	_ = s.StopScan()

	var errs []error
	s.devices.Range(func(id string, _ *museDevice) bool {
		if err := s.Disconnect(id); err != nil {
			errs = append(errs, err)
		}
		return true
	})
	return errors.Join(errs...)
}

func (s *SDK) session(id string) (*session, error) {
	dev, ok := s.devices.Get(id)
	if !ok {
		return nil, &headset.ConnectionError{State: headset.UnknownDevice, Msg: id}
	}
	sess := dev.current()
	if sess == nil {
		return nil, &headset.ConnectionError{State: headset.NotConnected, Msg: id}
	}
	return sess, nil
}

func (s *SDK) postStatus(sess *session, connected bool) {
	status := headset.ConnectionStatus{
		DeviceID:       sess.id,
		IsConnected:    connected,
		BatteryPercent: sess.batteryPercent(),
	}
	listener := sess.listener
	s.scheduler.Post(func() { listener.OnConnectionStatus(status) })
}
