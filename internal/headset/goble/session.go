package goble

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	blelib "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/musebridge/internal/headset"
	"github.com/srg/musebridge/internal/headset/museproto"
	"github.com/srg/musebridge/internal/looper"
)

// nowFunc is the clock used for sample timestamps
var nowFunc = time.Now

// museDevice is a discovered headset and its optional live session
type museDevice struct {
	id string

	mu      sync.Mutex
	name    string
	battery int
	sess    *session
}

func newMuseDevice(id, name string) *museDevice {
	return &museDevice{id: id, name: name, battery: headset.PlaceholderBattery}
}

// setName updates the advertised name, reporting whether it changed
func (d *museDevice) setName(name string) bool {
	if name == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.name == name {
		return false
	}
	d.name = name
	return true
}

func (d *museDevice) descriptor() headset.Descriptor {
	d.mu.Lock()
	defer d.mu.Unlock()
	desc := headset.Descriptor{
		ID:             d.id,
		Name:           d.name,
		BatteryPercent: d.battery,
	}
	if d.sess != nil {
		desc.IsConnected = true
		desc.BatteryPercent = d.sess.batteryPercent()
	}
	return desc
}

func (d *museDevice) connected() bool {
	return d.current() != nil
}

func (d *museDevice) current() *session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sess
}

// attach installs sess unless another session won the race
func (d *museDevice) attach(sess *session) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sess != nil {
		return false
	}
	d.sess = sess
	return true
}

func (d *museDevice) detach() *session {
	d.mu.Lock()
	defer d.mu.Unlock()
	sess := d.sess
	if sess != nil {
		d.battery = sess.batteryPercent()
	}
	d.sess = nil
	return sess
}

// session is one live GATT connection to a headset
type session struct {
	id        string
	client    GATTClient
	control   *blelib.Characteristic
	listener  headset.Listener
	scheduler looper.Scheduler
	logger    *logrus.Entry

	eeg *museproto.EEGAssembler
	ppg *museproto.PPGAssembler

	mu      sync.Mutex
	battery int
	started time.Time
}

type subscription struct {
	uuid    blelib.UUID
	handler blelib.NotificationHandler
}

// openSession discovers the Muse profile on client and subscribes to every
// data characteristic the headset exposes. Only the control characteristic
// is mandatory.
func (s *SDK) openSession(dev *museDevice, client GATTClient, listener headset.Listener) (*session, error) {
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		return nil, fmt.Errorf("failed to discover services on %s: %w", dev.id, NormalizeError(err))
	}

	control := profile.FindCharacteristic(blelib.NewCharacteristic(museproto.ControlUUID))
	if control == nil {
		return nil, fmt.Errorf("%s: muse control characteristic not found", dev.id)
	}

	dev.mu.Lock()
	battery := dev.battery
	dev.mu.Unlock()

	sess := &session{
		id:        dev.id,
		client:    client,
		control:   control,
		listener:  listener,
		scheduler: s.scheduler,
		logger:    s.logger.WithField("device", dev.id),
		eeg:       museproto.NewEEGAssembler(),
		ppg:       museproto.NewPPGAssembler(),
		battery:   battery,
	}

	subs := map[string]subscription{
		"telemetry":     {museproto.TelemetryUUID, sess.onTelemetry},
		"accelerometer": {museproto.AccelerometerUUID, sess.onMotion(headset.Accelerometer)},
		"gyroscope":     {museproto.GyroscopeUUID, sess.onMotion(headset.Gyroscope)},
	}
	for e, u := range museproto.EEGUUIDs {
		subs["eeg_"+e.String()] = subscription{u, sess.onEEG(e)}
	}
	for ch, u := range museproto.PPGUUIDs {
		subs[fmt.Sprintf("ppg_%d", ch)] = subscription{u, sess.onPPG(ch)}
	}

	subscribed := 0
	for name, sub := range subs {
		c := profile.FindCharacteristic(blelib.NewCharacteristic(sub.uuid))
		if c == nil {
			sess.logger.WithField("characteristic", name).Debug("Characteristic not present, skipping")
			continue
		}
		if err := client.Subscribe(c, false, sub.handler); err != nil {
			_ = client.ClearSubscriptions()
			return nil, fmt.Errorf("failed to subscribe to %s on %s: %w", name, dev.id, NormalizeError(err))
		}
		subscribed++
	}
	sess.logger.WithField("subscriptions", subscribed).Debug("Muse profile ready")
	return sess, nil
}

// write sends each command to the control characteristic in order
func (sess *session) write(cmds [][]byte) error {
	for _, cmd := range cmds {
		if err := sess.client.WriteCharacteristic(sess.control, cmd, false); err != nil {
			return NormalizeError(err)
		}
	}
	return nil
}

func (sess *session) close() error {
	var errs []error
	if err := sess.client.ClearSubscriptions(); err != nil {
		errs = append(errs, NormalizeError(err))
	}
	if err := sess.client.CancelConnection(); err != nil {
		errs = append(errs, NormalizeError(err))
	}
	sess.eeg.Reset()
	sess.ppg.Reset()
	return errors.Join(errs...)
}

func (sess *session) markStarted(t time.Time) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.started = t
}

func (sess *session) batteryPercent() int {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.battery
}

// timing returns the timestamp and elapsed streaming time of sample i out of
// n in a packet received now, spaced by the sample rate.
func (sess *session) timing(now time.Time, i, n, rate int) (int64, int64) {
	offset := time.Duration(n-1-i) * time.Second / time.Duration(rate)
	ts := now.Add(-offset)

	sess.mu.Lock()
	started := sess.started
	sess.mu.Unlock()

	var elapsed int64
	if !started.IsZero() && ts.After(started) {
		elapsed = ts.Sub(started).Milliseconds()
	}
	return ts.UnixMilli(), elapsed
}

func (sess *session) onEEG(e museproto.Electrode) blelib.NotificationHandler {
	return func(data []byte) {
		p, err := museproto.DecodeEEG(data)
		if err != nil {
			sess.logger.WithError(err).Debug("Dropping EEG packet")
			return
		}
		frames := sess.eeg.Add(e, p)
		if frames == nil {
			return
		}

		now := nowFunc()
		samples := make([]headset.EEGSample, len(frames))
		for i, f := range frames {
			ts, elapsed := sess.timing(now, i, len(frames), museproto.EEGSampleRate)
			samples[i] = headset.EEGSample{
				DeviceID:  sess.id,
				Timestamp: ts,
				MsElapsed: elapsed,
				TP9:       f.TP9,
				AF7:       f.AF7,
				AF8:       f.AF8,
				TP10:      f.TP10,
			}
		}
		sess.scheduler.Post(func() {
			for _, sample := range samples {
				sess.listener.OnEEG(sample)
			}
		})
	}
}

func (sess *session) onPPG(ch museproto.PPGChannel) blelib.NotificationHandler {
	return func(data []byte) {
		p, err := museproto.DecodePPG(data)
		if err != nil {
			sess.logger.WithError(err).Debug("Dropping PPG packet")
			return
		}
		frames := sess.ppg.Add(ch, p)
		if frames == nil {
			return
		}

		now := nowFunc()
		samples := make([]headset.OpticalSample, len(frames))
		for i, f := range frames {
			ts, elapsed := sess.timing(now, i, len(frames), museproto.PPGSampleRate)
			samples[i] = headset.OpticalSample{
				DeviceID:  sess.id,
				Timestamp: ts,
				MsElapsed: elapsed,
				Ambient:   f.Ambient,
				Infrared:  f.Infrared,
				Red:       f.Red,
			}
		}
		sess.scheduler.Post(func() {
			for _, sample := range samples {
				sess.listener.OnOptical(sample)
			}
		})
	}
}

func (sess *session) onMotion(kind headset.MotionKind) blelib.NotificationHandler {
	decode := museproto.DecodeAccelerometer
	if kind == headset.Gyroscope {
		decode = museproto.DecodeGyroscope
	}
	return func(data []byte) {
		p, err := decode(data)
		if err != nil {
			sess.logger.WithError(err).Debug("Dropping motion packet")
			return
		}

		now := nowFunc()
		samples := make([]headset.MotionSample, len(p.Samples))
		for i, v := range p.Samples {
			ts, elapsed := sess.timing(now, i, len(p.Samples), museproto.MotionSampleRate)
			samples[i] = headset.MotionSample{
				DeviceID:  sess.id,
				Timestamp: ts,
				MsElapsed: elapsed,
				Kind:      kind,
				X:         v.X,
				Y:         v.Y,
				Z:         v.Z,
			}
		}
		sess.scheduler.Post(func() {
			for _, sample := range samples {
				sess.listener.OnMotion(sample)
			}
		})
	}
}

// onTelemetry reports a connection status whenever the battery level changes
func (sess *session) onTelemetry(data []byte) {
	tel, err := museproto.DecodeTelemetry(data)
	if err != nil {
		sess.logger.WithError(err).Debug("Dropping telemetry packet")
		return
	}
	level := int(math.Round(tel.BatteryPercent))
	if level > 100 {
		level = 100
	}

	sess.mu.Lock()
	changed := sess.battery != level
	sess.battery = level
	sess.mu.Unlock()

	if !changed {
		return
	}
	sess.logger.WithField("battery", level).Debug("Battery level changed")
	status := headset.ConnectionStatus{DeviceID: sess.id, IsConnected: true, BatteryPercent: level}
	sess.scheduler.Post(func() { sess.listener.OnConnectionStatus(status) })
}
