// Package headset defines the capability the bridge needs from an EEG headset
// SDK, the payload types it produces and the errors it reports.
//
// Two implementations exist:
//   - stub: synthetic discovery, no hardware
//   - goble: Muse headsets over Bluetooth LE via go-ble
package headset

import (
	"context"
)

// PlaceholderBattery is reported when the battery level is not known yet.
const PlaceholderBattery = 0

// Descriptor is the minimal identifying record of a discoverable headset.
type Descriptor struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	IsConnected    bool   `json:"isConnected"`
	BatteryPercent int    `json:"batteryPercent"`
}

// ConnectionStatus is emitted when a headset connects, disconnects or
// reports a new battery level.
type ConnectionStatus struct {
	DeviceID       string `json:"deviceId"`
	IsConnected    bool   `json:"isConnected"`
	BatteryPercent int    `json:"batteryPercent"`
}

// EEGSample holds one sample of every EEG electrode, in microvolts.
type EEGSample struct {
	DeviceID  string  `json:"deviceId"`
	Timestamp int64   `json:"timestamp"` // unix milliseconds
	MsElapsed int64   `json:"msElapsed"` // since streaming started
	TP9       float64 `json:"tp9Raw"`
	AF7       float64 `json:"af7Raw"`
	AF8       float64 `json:"af8Raw"`
	TP10      float64 `json:"tp10Raw"`
}

// BandPower is the power of one frequency band per electrode
// (TP9, AF7, AF8, TP10).
type BandPower struct {
	DeviceID  string     `json:"deviceId"`
	Timestamp int64      `json:"timestamp"`
	Band      string     `json:"band"`
	Values    [4]float64 `json:"values"`
}

// OpticalSample is one PPG/fNIRS reading.
type OpticalSample struct {
	DeviceID  string  `json:"deviceId"`
	Timestamp int64   `json:"timestamp"`
	MsElapsed int64   `json:"msElapsed"`
	Ambient   float64 `json:"ambient"`
	Infrared  float64 `json:"infrared"`
	Red       float64 `json:"red"`
}

// MotionKind distinguishes accelerometer and gyroscope samples.
type MotionKind string

const (
	Accelerometer MotionKind = "accelerometer"
	Gyroscope     MotionKind = "gyroscope"
)

// MotionSample is one three-axis IMU reading
// (g for the accelerometer, degrees/s for the gyroscope).
type MotionSample struct {
	DeviceID  string     `json:"deviceId"`
	Timestamp int64      `json:"timestamp"`
	MsElapsed int64      `json:"msElapsed"`
	Kind      MotionKind `json:"kind"`
	X         float64    `json:"x"`
	Y         float64    `json:"y"`
	Z         float64    `json:"z"`
}

// Listener receives everything a connected headset produces.
// Implementations must not block.
type Listener interface {
	OnConnectionStatus(ConnectionStatus)
	OnEEG(EEGSample)
	OnBandPower(BandPower)
	OnOptical(OpticalSample)
	OnMotion(MotionSample)
}

// SDK is the headset capability the bridge dispatches commands to.
type SDK interface {
	// StartScan begins discovery. onList receives the full current device list
	// each time it changes.
	StartScan(ctx context.Context, onList func([]Descriptor)) error
	StopScan() error

	// Connect reports false without error when id is not a known device.
	Connect(ctx context.Context, id string, listener Listener) (bool, error)
	Disconnect(id string) error

	StartStream(id string) error
	StopStream(id string) error

	// Close releases every device and stops scanning.
	Close() error
}

// NopListener ignores everything.
type NopListener struct{}

func (NopListener) OnConnectionStatus(ConnectionStatus) {}
func (NopListener) OnEEG(EEGSample)                     {}
func (NopListener) OnBandPower(BandPower)               {}
func (NopListener) OnOptical(OpticalSample)             {}
func (NopListener) OnMotion(MotionSample)               {}
