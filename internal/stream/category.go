package stream

import "fmt"

// Category identifies one event stream.
type Category string

const (
	DeviceScan       Category = "device_scan"
	EEGData          Category = "eeg_data"
	BandPower        Category = "band_power"
	Optical          Category = "fnirs"
	Motion           Category = "imu"
	ConnectionStatus Category = "connection_status"
)

const channelPrefix = "com.muselog.muse/"

// Categories returns every event category in registration order.
func Categories() []Category {
	return []Category{DeviceScan, EEGData, BandPower, Optical, Motion, ConnectionStatus}
}

// ChannelName returns the event channel name shared with the host shell.
func (c Category) ChannelName() string {
	return channelPrefix + string(c)
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory accepts either a bare category ("eeg_data") or a full
// channel name ("com.muselog.muse/eeg_data").
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories() {
		if s == string(c) || s == c.ChannelName() {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown event stream %q", s)
}
