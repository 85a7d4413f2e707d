// Package museproto describes the GATT profile of Muse headsets and decodes
// their notification packets.
//
// Every data packet starts with a big-endian 16-bit sequence number followed
// by the payload:
//   - EEG: 12 samples, 12 bits each, one characteristic per electrode
//   - PPG: 6 samples, 24 bits each, one characteristic per light channel
//   - accelerometer / gyroscope: 3 samples of signed 16-bit x, y, z
//   - telemetry: battery, fuel gauge voltage, temperature
package museproto

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/go-ble/ble"
)

// Sampling constants
const (
	EEGSamplesPerPacket    = 12
	EEGSampleRate          = 256 // Hz
	PPGSamplesPerPacket    = 6
	PPGSampleRate          = 64 // Hz
	MotionSamplesPerPacket = 3
	MotionSampleRate       = 52 // Hz

	eegScale   = 0.48828125 // µV per LSB
	eegOffset  = 0x800
	accelScale = 0.0000610352 // g per LSB
	gyroScale  = 0.0074768    // deg/s per LSB
)

// NamePrefix is the advertised local name prefix of every Muse headset.
const NamePrefix = "Muse"

// Service and characteristic UUIDs
var (
	ServiceUUID = ble.UUID16(0xfe8d)

	ControlUUID       = ble.MustParse("273e0001-4c4d-454d-96be-f03bac821358")
	TelemetryUUID     = ble.MustParse("273e000b-4c4d-454d-96be-f03bac821358")
	GyroscopeUUID     = ble.MustParse("273e0009-4c4d-454d-96be-f03bac821358")
	AccelerometerUUID = ble.MustParse("273e000a-4c4d-454d-96be-f03bac821358")
)

// Electrode identifies one EEG channel.
type Electrode int

const (
	TP9 Electrode = iota
	AF7
	AF8
	TP10
	AUX
)

var electrodeNames = [...]string{"TP9", "AF7", "AF8", "TP10", "AUX"}

func (e Electrode) String() string {
	if e < 0 || int(e) >= len(electrodeNames) {
		return fmt.Sprintf("Electrode(%d)", int(e))
	}
	return electrodeNames[e]
}

// EEGUUIDs maps electrodes to their characteristics.
var EEGUUIDs = map[Electrode]ble.UUID{
	TP9:  ble.MustParse("273e0003-4c4d-454d-96be-f03bac821358"),
	AF7:  ble.MustParse("273e0004-4c4d-454d-96be-f03bac821358"),
	AF8:  ble.MustParse("273e0005-4c4d-454d-96be-f03bac821358"),
	TP10: ble.MustParse("273e0006-4c4d-454d-96be-f03bac821358"),
	AUX:  ble.MustParse("273e0007-4c4d-454d-96be-f03bac821358"),
}

// PPGChannel identifies one optical channel.
type PPGChannel int

const (
	PPGAmbient PPGChannel = iota
	PPGInfrared
	PPGRed
)

// PPGUUIDs maps optical channels to their characteristics.
var PPGUUIDs = map[PPGChannel]ble.UUID{
	PPGAmbient:  ble.MustParse("273e000f-4c4d-454d-96be-f03bac821358"),
	PPGInfrared: ble.MustParse("273e0010-4c4d-454d-96be-f03bac821358"),
	PPGRed:      ble.MustParse("273e0011-4c4d-454d-96be-f03bac821358"),
}

// Control commands
const (
	CmdHalt       = "h"
	CmdStart      = "s"
	CmdResume     = "d"
	CmdKeepAlive  = "k"
	CmdDeviceInfo = "v1"
	PresetEEGOnly = "p21"
	PresetWithPPG = "p50"
)

// EncodeCommand frames a control command: a length byte, the ASCII command
// and a trailing newline.
func EncodeCommand(cmd string) []byte {
	out := make([]byte, 0, len(cmd)+2)
	out = append(out, byte(len(cmd)+1))
	out = append(out, cmd...)
	out = append(out, '\n')
	return out
}

// StartSequence returns the commands that start streaming with preset.
func StartSequence(preset string) [][]byte {
	return [][]byte{
		EncodeCommand(CmdHalt),
		EncodeCommand(preset),
		EncodeCommand(CmdStart),
		EncodeCommand(CmdResume),
	}
}

// StopSequence returns the commands that pause streaming.
func StopSequence() [][]byte {
	return [][]byte{EncodeCommand(CmdHalt)}
}

// IsMuseName reports whether an advertised name belongs to a Muse headset.
func IsMuseName(name string) bool {
	return strings.HasPrefix(name, NamePrefix)
}

// PacketError reports a notification payload that is too short to decode.
type PacketError struct {
	Kind string
	Want int
	Got  int
}

func (e *PacketError) Error() string {
	return fmt.Sprintf("%s packet too short: want %d bytes, got %d", e.Kind, e.Want, e.Got)
}

// EEGPacket is one decoded electrode packet.
type EEGPacket struct {
	Sequence uint16
	Samples  [EEGSamplesPerPacket]float64 // µV
}

// DecodeEEG decodes a 20-byte electrode notification.
func DecodeEEG(data []byte) (EEGPacket, error) {
	const want = 2 + EEGSamplesPerPacket*3/2
	if len(data) < want {
		return EEGPacket{}, &PacketError{Kind: "eeg", Want: want, Got: len(data)}
	}

	var p EEGPacket
	p.Sequence = binary.BigEndian.Uint16(data)
	raw := decodeUnsigned12(data[2:want])
	for i, v := range raw {
		p.Samples[i] = eegScale * float64(int(v)-eegOffset)
	}
	return p, nil
}

// PPGPacket is one decoded optical packet.
type PPGPacket struct {
	Sequence uint16
	Samples  [PPGSamplesPerPacket]float64
}

// DecodePPG decodes a 20-byte optical notification.
func DecodePPG(data []byte) (PPGPacket, error) {
	const want = 2 + PPGSamplesPerPacket*3
	if len(data) < want {
		return PPGPacket{}, &PacketError{Kind: "ppg", Want: want, Got: len(data)}
	}

	var p PPGPacket
	p.Sequence = binary.BigEndian.Uint16(data)
	for i := 0; i < PPGSamplesPerPacket; i++ {
		b := data[2+i*3:]
		p.Samples[i] = float64(uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]))
	}
	return p, nil
}

// Vector is one three-axis reading
type Vector struct {
	X, Y, Z float64
}

// IMUPacket is one decoded accelerometer or gyroscope packet.
type IMUPacket struct {
	Sequence uint16
	Samples  [MotionSamplesPerPacket]Vector
}

// DecodeAccelerometer decodes an accelerometer notification into g.
func DecodeAccelerometer(data []byte) (IMUPacket, error) {
	return decodeIMU("accelerometer", data, accelScale)
}

// DecodeGyroscope decodes a gyroscope notification into degrees per second.
func DecodeGyroscope(data []byte) (IMUPacket, error) {
	return decodeIMU("gyroscope", data, gyroScale)
}

func decodeIMU(kind string, data []byte, scale float64) (IMUPacket, error) {
	const want = 2 + MotionSamplesPerPacket*6
	if len(data) < want {
		return IMUPacket{}, &PacketError{Kind: kind, Want: want, Got: len(data)}
	}

	var p IMUPacket
	p.Sequence = binary.BigEndian.Uint16(data)
	for i := 0; i < MotionSamplesPerPacket; i++ {
		off := 2 + i*6
		p.Samples[i] = Vector{
			X: scale * float64(int16(binary.BigEndian.Uint16(data[off:]))),
			Y: scale * float64(int16(binary.BigEndian.Uint16(data[off+2:]))),
			Z: scale * float64(int16(binary.BigEndian.Uint16(data[off+4:]))),
		}
	}
	return p, nil
}

// Telemetry is a decoded telemetry packet.
type Telemetry struct {
	Sequence         uint16
	BatteryPercent   float64
	FuelGaugeVoltage float64 // mV
	Temperature      int
}

// DecodeTelemetry decodes a telemetry notification.
func DecodeTelemetry(data []byte) (Telemetry, error) {
	const want = 10
	if len(data) < want {
		return Telemetry{}, &PacketError{Kind: "telemetry", Want: want, Got: len(data)}
	}
	return Telemetry{
		Sequence:         binary.BigEndian.Uint16(data),
		BatteryPercent:   float64(binary.BigEndian.Uint16(data[2:])) / 512,
		FuelGaugeVoltage: float64(binary.BigEndian.Uint16(data[4:])) * 2.2,
		Temperature:      int(binary.BigEndian.Uint16(data[8:])),
	}, nil
}

// decodeUnsigned12 unpacks pairs of 12-bit values from every 3 bytes.
func decodeUnsigned12(b []byte) []uint16 {
	out := make([]uint16, 0, len(b)*2/3)
	for i := 0; i+2 < len(b); i += 3 {
		out = append(out,
			uint16(b[i])<<4|uint16(b[i+1])>>4,
			uint16(b[i+1]&0x0f)<<8|uint16(b[i+2]),
		)
	}
	return out
}
