package goble_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-ble/ble"
	"github.com/srg/musebridge/internal/headset"
	"github.com/srg/musebridge/internal/headset/goble"
	"github.com/srg/musebridge/internal/headset/museproto"
	"github.com/srg/musebridge/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const museAddr = "00:55:da:b0:12:34"

func museProfile(withPPG bool) *ble.Profile {
	chars := []*ble.Characteristic{
		{UUID: museproto.ControlUUID, Property: ble.CharWriteNR | ble.CharNotify},
		{UUID: museproto.TelemetryUUID, Property: ble.CharNotify},
		{UUID: museproto.AccelerometerUUID, Property: ble.CharNotify},
		{UUID: museproto.GyroscopeUUID, Property: ble.CharNotify},
	}
	for _, u := range museproto.EEGUUIDs {
		chars = append(chars, &ble.Characteristic{UUID: u, Property: ble.CharNotify})
	}
	if withPPG {
		for _, u := range museproto.PPGUUIDs {
			chars = append(chars, &ble.Characteristic{UUID: u, Property: ble.CharNotify})
		}
	}
	return &ble.Profile{Services: []*ble.Service{{UUID: museproto.ServiceUUID, Characteristics: chars}}}
}

type GobleSDKTestSuite struct {
	suite.Suite

	originalFactory func() (goble.Central, error)
	central         *MockCentral
	client          *MockGATTClient
	sdk             *goble.SDK
	lists           chan []headset.Descriptor
}

func (suite *GobleSDKTestSuite) SetupTest() {
	suite.originalFactory = goble.CentralFactory
	suite.central = &MockCentral{}
	suite.client = NewMockGATTClient()
	goble.CentralFactory = func() (goble.Central, error) { return suite.central, nil }

	suite.lists = make(chan []headset.Descriptor, 16)
	suite.sdk = goble.New(testutils.InlineScheduler{}, nil, testutils.QuietLogger())
}

func (suite *GobleSDKTestSuite) TearDownTest() {
	goble.CentralFactory = suite.originalFactory
}

// discover runs a scan that reports advs and waits for the resulting list
func (suite *GobleSDKTestSuite) discover(advs ...ble.Advertisement) []headset.Descriptor {
	suite.central.On("Scan", mock.Anything, true, mock.Anything).
		Run(func(args mock.Arguments) {
			h := args.Get(2).(ble.AdvHandler)
			for _, adv := range advs {
				h(adv)
			}
		}).
		Return(nil).Once()

	err := suite.sdk.StartScan(context.Background(), func(list []headset.Descriptor) {
		select {
		case suite.lists <- list:
		default:
		}
	})
	suite.Require().NoError(err, "scan MUST start")
	suite.Require().NoError(suite.sdk.StopScan(), "stop MUST wait for the scan to finish")

	var last []headset.Descriptor
	for {
		select {
		case l := <-suite.lists:
			last = l
			continue
		default:
		}
		break
	}
	return last
}

func (suite *GobleSDKTestSuite) connect(listener headset.Listener) {
	suite.discover(testutils.NewAdvertisementBuilder().WithName("Muse-1234").WithAddress(museAddr).Build())

	suite.client.On("DiscoverProfile", true).Return(museProfile(true), nil)
	suite.client.On("Subscribe", mock.Anything, false, mock.Anything).Return(nil)
	suite.client.On("WriteCharacteristic", mock.Anything, mock.Anything, false).Return(nil)
	suite.client.On("ClearSubscriptions").Return(nil)
	suite.client.On("CancelConnection").Return(nil)
	suite.central.On("Connect", mock.Anything, museAddr).Return(suite.client, nil).Once()

	ok, err := suite.sdk.Connect(context.Background(), museAddr, listener)
	suite.Require().NoError(err, "connect MUST succeed")
	suite.Require().True(ok, "connect MUST report success")
}

func (suite *GobleSDKTestSuite) TestScan_ReportsOnlyMuseHeadsets() {
	// GOAL: Verify discovery filters by Muse name and publishes the full list
	//
	// TEST SCENARIO: advertise two Muse headsets and one other device → list has the two Muse headsets sorted by id

	list := suite.discover(
		testutils.NewAdvertisementBuilder().WithName("Muse-BBBB").WithAddress("00:55:da:b0:00:02").Build(),
		testutils.NewAdvertisementBuilder().WithName("Polar H10").WithAddress("11:22:33:44:55:66").Build(),
		testutils.NewAdvertisementBuilder().WithName("Muse-AAAA").WithAddress("00:55:da:b0:00:01").Build(),
	)

	suite.Equal([]headset.Descriptor{
		{ID: "00:55:da:b0:00:01", Name: "Muse-AAAA", BatteryPercent: headset.PlaceholderBattery},
		{ID: "00:55:da:b0:00:02", Name: "Muse-BBBB", BatteryPercent: headset.PlaceholderBattery},
	}, list, "list MUST contain only Muse headsets ordered by id")
}

func (suite *GobleSDKTestSuite) TestScan_CentralFactoryFailure() {
	goble.CentralFactory = func() (goble.Central, error) {
		return nil, goble.NormalizeError(errors.New("central manager has invalid state: have=4 want=5"))
	}

	err := suite.sdk.StartScan(context.Background(), nil)
	suite.Require().Error(err)
	suite.ErrorIs(err, headset.ErrBluetoothOff, "platform error MUST normalize to ErrBluetoothOff")
}

func (suite *GobleSDKTestSuite) TestScan_StartWhileScanningSucceeds() {
	// GOAL: Verify a second StartScan during an active scan is a no-op success
	//
	// TEST SCENARIO: start scan, start again before stopping → no error, platform scan started once

	suite.central.On("Scan", mock.Anything, true, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil).Once()

	suite.Require().NoError(suite.sdk.StartScan(context.Background(), nil))
	suite.NoError(suite.sdk.StartScan(context.Background(), nil), "second start MUST NOT fail while scanning")
	suite.Require().NoError(suite.sdk.StopScan())

	suite.central.AssertNumberOfCalls(suite.T(), "Scan", 1)
}

func (suite *GobleSDKTestSuite) TestConnect_UnknownDeviceReportsFalse() {
	ok, err := suite.sdk.Connect(context.Background(), "ff:ff:ff:ff:ff:ff", nil)
	suite.NoError(err)
	suite.False(ok, "unknown device MUST report false")
	suite.central.AssertNotCalled(suite.T(), "Connect", mock.Anything, mock.Anything)
}

func (suite *GobleSDKTestSuite) TestConnect_SubscribesAndReportsStatus() {
	// GOAL: Verify connect subscribes to every data characteristic and reports connection status
	//
	// TEST SCENARIO: connect → 12 subscriptions, status connected; telemetry → battery status; disconnect → status disconnected

	listener := &testutils.RecordingListener{}
	suite.connect(listener)

	suite.Equal(11, suite.client.Subscriptions(), "every data characteristic MUST be subscribed")
	suite.Equal([]headset.ConnectionStatus{{DeviceID: museAddr, IsConnected: true}}, listener.StatusSnapshot())
	suite.True(suite.sdk.Devices()[0].IsConnected, "descriptor MUST report connected")

	ok, err := suite.sdk.Connect(context.Background(), museAddr, listener)
	suite.NoError(err)
	suite.True(ok, "connecting a connected headset MUST succeed")
	suite.central.AssertNumberOfCalls(suite.T(), "Connect", 1)

	telemetry := []byte{0x00, 0x01, 0x64, 0x00, 0x03, 0xE8, 0x00, 0x00, 0x00, 0x19}
	suite.True(suite.client.Notify(museproto.TelemetryUUID, telemetry))
	suite.True(suite.client.Notify(museproto.TelemetryUUID, telemetry))

	statuses := listener.StatusSnapshot()
	suite.Require().Len(statuses, 2, "unchanged battery MUST NOT be reported twice")
	suite.Equal(headset.ConnectionStatus{DeviceID: museAddr, IsConnected: true, BatteryPercent: 50}, statuses[1])

	suite.Require().NoError(suite.sdk.Disconnect(museAddr))
	suite.client.AssertCalled(suite.T(), "ClearSubscriptions")
	suite.client.AssertCalled(suite.T(), "CancelConnection")

	statuses = listener.StatusSnapshot()
	suite.Equal(headset.ConnectionStatus{DeviceID: museAddr, IsConnected: false, BatteryPercent: 50}, statuses[len(statuses)-1])
	suite.Equal(50, suite.sdk.Devices()[0].BatteryPercent, "battery MUST survive disconnect")

	suite.NoError(suite.sdk.Disconnect(museAddr), "disconnecting an idle headset MUST succeed")
}

func (suite *GobleSDKTestSuite) TestStream_WritesControlCommands() {
	suite.connect(nil)

	suite.Require().NoError(suite.sdk.StartStream(museAddr))
	suite.Equal(museproto.StartSequence(museproto.PresetWithPPG), suite.client.Writes(), "start MUST write the start sequence")

	suite.Require().NoError(suite.sdk.StopStream(museAddr))
	writes := suite.client.Writes()
	suite.Equal(museproto.EncodeCommand(museproto.CmdHalt), writes[len(writes)-1], "stop MUST halt")
}

func (suite *GobleSDKTestSuite) TestStream_RequiresConnection() {
	err := suite.sdk.StartStream("ff:ff:ff:ff:ff:ff")
	suite.ErrorIs(err, headset.ErrUnknownDevice)

	suite.discover(testutils.NewAdvertisementBuilder().WithName("Muse-1234").WithAddress(museAddr).Build())
	err = suite.sdk.StopStream(museAddr)
	suite.ErrorIs(err, headset.ErrNotConnected)
}

func (suite *GobleSDKTestSuite) TestNotifications_DecodeIntoSamples() {
	// GOAL: Verify notifications are decoded and forwarded to the listener
	//
	// TEST SCENARIO: all four EEG electrodes → 12 EEG samples; accelerometer → 3 motion samples; PPG x3 → 6 optical samples

	listener := &testutils.RecordingListener{}
	suite.connect(listener)
	suite.Require().NoError(suite.sdk.StartStream(museAddr))

	eeg := make([]byte, 20)
	eeg[1] = 7
	for _, e := range []museproto.Electrode{museproto.TP9, museproto.AF7, museproto.AF8} {
		suite.True(suite.client.Notify(museproto.EEGUUIDs[e], eeg))
	}
	suite.Empty(listener.EEG, "incomplete group MUST NOT emit")
	suite.True(suite.client.Notify(museproto.EEGUUIDs[museproto.TP10], eeg))
	suite.Require().Len(listener.EEG, museproto.EEGSamplesPerPacket)
	suite.Equal(museAddr, listener.EEG[0].DeviceID)
	suite.Equal(-1000.0, listener.EEG[0].TP9)
	suite.LessOrEqual(listener.EEG[0].Timestamp, listener.EEG[11].Timestamp, "samples MUST be time ordered")
	testutils.NewJSONAsserter(suite.T()).WithOptions(testutils.WithIgnoreExtraKeys(false)).
		AssertValue(listener.EEG[0], `{
			"deviceId": "`+museAddr+`",
			"timestamp": "<<PRESENCE>>",
			"msElapsed": "<<PRESENCE>>",
			"tp9Raw": -1000, "af7Raw": -1000, "af8Raw": -1000, "tp10Raw": -1000
		}`)

	imu := make([]byte, 20)
	imu[2] = 0x40
	suite.True(suite.client.Notify(museproto.AccelerometerUUID, imu))
	suite.Require().Len(listener.Motion, museproto.MotionSamplesPerPacket)
	suite.Equal(headset.Accelerometer, listener.Motion[0].Kind)
	suite.InDelta(1.0, listener.Motion[0].X, 1e-4)

	for _, u := range museproto.PPGUUIDs {
		suite.True(suite.client.Notify(u, make([]byte, 20)))
	}
	suite.Len(listener.Optical, museproto.PPGSamplesPerPacket)

	suite.True(suite.client.Notify(museproto.GyroscopeUUID, []byte{1, 2}), "short packet MUST be dropped quietly")
	suite.Len(listener.Motion, museproto.MotionSamplesPerPacket)
}

func (suite *GobleSDKTestSuite) TestConnect_FailsWithoutControlCharacteristic() {
	suite.discover(testutils.NewAdvertisementBuilder().WithName("Muse-1234").WithAddress(museAddr).Build())

	suite.client.On("DiscoverProfile", true).Return(&ble.Profile{}, nil)
	suite.client.On("CancelConnection").Return(nil)
	suite.central.On("Connect", mock.Anything, museAddr).Return(suite.client, nil)

	ok, err := suite.sdk.Connect(context.Background(), museAddr, nil)
	suite.Error(err)
	suite.False(ok)
	suite.Contains(err.Error(), "control characteristic not found")
	suite.client.AssertCalled(suite.T(), "CancelConnection")
	suite.False(suite.sdk.Devices()[0].IsConnected)
}

func (suite *GobleSDKTestSuite) TestConnect_NormalizesDialError() {
	suite.discover(testutils.NewAdvertisementBuilder().WithName("Muse-1234").WithAddress(museAddr).Build())
	suite.central.On("Connect", mock.Anything, museAddr).Return(nil, fmt.Errorf("bluetooth is turned off"))

	ok, err := suite.sdk.Connect(context.Background(), museAddr, nil)
	suite.False(ok)
	suite.ErrorIs(err, headset.ErrBluetoothOff)
}

func (suite *GobleSDKTestSuite) TestClose_DisconnectsEverything() {
	listener := &testutils.RecordingListener{}
	suite.connect(listener)

	suite.Require().NoError(suite.sdk.Close())
	suite.client.AssertCalled(suite.T(), "CancelConnection")
	suite.NoError(suite.sdk.Close(), "close MUST be idempotent")

	statuses := listener.StatusSnapshot()
	suite.False(statuses[len(statuses)-1].IsConnected)
}

func TestGobleSDKTestSuite(t *testing.T) {
	suite.Run(t, new(GobleSDKTestSuite))
}

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"darwin powered off", errors.New("central manager has invalid state: have=4 want=5"), headset.ErrBluetoothOff},
		{"turned off", errors.New("Bluetooth is turned off"), headset.ErrBluetoothOff},
		{"not connected", errors.New("device not connected"), headset.ErrNotConnected},
		{"disconnected", errors.New("peripheral disconnected"), headset.ErrNotConnected},
		{"already connected", errors.New("device already connected"), headset.ErrAlreadyConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := goble.NormalizeError(tt.err)
			assert.ErrorIs(t, err, tt.target)
			assert.ErrorContains(t, err, tt.err.Error(), "original message MUST be preserved")
		})
	}

	assert.NoError(t, goble.NormalizeError(nil))
	plain := errors.New("something else")
	assert.Same(t, plain, goble.NormalizeError(plain), "unknown errors MUST pass through")
	require.ErrorIs(t, goble.NormalizeError(context.Canceled), context.Canceled)
}
