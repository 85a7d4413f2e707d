package main

import (
	"strings"
	"testing"

	"github.com/srg/musebridge/internal/channel"
	"github.com/srg/musebridge/internal/permission"
	"github.com/srg/musebridge/internal/stream"
	"github.com/stretchr/testify/suite"
)

type CallTestSuite struct {
	CommandTestSuite
}

func (s *CallTestSuite) TestConnectPrintsResult() {
	out, _, err := s.ExecuteCommand("call", channel.MethodConnect, "deviceId=stub-muse-001")
	s.Require().NoError(err)
	s.JSONEq(`{"method":"connectToDevice","result":true}`, out)
	s.True(strings.HasPrefix(out, `{"method":`), "result keys MUST keep insertion order")
}

func (s *CallTestSuite) TestVoidCommandPrintsNull() {
	out, _, err := s.ExecuteCommand("call", channel.MethodStopStream, "deviceId=x")
	s.Require().NoError(err)
	s.JSONEq(`{"method":"stopDataStream","result":null}`, out)
}

func (s *CallTestSuite) TestMissingDeviceID() {
	// GOAL: Verify a device command without deviceId surfaces INVALID_ARGUMENT
	//
	// TEST SCENARIO: call connectToDevice without args → channel error → friendly message

	out, _, err := s.ExecuteCommand("call", channel.MethodConnect)
	s.Require().Error(err)
	s.Empty(out, "nothing MUST be printed on failure")
	s.ErrorIs(err, channel.ErrInvalidArgument)
	s.Equal("Device ID is required (INVALID_ARGUMENT)", FormatUserError(err))
}

func (s *CallTestSuite) TestUnknownMethod() {
	_, _, err := s.ExecuteCommand("call", "reboot")
	s.Require().ErrorIs(err, channel.ErrNotImplemented)
	s.Contains(FormatUserError(err), "reboot: method not implemented")
	s.Contains(FormatUserError(err), channel.MethodStartScan)
}

func (s *CallTestSuite) TestInvalidArgumentSyntax() {
	_, _, err := s.ExecuteCommand("call", channel.MethodConnect, "deviceId")
	s.Require().Error(err)
	s.Contains(err.Error(), "expected key=value")
}

func (s *CallTestSuite) TestImplicitPermissions() {
	out, _, err := s.ExecuteCommand("call", channel.MethodRequestPermissions)
	s.Require().NoError(err)
	s.JSONEq(`{"method":"requestBluetoothPermissions","result":true}`, out)
}

func (s *CallTestSuite) TestExplicitPermissions() {
	// GOAL: Verify the explicit platform answers from the granted set
	//
	// TEST SCENARIO: nothing granted → false (request issued); full API 31+ set granted → true

	out, _, err := s.ExecuteCommand("call", channel.MethodRequestPermissions,
		"--platform", "explicit", "--api-level", "33")
	s.Require().NoError(err)
	s.JSONEq(`{"method":"requestBluetoothPermissions","result":false}`, out)

	resetFlags(rootCmd)
	out, _, err = s.ExecuteCommand("call", channel.MethodRequestPermissions,
		"--platform", "android", "--api-level", "33",
		"--grant", permission.BluetoothScan+","+permission.BluetoothConnect+","+permission.AccessFineLocation)
	s.Require().NoError(err)
	s.JSONEq(`{"method":"requestBluetoothPermissions","result":true}`, out)
}

func (s *CallTestSuite) TestWaitPrintsScanEvents() {
	// GOAL: Verify --wait listens to every stream and prints events as JSON lines
	//
	// TEST SCENARIO: startDeviceScan with 20ms stub delay, wait 300ms → result, scan event, end markers

	out, _, err := s.ExecuteCommand("call", channel.MethodStartScan, "--scan-delay", "20ms", "--wait", "300ms")
	s.Require().NoError(err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	s.Require().GreaterOrEqual(len(lines), 2)
	s.JSONEq(`{"method":"startDeviceScan","result":null}`, lines[0])
	s.JSONEq(`{"channel":"`+stream.DeviceScan.ChannelName()+`","event":[{"id":"00:55:DA:B0:XX:XX","name":"Muse-TEST","isConnected":false,"batteryPercent":75}]}`, lines[1])

	ends := 0
	for _, l := range lines[2:] {
		if strings.Contains(l, `"end":true`) {
			ends++
		}
	}
	s.Equal(len(stream.Categories()), ends, "dispose MUST end every listened stream")
}

func (s *CallTestSuite) TestUnknownSDK() {
	_, _, err := s.ExecuteCommand("call", channel.MethodStartScan, "--sdk", "nope")
	s.Require().Error(err)
	s.Contains(err.Error(), `got "nope"`)
}

func TestCallCommand(t *testing.T) {
	suite.Run(t, new(CallTestSuite))
}

func TestParseCall(t *testing.T) {
	call, err := parseCall("connectToDevice", []string{"deviceId=a=b", "force=true", "note=True"})
	if err != nil {
		t.Fatal(err)
	}
	id, ok := call.StringArgument("deviceId")
	if !ok || id != "a=b" {
		t.Fatalf("deviceId MUST keep everything after the first '=', got %q", id)
	}
	if call.Arguments["force"] != true {
		t.Fatalf("\"true\" MUST become a bool")
	}
	if call.Arguments["note"] != "True" {
		t.Fatalf("only lowercase literals MUST become bools")
	}

	if _, err := parseCall("x", []string{"=v"}); err == nil {
		t.Fatal("empty key MUST be rejected")
	}
}
