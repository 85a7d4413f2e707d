package ws_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/srg/musebridge/internal/bridge"
	"github.com/srg/musebridge/internal/channel"
	"github.com/srg/musebridge/internal/headset/stub"
	"github.com/srg/musebridge/internal/looper"
	"github.com/srg/musebridge/internal/metrics"
	"github.com/srg/musebridge/internal/stream"
	"github.com/srg/musebridge/internal/testutils"
	"github.com/srg/musebridge/internal/transport/ws"
	"github.com/stretchr/testify/suite"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type ServerTestSuite struct {
	suite.Suite

	bridge *bridge.Bridge
	server *ws.Server
	http   *httptest.Server
}

func (suite *ServerTestSuite) SetupTest() {
	logger := testutils.QuietLogger()
	loop := looper.New("ws-test", logger)
	m := metrics.New()

	b, err := bridge.New(bridge.Options{
		SDK:     stub.New(loop, 20*time.Millisecond, logger),
		Looper:  loop,
		Metrics: m,
		Logger:  logger,
	})
	suite.Require().NoError(err)
	suite.bridge = b

	suite.server = ws.NewServer(b, ws.Options{
		QueueSize: 16,
		Metrics:   m,
		Registry:  metrics.NewRegistry(m),
		Logger:    logger,
	})
	suite.http = httptest.NewServer(suite.server.Handler())
}

func (suite *ServerTestSuite) TearDownTest() {
	suite.http.Close()
	suite.NoError(suite.bridge.Dispose())
}

func (suite *ServerTestSuite) dial() *websocket.Conn {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(suite.http.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	suite.Require().NoError(err, "dial MUST succeed")

	hello := suite.read(conn)
	suite.Require().Equal(ws.FrameHello, hello.Type, "first frame MUST be hello")
	suite.Require().Len(hello.ClientID, 26, "client id MUST be a ULID")
	return conn
}

func (suite *ServerTestSuite) read(conn *websocket.Conn) ws.Frame {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var f ws.Frame
	suite.Require().NoError(wsjson.Read(ctx, conn, &f), "frame MUST arrive")
	return f
}

func (suite *ServerTestSuite) write(conn *websocket.Conn, f ws.Frame) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	suite.Require().NoError(wsjson.Write(ctx, conn, f))
}

func (suite *ServerTestSuite) TestScanOverWebSocket() {
	// GOAL: Verify a host shell can listen for discovery and start a scan over WebSocket
	//
	// TEST SCENARIO: listen device_scan → ack; call startDeviceScan → null result; placeholder list event follows

	conn := suite.dial()
	defer conn.CloseNow()

	suite.write(conn, ws.Frame{Type: ws.FrameListen, ID: 1, Channel: stream.DeviceScan.ChannelName()})
	ack := suite.read(conn)
	suite.Equal(ws.FrameResult, ack.Type)
	suite.EqualValues(1, ack.ID)
	suite.Nil(ack.Error)

	suite.write(conn, ws.Frame{Type: ws.FrameCall, ID: 2, Method: channel.MethodStartScan})
	result := suite.read(conn)
	suite.EqualValues(2, result.ID)
	suite.Nil(result.Payload, "startDeviceScan MUST return null")
	suite.Nil(result.Error)

	event := suite.read(conn)
	suite.Equal(ws.FrameEvent, event.Type)
	suite.Equal("com.muselog.muse/device_scan", event.Channel)
	testutils.NewJSONAsserter(suite.T()).
		WithOptions(testutils.WithIgnoreExtraKeys(false)).
		AssertValue(event.Payload, `[{"id":"00:55:DA:B0:XX:XX","name":"Muse-TEST","isConnected":false,"batteryPercent":75}]`)
}

func (suite *ServerTestSuite) TestCallResults() {
	conn := suite.dial()
	defer conn.CloseNow()

	suite.write(conn, ws.Frame{Type: ws.FrameCall, ID: 1, Method: channel.MethodConnect})
	resp := suite.read(conn)
	suite.Require().NotNil(resp.Error, "missing deviceId MUST fail")
	suite.Equal(channel.CodeInvalidArgument, resp.Error.Code)
	suite.Equal("Device ID is required", resp.Error.Message)

	suite.write(conn, ws.Frame{Type: ws.FrameCall, ID: 2, Method: channel.MethodConnect,
		Args: map[string]any{channel.ArgDeviceID: stub.PlaceholderID}})
	resp = suite.read(conn)
	suite.Equal(true, resp.Payload)

	suite.write(conn, ws.Frame{Type: ws.FrameCall, ID: 3, Method: "selfDestruct"})
	resp = suite.read(conn)
	suite.True(resp.NotImplemented, "unknown method MUST be flagged not implemented")
	suite.Nil(resp.Error)
}

func (suite *ServerTestSuite) TestListenUnknownChannel() {
	conn := suite.dial()
	defer conn.CloseNow()

	suite.write(conn, ws.Frame{Type: ws.FrameListen, ID: 7, Channel: "com.muselog.muse/temperature"})
	resp := suite.read(conn)
	suite.Require().NotNil(resp.Error)
	suite.Equal(channel.CodeInvalidArgument, resp.Error.Code)
	suite.Contains(resp.Error.Message, "unknown channel")
}

func (suite *ServerTestSuite) TestCancelDetachesStream() {
	conn := suite.dial()
	defer conn.CloseNow()

	name := stream.EEGData.ChannelName()
	suite.write(conn, ws.Frame{Type: ws.FrameListen, ID: 1, Channel: name})
	suite.read(conn)
	suite.True(suite.bridge.Registry().Active(stream.EEGData))

	suite.write(conn, ws.Frame{Type: ws.FrameCancel, ID: 2, Channel: name})
	suite.read(conn)
	suite.False(suite.bridge.Registry().Active(stream.EEGData), "cancel MUST detach the stream")
}

func (suite *ServerTestSuite) TestDisconnectReleasesOnlyOwnStreams() {
	// GOAL: Verify a disconnecting client releases its streams without clearing another client's
	//
	// TEST SCENARIO: A listens imu+eeg, B takes over imu, A disconnects → imu stays with B, eeg cleared

	a := suite.dial()
	b := suite.dial()
	defer b.CloseNow()

	suite.write(a, ws.Frame{Type: ws.FrameListen, ID: 1, Channel: stream.Motion.ChannelName()})
	suite.read(a)
	suite.write(a, ws.Frame{Type: ws.FrameListen, ID: 2, Channel: stream.EEGData.ChannelName()})
	suite.read(a)
	suite.write(b, ws.Frame{Type: ws.FrameListen, ID: 1, Channel: stream.Motion.ChannelName()})
	suite.read(b)
	suite.Equal(2, suite.server.Clients())

	suite.Require().NoError(a.Close(websocket.StatusNormalClosure, "bye"))

	registry := suite.bridge.Registry()
	suite.Eventually(func() bool {
		return !registry.Active(stream.EEGData) && suite.server.Clients() == 1
	}, 2*time.Second, 10*time.Millisecond, "disconnect MUST release the client's streams")
	suite.True(registry.Active(stream.Motion), "a stream taken over by another client MUST stay attached")
}

func (suite *ServerTestSuite) TestDisposeSendsEndOfStream() {
	conn := suite.dial()
	defer conn.CloseNow()

	suite.write(conn, ws.Frame{Type: ws.FrameListen, ID: 1, Channel: stream.ConnectionStatus.ChannelName()})
	suite.read(conn)

	suite.Require().NoError(suite.bridge.Dispose())
	end := suite.read(conn)
	suite.Equal(ws.FrameEnd, end.Type)
	suite.Equal(stream.ConnectionStatus.ChannelName(), end.Channel)
}

func (suite *ServerTestSuite) TestHTTPEndpoints() {
	resp, err := http.Get(suite.http.URL + "/healthz")
	suite.Require().NoError(err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	suite.Equal(http.StatusOK, resp.StatusCode)
	suite.Equal("ok", string(body))

	conn := suite.dial()
	defer conn.CloseNow()

	resp, err = http.Get(suite.http.URL + "/metrics")
	suite.Require().NoError(err)
	body, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	suite.Contains(string(body), "musebridge_ws_clients 1")
}

// slowStartDispatcher delays startDeviceScan and records the order handlers ran in
type slowStartDispatcher struct {
	*bridge.Bridge

	mu    sync.Mutex
	order []string
}

func (d *slowStartDispatcher) Handle(ctx context.Context, call *channel.Call) (any, error) {
	if call.Method == channel.MethodStartScan {
		time.Sleep(50 * time.Millisecond)
	}
	d.mu.Lock()
	d.order = append(d.order, call.Method)
	d.mu.Unlock()
	return d.Bridge.Handle(ctx, call)
}

func (suite *ServerTestSuite) TestCallsAnsweredInOrder() {
	// GOAL: Verify one client's calls run and are answered in the order they were sent
	//
	// TEST SCENARIO: slow startDeviceScan then stopDeviceScan back to back → start handled first, results 1 then 2

	d := &slowStartDispatcher{Bridge: suite.bridge}
	srv := httptest.NewServer(ws.NewServer(d, ws.Options{Logger: testutils.QuietLogger()}).Handler())
	suite.http.Close()
	suite.http = srv // closed by TearDownTest

	conn := suite.dial()
	defer conn.CloseNow()

	suite.write(conn, ws.Frame{Type: ws.FrameCall, ID: 1, Method: channel.MethodStartScan})
	suite.write(conn, ws.Frame{Type: ws.FrameCall, ID: 2, Method: channel.MethodStopScan})

	first := suite.read(conn)
	second := suite.read(conn)
	suite.EqualValues(1, first.ID, "start MUST be answered first")
	suite.EqualValues(2, second.ID)

	d.mu.Lock()
	defer d.mu.Unlock()
	suite.Equal([]string{channel.MethodStartScan, channel.MethodStopScan}, d.order, "stop MUST NOT overtake start")
}

func TestServerTestSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}
