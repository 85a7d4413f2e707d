package stub_test

import (
	"context"
	"testing"
	"time"

	"github.com/srg/musebridge/internal/headset"
	"github.com/srg/musebridge/internal/headset/stub"
	"github.com/srg/musebridge/internal/looper"
	"github.com/srg/musebridge/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSDK_ScanReportsPlaceholderAfterDelay(t *testing.T) {
	// GOAL: Verify a stub scan reports exactly one placeholder list after the delay
	//
	// TEST SCENARIO: StartScan → nothing before delay → one list with the placeholder after

	l := looper.New("stub-test", testutils.QuietLogger())
	defer l.Close()

	sdk := stub.New(l, 40*time.Millisecond, testutils.QuietLogger())
	got := make(chan []headset.Descriptor, 4)

	require.NoError(t, sdk.StartScan(context.Background(), func(list []headset.Descriptor) { got <- list }))
	require.NoError(t, sdk.StopScan(), "stop MUST NOT cancel the pending result")

	select {
	case <-got:
		t.Fatal("placeholder MUST NOT arrive before the delay")
	case <-time.After(10 * time.Millisecond):
	}

	select {
	case list := <-got:
		require.Len(t, list, 1)
		testutils.NewJSONAsserter(t).WithOptions(testutils.WithIgnoreExtraKeys(false)).AssertValue(list,
			`[{"id":"00:55:DA:B0:XX:XX","name":"Muse-TEST","isConnected":false,"batteryPercent":75}]`)
	case <-time.After(2 * time.Second):
		t.Fatal("placeholder MUST arrive")
	}

	select {
	case <-got:
		t.Fatal("exactly one list MUST be reported per scan")
	case <-time.After(80 * time.Millisecond):
	}
	assert.EqualValues(t, 1, sdk.Scans())
}

func TestSDK_OperationsSucceed(t *testing.T) {
	l := looper.New("stub-test", testutils.QuietLogger())
	defer l.Close()
	sdk := stub.New(l, stub.DefaultScanDelay, nil)

	ok, err := sdk.Connect(context.Background(), "any", headset.NopListener{})
	require.NoError(t, err)
	assert.True(t, ok, "stub connect MUST always succeed")
	assert.NoError(t, sdk.Disconnect("any"))
	assert.NoError(t, sdk.StartStream("any"))
	assert.NoError(t, sdk.StopStream("any"))
	assert.NoError(t, sdk.Close())
}
