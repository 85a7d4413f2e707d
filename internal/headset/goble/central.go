package goble

import (
	"context"

	"github.com/go-ble/ble"
)

// GATTClient is the part of ble.Client the adapter uses.
type GATTClient interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	ClearSubscriptions() error
	CancelConnection() error
}

// Central scans for and connects to peripherals.
type Central interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
	Connect(ctx context.Context, address string) (GATTClient, error)
}

// deviceCentral wraps ble.Device to implement Central
type deviceCentral struct {
	dev ble.Device
}

func (c *deviceCentral) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	return NormalizeError(c.dev.Scan(ctx, allowDup, h))
}

func (c *deviceCentral) Connect(ctx context.Context, address string) (GATTClient, error) {
	client, err := c.dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, NormalizeError(err)
	}
	return client, nil
}

// DeviceFactory creates the platform ble.Device
//
//nolint:revive // DeviceFactory name is intentional for test mocking as goble.DeviceFactory
var DeviceFactory = newPlatformDevice

// CentralFactory creates the Central used by the SDK (can be overridden in tests)
var CentralFactory = func() (Central, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, NormalizeError(err)
	}
	return &deviceCentral{dev: dev}, nil
}
