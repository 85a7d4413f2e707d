package testutils

import (
	"github.com/go-ble/ble"
)

// Advertisement is an in-memory ble.Advertisement
type Advertisement struct {
	Name        string
	Address     string
	Rssi        int
	ServiceList []ble.UUID
	ManufData   []byte
	TxPower     int
	IsConnect   bool
}

func (a *Advertisement) LocalName() string              { return a.Name }
func (a *Advertisement) ManufacturerData() []byte       { return a.ManufData }
func (a *Advertisement) ServiceData() []ble.ServiceData { return nil }
func (a *Advertisement) Services() []ble.UUID           { return a.ServiceList }
func (a *Advertisement) OverflowService() []ble.UUID    { return nil }
func (a *Advertisement) TxPowerLevel() int              { return a.TxPower }
func (a *Advertisement) Connectable() bool              { return a.IsConnect }
func (a *Advertisement) SolicitedService() []ble.UUID   { return nil }
func (a *Advertisement) RSSI() int                      { return a.Rssi }
func (a *Advertisement) Addr() ble.Addr                 { return ble.NewAddr(a.Address) }

// AdvertisementBuilder builds fake BLE advertisements with a fluent API
type AdvertisementBuilder struct {
	adv Advertisement
}

// NewAdvertisementBuilder starts a connectable advertisement with no TX power
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{adv: Advertisement{IsConnect: true, TxPower: 127}}
}

// WithName sets the local name
func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.adv.Name = name
	return b
}

// WithAddress sets the device address
func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.adv.Address = addr
	return b
}

// WithRSSI sets the signal strength
func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.adv.Rssi = rssi
	return b
}

// WithServices sets the advertised service UUIDs
func (b *AdvertisementBuilder) WithServices(uuids ...ble.UUID) *AdvertisementBuilder {
	b.adv.ServiceList = uuids
	return b
}

// Build returns the advertisement
func (b *AdvertisementBuilder) Build() ble.Advertisement {
	adv := b.adv
	return &adv
}
