package goble_test

import (
	"context"
	"sync"

	"github.com/go-ble/ble"
	"github.com/srg/musebridge/internal/headset/goble"
	"github.com/stretchr/testify/mock"
)

type MockCentral struct {
	mock.Mock
}

func (m *MockCentral) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	args := m.Called(ctx, allowDup, h)
	return args.Error(0)
}

func (m *MockCentral) Connect(ctx context.Context, address string) (goble.GATTClient, error) {
	args := m.Called(ctx, address)
	c, _ := args.Get(0).(goble.GATTClient)
	return c, args.Error(1)
}

// MockGATTClient records subscriptions and control writes
type MockGATTClient struct {
	mock.Mock

	mu       sync.Mutex
	handlers map[string]ble.NotificationHandler
	writes   [][]byte
}

func NewMockGATTClient() *MockGATTClient {
	return &MockGATTClient{handlers: make(map[string]ble.NotificationHandler)}
}

func (m *MockGATTClient) DiscoverProfile(force bool) (*ble.Profile, error) {
	args := m.Called(force)
	p, _ := args.Get(0).(*ble.Profile)
	return p, args.Error(1)
}

func (m *MockGATTClient) WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error {
	m.mu.Lock()
	m.writes = append(m.writes, append([]byte(nil), value...))
	m.mu.Unlock()
	return m.Called(c, value, noRsp).Error(0)
}

func (m *MockGATTClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	m.mu.Lock()
	m.handlers[c.UUID.String()] = h
	m.mu.Unlock()
	return m.Called(c, ind, h).Error(0)
}

func (m *MockGATTClient) ClearSubscriptions() error {
	return m.Called().Error(0)
}

func (m *MockGATTClient) CancelConnection() error {
	return m.Called().Error(0)
}

// Notify delivers data to the handler subscribed on uuid
func (m *MockGATTClient) Notify(uuid ble.UUID, data []byte) bool {
	m.mu.Lock()
	h, ok := m.handlers[uuid.String()]
	m.mu.Unlock()
	if ok {
		h(data)
	}
	return ok
}

func (m *MockGATTClient) Writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.writes...)
}

func (m *MockGATTClient) Subscriptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers)
}
