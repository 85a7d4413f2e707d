package bridge_test

import (
	"context"

	"github.com/srg/musebridge/internal/headset"
	"github.com/stretchr/testify/mock"
)

type MockSDK struct {
	mock.Mock
}

var _ headset.SDK = (*MockSDK)(nil)

func (m *MockSDK) StartScan(ctx context.Context, onList func([]headset.Descriptor)) error {
	return m.Called(ctx, onList).Error(0)
}

func (m *MockSDK) StopScan() error {
	return m.Called().Error(0)
}

func (m *MockSDK) Connect(ctx context.Context, id string, listener headset.Listener) (bool, error) {
	args := m.Called(ctx, id, listener)
	return args.Bool(0), args.Error(1)
}

func (m *MockSDK) Disconnect(id string) error {
	return m.Called(id).Error(0)
}

func (m *MockSDK) StartStream(id string) error {
	return m.Called(id).Error(0)
}

func (m *MockSDK) StopStream(id string) error {
	return m.Called(id).Error(0)
}

func (m *MockSDK) Close() error {
	return m.Called().Error(0)
}
