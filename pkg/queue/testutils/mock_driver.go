package testutils

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/ava-labs/mqprovider/pkg/queue"
)

// MockDriver is a mock implementation of queue.Driver for testing
type MockDriver struct {
	mock.Mock
}

func (m *MockDriver) Name() string {
	return "mock"
}

// OpenSender mocks the OpenSender method
func (m *MockDriver) OpenSender(ctx context.Context) (queue.Sender, error) {
	args := m.Called(ctx)
	s, _ := args.Get(0).(queue.Sender)
	return s, args.Error(1)
}

// OpenReceiver mocks the OpenReceiver method
func (m *MockDriver) OpenReceiver(ctx context.Context) (queue.Receiver, error) {
	args := m.Called(ctx)
	r, _ := args.Get(0).(queue.Receiver)
	return r, args.Error(1)
}

// MockSender is a mock implementation of queue.Sender for testing
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, payload []byte) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

func (m *MockSender) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockReceiver is a mock implementation of queue.Receiver for testing
type MockReceiver struct {
	mock.Mock
}

func (m *MockReceiver) Receive(ctx context.Context, timeout time.Duration) ([]byte, bool, error) {
	args := m.Called(ctx, timeout)
	payload, _ := args.Get(0).([]byte)
	return payload, args.Bool(1), args.Error(2)
}

func (m *MockReceiver) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
