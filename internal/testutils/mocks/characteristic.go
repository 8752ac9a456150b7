// Package mocks holds testify mocks for the device interfaces.
package mocks

import (
	"time"

	"github.com/stretchr/testify/mock"
)

// MockCharacteristic is a testify mock of device.Characteristic
type MockCharacteristic struct {
	mock.Mock
}

func (m *MockCharacteristic) UUID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockCharacteristic) Read(timeout time.Duration) ([]byte, error) {
	args := m.Called(timeout)
	var data []byte
	if v := args.Get(0); v != nil {
		data = v.([]byte)
	}
	return data, args.Error(1)
}

func (m *MockCharacteristic) Write(data []byte, withResponse bool, timeout time.Duration) error {
	args := m.Called(data, withResponse, timeout)
	return args.Error(0)
}
