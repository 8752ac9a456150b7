package device

import (
	"context"
	"time"
)

// Advertisement is a single advertising report delivered during a scan
type Advertisement interface {
	LocalName() string
	ManufacturerData() []byte
	Services() []string
	TxPowerLevel() int
	Connectable() bool
	RSSI() int
	Addr() string
}

// ScanningDevice represents a BLE device capable of scanning for advertisements.
// Scan blocks until ctx is done or the radio fails.
type ScanningDevice interface {
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
}

// Transport is the radio stack the sensor pipeline runs on: it can scan and it
// can open connections to peripherals by identity.
type Transport interface {
	ScanningDevice

	Connect(ctx context.Context, address string, opts *ConnectOptions) (Connection, error)
}

// ConnectOptions defines BLE connection options
type ConnectOptions struct {
	ConnectTimeout time.Duration
}

// Connection represents a live link to one peripheral
type Connection interface {
	Address() string
	// Services discovers the primary services of the peripheral.
	Services(ctx context.Context) ([]Service, error)
	IsConnected() bool
	// Disconnected is closed when the link drops or Disconnect is called.
	Disconnected() <-chan struct{}
	Disconnect() error
}

// Service represents a GATT service handle
type Service interface {
	UUID() string
	// Characteristics discovers the characteristics of this service.
	// Fails with ErrNotConnected once the owning connection is gone.
	Characteristics(ctx context.Context) ([]Characteristic, error)
}

// CharacteristicReader provides read operations
type CharacteristicReader interface {
	Read(timeout time.Duration) ([]byte, error)
}

// CharacteristicWriter provides write operations
type CharacteristicWriter interface {
	Write(data []byte, withResponse bool, timeout time.Duration) error
}

// Characteristic combines info + operations
type Characteristic interface {
	UUID() string
	CharacteristicReader
	CharacteristicWriter
}
