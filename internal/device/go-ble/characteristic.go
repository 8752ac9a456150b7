package goble

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/blethermo/internal/device"
)

// BLECharacteristic is a characteristic handle bound to its connection
type BLECharacteristic struct {
	char *ble.Characteristic
	conn *BLEConnection

	// pending is closed when the last issued request returns, even if the caller gave up on it
	mu      sync.Mutex
	pending chan struct{}
}

func (c *BLECharacteristic) UUID() string {
	return device.NormalizeUUID(c.char.UUID.String())
}

// Read reads the current value from the device.
// The call is abandoned after timeout so an unresponsive peripheral cannot block
// the caller; the next Read or Write waits for the abandoned request first, so
// at most one request per characteristic is outstanding.
func (c *BLECharacteristic) Read(timeout time.Duration) ([]byte, error) {
	if !c.conn.IsConnected() {
		return nil, fmt.Errorf("read characteristic %s: %w", c.UUID(), device.ErrNotConnected)
	}

	done, err := c.acquire(timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to read characteristic %s: %w", c.UUID(), err)
	}
	data, err := withTimeout(timeout, c.conn.Disconnected(), done, func() ([]byte, error) {
		return c.conn.client.ReadCharacteristic(c.char)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read characteristic %s: %w", c.UUID(), err)
	}
	return data, nil
}

// Write sends data to the device
func (c *BLECharacteristic) Write(data []byte, withResponse bool, timeout time.Duration) error {
	if !c.conn.IsConnected() {
		return fmt.Errorf("write characteristic %s: %w", c.UUID(), device.ErrNotConnected)
	}

	done, err := c.acquire(timeout)
	if err != nil {
		return fmt.Errorf("failed to write characteristic %s: %w", c.UUID(), err)
	}
	_, err = withTimeout(timeout, c.conn.Disconnected(), done, func() (struct{}, error) {
		return struct{}{}, c.conn.client.WriteCharacteristic(c.char, data, !withResponse)
	})
	if err != nil {
		return fmt.Errorf("failed to write characteristic %s: %w", c.UUID(), err)
	}
	return nil
}

// acquire waits up to timeout for the previous request to return and
// registers a new one; the returned channel must be closed when it completes.
func (c *BLECharacteristic) acquire(timeout time.Duration) (chan struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending != nil {
		select {
		case <-c.pending:
		case <-c.conn.Disconnected():
			return nil, device.ErrNotConnected
		case <-time.After(timeout):
			return nil, fmt.Errorf("previous request still pending after %v: %w", timeout, device.ErrTimeout)
		}
	}

	c.pending = make(chan struct{})
	return c.pending, nil
}

func withTimeout[T any](timeout time.Duration, gone <-chan struct{}, done chan struct{}, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer close(done)
		v, err := fn()
		ch <- result{v: v, err: err}
	}()

	var zero T
	select {
	case r := <-ch:
		return r.v, NormalizeError(r.err)
	case <-gone:
		return zero, device.ErrNotConnected
	case <-time.After(timeout):
		return zero, fmt.Errorf("after %v: %w", timeout, device.ErrTimeout)
	}
}
