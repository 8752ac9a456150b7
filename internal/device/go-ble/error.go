package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/srg/blethermo/internal/device"
)

// NormalizeError maps known go-ble error strings to the device error sentinels.
// The original error is kept in the chain so callers still see platform detail.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	// keep the context error in the chain next to ErrTimeout
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", device.ErrTimeout, err)
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "is Bluetooth turned on"):
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "device not connected"):
		return fmt.Errorf("%w: %v", device.ErrNotConnected, err)
	case containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", device.ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", device.ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "connection is not initialized"):
		return fmt.Errorf("%w: %v", device.ErrNotInitialized, err)
	case containsIgnoreCase(msg, "timed out"), containsIgnoreCase(msg, "timeout"):
		return fmt.Errorf("%w: %v", device.ErrTimeout, err)
	default:
		return err
	}
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
