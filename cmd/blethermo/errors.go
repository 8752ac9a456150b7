package main

import (
	"errors"
	"fmt"

	"github.com/srg/blethermo/internal/device"
	"github.com/srg/blethermo/sensor"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the sensor link dropped while monitoring.
	// This is distinct from device.ErrNotConnected, which is reported by a
	// single operation on a link that is already gone.
	ErrConnectionLost = errors.New("connection lost")
	// ErrTargetNotFound indicates the scan ended without seeing the target name.
	ErrTargetNotFound = errors.New("target not found")
)

// FormatUserError turns pipeline errors into a single actionable line
func FormatUserError(err error) string {
	var resErr *device.ResolutionError
	var writeErr *sensor.WriteError

	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off. Turn it on and try again."
	case errors.Is(err, device.ErrUnsupported):
		return "Bluetooth is not supported on this platform."
	case errors.As(err, &resErr):
		switch resErr.Reason {
		case device.NotFound:
			return fmt.Sprintf("peripheral %s could not be reached (%v)", resErr.Target, resErr.Err)
		case device.Unreachable:
			return fmt.Sprintf("peripheral went away during negotiation (%v)", resErr.Err)
		case device.NoMatchingService:
			return fmt.Sprintf("no service starting with %q; is this the right sensor?", resErr.Target)
		case device.NoMatchingCharacteristic:
			return fmt.Sprintf("no characteristic starting with %q in the sensor service", resErr.Target)
		}
		return resErr.Error()
	case errors.As(err, &writeErr):
		return fmt.Sprintf("failed to send %q: %v", writeErr.Command, writeErr.Err)
	case errors.Is(err, ErrConnectionLost):
		return "connection to the sensor was lost"
	case errors.Is(err, device.ErrTimeout):
		return fmt.Sprintf("operation timed out: %v", err)
	default:
		return err.Error()
	}
}
