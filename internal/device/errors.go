package device

import (
	"errors"
	"fmt"
	"strings"
)

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
)

// Operation errors
var (
	ErrTimeout      = errors.New("timeout")
	ErrUnsupported  = errors.New("unsupported")
	ErrBluetoothOff = errors.New("bluetooth is turned off")
)

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// ResolutionReason classifies why a peripheral could not be resolved to a data channel
type ResolutionReason string

const (
	// NotFound - the identity does not resolve to a live peripheral.
	NotFound ResolutionReason = "not_found"
	// Unreachable - the peripheral went away between resolution steps.
	Unreachable ResolutionReason = "unreachable"
	// NoMatchingService - no service type identifier starts with the required prefix.
	NoMatchingService ResolutionReason = "no_matching_service"
	// NoMatchingCharacteristic - no characteristic type identifier starts with the required prefix.
	NoMatchingCharacteristic ResolutionReason = "no_matching_characteristic"
)

// ResolutionError is fatal to one connection attempt.
type ResolutionError struct {
	Reason ResolutionReason
	// Target is the identity, service or prefix that failed to resolve.
	Target string
	Err    error
}

func (e *ResolutionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := strings.ReplaceAll(string(e.Reason), "_", " ")
	if e.Target != "" {
		msg = fmt.Sprintf("%s: %q", msg, e.Target)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// Is allows errors.Is to compare ResolutionError values by Reason
func (e *ResolutionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ResolutionError)
	if !ok {
		return false
	}
	return e.Reason == t.Reason
}

// Sentinels for errors.Is checks against a resolution reason
var (
	ErrNotFound                 = &ResolutionError{Reason: NotFound}
	ErrUnreachable              = &ResolutionError{Reason: Unreachable}
	ErrNoMatchingService        = &ResolutionError{Reason: NoMatchingService}
	ErrNoMatchingCharacteristic = &ResolutionError{Reason: NoMatchingCharacteristic}
)
