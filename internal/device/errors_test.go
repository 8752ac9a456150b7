package device

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolutionError(t *testing.T) {
	t.Run("matches sentinel by reason", func(t *testing.T) {
		err := fmt.Errorf("negotiate: %w", &ResolutionError{Reason: NoMatchingService, Target: "0000ffe0"})

		assert.ErrorIs(t, err, ErrNoMatchingService, "wrapped error MUST match its reason sentinel")
		assert.NotErrorIs(t, err, ErrNotFound, "wrapped error MUST NOT match another reason")
	})

	t.Run("unwraps cause", func(t *testing.T) {
		err := &ResolutionError{Reason: NotFound, Target: "AA:BB", Err: context.DeadlineExceeded}

		assert.ErrorIs(t, err, context.DeadlineExceeded, "cause MUST be reachable through errors.Is")

		var rerr *ResolutionError
		assert.True(t, errors.As(err, &rerr), "errors.As MUST find ResolutionError")
		assert.Equal(t, NotFound, rerr.Reason)
	})

	t.Run("message", func(t *testing.T) {
		err := &ResolutionError{Reason: NoMatchingCharacteristic, Target: "0000ffe1"}
		assert.Equal(t, `no matching characteristic: "0000ffe1"`, err.Error(), "message MUST name the reason and target")

		err = &ResolutionError{Reason: Unreachable, Err: ErrNotConnected}
		assert.Equal(t, "unreachable: not_connected", err.Error())
	})
}

func TestConnectionError(t *testing.T) {
	err := fmt.Errorf("%w: %v", ErrNotConnected, errors.New("link lost"))

	assert.ErrorIs(t, err, ErrNotConnected, "wrapped error MUST match by state")
	assert.NotErrorIs(t, err, ErrAlreadyConnected)
	assert.True(t, IsConnectionState(err, NotConnected))
	assert.False(t, IsConnectionState(errors.New("other"), NotConnected))
	assert.Equal(t, "not_connected: detail", (&ConnectionError{State: NotConnected, Msg: "detail"}).Error())
}
