package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blethermo/internal/device"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newPlatformDevice

// Transport implements device.Transport on top of a single go-ble HCI device.
// The device is opened lazily on the first Scan or Connect and shared afterwards.
type Transport struct {
	logger *logrus.Logger

	mu  sync.Mutex
	dev ble.Device
}

// NewTransport creates a go-ble backed transport
func NewTransport(logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	return &Transport{logger: logger}
}

func (t *Transport) device() (ble.Device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dev != nil {
		return t.dev, nil
	}

	dev, err := DeviceFactory()
	if err != nil {
		t.logger.WithField("error", err).Error("Failed to create BLE device")
		return nil, NormalizeError(err)
	}
	t.dev = dev
	return dev, nil
}

// Scan wraps the raw ble.Device.Scan to convert ble.Advertisement to device.Advertisement
func (t *Transport) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	dev, err := t.device()
	if err != nil {
		return err
	}

	bleHandler := func(adv ble.Advertisement) {
		handler(NewBLEAdvertisement(adv))
	}

	t.logger.WithField("allow_dup", allowDup).Debug("Starting BLE scan...")
	if err := dev.Scan(ctx, allowDup, bleHandler); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return ctxErr
		}
		return NormalizeError(err)
	}
	return nil
}

// Connect dials the peripheral at address
func (t *Transport) Connect(ctx context.Context, address string, opts *device.ConnectOptions) (device.Connection, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("device address is empty")
	}

	dev, err := t.device()
	if err != nil {
		return nil, err
	}

	connCtx := ctx
	if opts != nil && opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connCtx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}

	t.logger.WithField("address", address).Debug("Dialing BLE device...")
	client, err := dev.Dial(connCtx, ble.NewAddr(address))
	if err != nil {
		t.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to dial BLE device")
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, NormalizeError(err))
	}

	t.logger.WithField("address", address).Info("BLE device connected")
	return newConnection(address, client, t.logger), nil
}

// Close stops the underlying HCI device, if it was opened
func (t *Transport) Close() error {
	t.mu.Lock()
	dev := t.dev
	t.dev = nil
	t.mu.Unlock()

	if dev == nil {
		return nil
	}
	return dev.Stop()
}
