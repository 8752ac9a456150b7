package goble

import (
	"context"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blethermo/internal/device"
	"github.com/srg/blethermo/internal/groutine"
)

// BLEConnection is a live go-ble client link.
// Disconnected is closed either by Disconnect or when the stack reports link loss.
type BLEConnection struct {
	address string
	client  ble.Client
	logger  *logrus.Logger

	mu           sync.Mutex
	disconnected chan struct{}
	once         sync.Once
}

func newConnection(address string, client ble.Client, logger *logrus.Logger) *BLEConnection {
	c := &BLEConnection{
		address:      address,
		client:       client,
		logger:       logger,
		disconnected: make(chan struct{}),
	}

	// Watch the client link-loss channel; platforms without it only report
	// disconnection through failing operations.
	if notifier, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(context.Background(), "ble-connection-monitor", func(_ context.Context) {
			select {
			case <-notifier.Disconnected():
				c.logger.WithField("address", address).Warn("BLE stack reported disconnection")
				c.markDisconnected()
			case <-c.disconnected:
			}
		})
	} else {
		c.logger.Debug("Client does not expose a Disconnected() channel")
	}

	return c
}

func (c *BLEConnection) Address() string {
	return c.address
}

// Services discovers the primary services of the peripheral
func (c *BLEConnection) Services(ctx context.Context) ([]device.Service, error) {
	if !c.IsConnected() {
		return nil, device.ErrNotConnected
	}

	svcs, err := runWithContext(ctx, func() ([]*ble.Service, error) {
		return c.client.DiscoverServices(nil)
	})
	if err != nil {
		err = NormalizeError(err)
		c.logger.WithFields(logrus.Fields{
			"address": c.address,
			"error":   err,
		}).Error("Failed to discover services")
		return nil, err
	}

	result := make([]device.Service, 0, len(svcs))
	for _, s := range svcs {
		c.logger.WithField("service_uuid", s.UUID.String()).Debug("Found service UUID")
		result = append(result, &BLEService{svc: s, conn: c})
	}
	return result, nil
}

func (c *BLEConnection) IsConnected() bool {
	select {
	case <-c.disconnected:
		return false
	default:
		return true
	}
}

func (c *BLEConnection) Disconnected() <-chan struct{} {
	return c.disconnected
}

// Disconnect cancels the link. Calling it more than once is a no-op.
func (c *BLEConnection) Disconnect() error {
	if !c.IsConnected() {
		c.logger.Debug("Disconnect called but already disconnected")
		return nil
	}
	c.markDisconnected()

	c.logger.WithField("address", c.address).Info("Disconnecting BLE device...")
	if err := c.client.CancelConnection(); err != nil {
		c.logger.WithField("error", err).Warn("BLE device disconnected with errors")
		return NormalizeError(err)
	}
	c.logger.Info("BLE device disconnected successfully")
	return nil
}

func (c *BLEConnection) markDisconnected() {
	c.once.Do(func() {
		close(c.disconnected)
	})
}

// runWithContext runs a blocking go-ble call and abandons it when ctx ends.
// go-ble discovery calls take no context, so the call itself keeps running.
func runWithContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
