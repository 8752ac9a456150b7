// Package negotiator resolves a peripheral identity to the GATT service and
// characteristic carrying its data.
package negotiator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blethermo/internal/device"
)

// Options bounds the negotiation steps
type Options struct {
	ConnectTimeout time.Duration `default:"30s"`
	// ResolveTimeout bounds each service or characteristic discovery call.
	ResolveTimeout time.Duration `default:"30s"`
}

// DefaultOptions returns Options populated from struct tag defaults
func DefaultOptions() *Options {
	opts := &Options{}
	defaults.SetDefaults(opts)
	return opts
}

// Negotiator owns one connection attempt. It never retries: every failure is
// returned as a *device.ResolutionError and left to the caller.
type Negotiator struct {
	transport device.Transport
	opts      Options
	logger    *logrus.Logger

	mu   sync.Mutex
	conn device.Connection

	// closeMu serializes disconnects so a link is torn down once.
	closeMu sync.Mutex
}

// New creates a negotiator on top of transport
func New(transport device.Transport, opts *Options, logger *logrus.Logger) *Negotiator {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Negotiator{
		transport: transport,
		opts:      *opts,
		logger:    logger,
	}
}

// ResolveServices connects to the peripheral with the given identity and
// returns its primary services.
func (n *Negotiator) ResolveServices(ctx context.Context, id string) ([]device.Service, error) {
	logger := n.logger.WithField("address", id)

	n.mu.Lock()
	if n.conn != nil && n.conn.IsConnected() {
		n.mu.Unlock()
		return nil, &device.ResolutionError{Reason: device.NotFound, Target: id, Err: device.ErrAlreadyConnected}
	}
	n.mu.Unlock()

	logger.WithField("timeout", n.opts.ConnectTimeout).Info("Connecting to peripheral...")
	conn, err := n.transport.Connect(ctx, id, &device.ConnectOptions{ConnectTimeout: n.opts.ConnectTimeout})
	if err != nil {
		logger.WithError(err).Error("Peripheral could not be resolved")
		return nil, &device.ResolutionError{Reason: device.NotFound, Target: id, Err: err}
	}

	n.mu.Lock()
	n.conn = conn
	n.mu.Unlock()

	resolveCtx, cancel := n.resolveContext(ctx)
	defer cancel()

	services, err := conn.Services(resolveCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("service discovery after %v: %w", n.opts.ResolveTimeout, device.ErrTimeout)
		}
		logger.WithError(err).Error("Service discovery failed")
		_ = n.disconnect()
		return nil, &device.ResolutionError{Reason: device.Unreachable, Target: id, Err: err}
	}

	logger.WithField("services", len(services)).Info("Connected at service level")
	return services, nil
}

// ResolveCharacteristics returns the characteristics of svc
func (n *Negotiator) ResolveCharacteristics(ctx context.Context, svc device.Service) ([]device.Characteristic, error) {
	logger := n.logger.WithField("service_uuid", svc.UUID())

	if !n.IsConnected() {
		return nil, &device.ResolutionError{Reason: device.Unreachable, Target: svc.UUID(), Err: device.ErrNotConnected}
	}

	resolveCtx, cancel := n.resolveContext(ctx)
	defer cancel()

	chars, err := svc.Characteristics(resolveCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("characteristic discovery after %v: %w", n.opts.ResolveTimeout, device.ErrTimeout)
		}
		logger.WithError(err).Error("Characteristic discovery failed")
		return nil, &device.ResolutionError{Reason: device.Unreachable, Target: svc.UUID(), Err: err}
	}

	logger.WithField("characteristics", len(chars)).Debug("Characteristics resolved")
	return chars, nil
}

// IsConnected reports whether the negotiated link is alive
func (n *Negotiator) IsConnected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.conn != nil && n.conn.IsConnected()
}

// Connection returns the current link, or nil before ResolveServices succeeds
func (n *Negotiator) Connection() device.Connection {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.conn
}

// Close disconnects the peripheral. Safe to call repeatedly.
func (n *Negotiator) Close() error {
	return n.disconnect()
}

func (n *Negotiator) disconnect() error {
	n.closeMu.Lock()
	defer n.closeMu.Unlock()

	n.mu.Lock()
	conn := n.conn
	n.mu.Unlock()

	if conn == nil || !conn.IsConnected() {
		return nil
	}
	if err := conn.Disconnect(); err != nil {
		n.logger.WithError(err).Warn("Disconnect failed")
		return err
	}
	return nil
}

func (n *Negotiator) resolveContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if n.opts.ResolveTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, n.opts.ResolveTimeout)
}
