// Package sensor drives the discovery-to-streaming lifecycle of one
// temperature/humidity peripheral and publishes its readings.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/blethermo/frame"
	"github.com/srg/blethermo/internal/device"
	"github.com/srg/blethermo/internal/groutine"
	"github.com/srg/blethermo/negotiator"
	"github.com/srg/blethermo/pkg/config"
	"github.com/srg/blethermo/scanner"
	"github.com/srg/blethermo/stream"
)

// DefaultLogBacklog is the number of log records kept for DrainLogs
const DefaultLogBacklog = 256

var (
	ErrAlreadyStarted = errors.New("coordinator already started")
	// ErrStopped is returned by WaitAcquired when the coordinator stopped before acquiring the target.
	ErrStopped = errors.New("coordinator stopped")
	// ErrNotAcquired is returned by Write before the data characteristic is selected.
	ErrNotAcquired = errors.New("target characteristic not acquired")
)

// WriteError reports a failed command write. Writes are never retried.
type WriteError struct {
	Command string
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %q failed: %v", e.Command, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Stats aggregates pipeline counters
type Stats struct {
	Frames         frame.Stats
	Stream         stream.Stats
	LogOverwritten uint64
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithDispatcher routes every observer notification through d
func WithDispatcher(d Dispatcher) Option {
	return func(c *Coordinator) {
		if d != nil {
			c.dispatch = d
		}
	}
}

// WithLogBacklog sets how many log records DrainLogs can return
func WithLogBacklog(size uint32) Option {
	return func(c *Coordinator) {
		if size > 0 {
			c.logs = newLogBacklog(size)
		}
	}
}

// Coordinator runs scan → match → negotiate → stream for one target.
//
//	Idle → Scanning → Negotiating → Streaming
//	Negotiating → Failed            (any resolution failure, no retry)
//	Scanning | Streaming → Stopped  (Stop, scan ended, or reader exit)
//
// Only one negotiation attempt is made per Coordinator.
type Coordinator struct {
	cfg      config.Config
	observer Observer
	dispatch Dispatcher
	logger   *logrus.Logger

	scanner    *scanner.Scanner
	negotiator *negotiator.Negotiator
	reader     *stream.Reader
	parser     *frame.Parser

	mu             sync.Mutex
	state          State
	started        bool
	matched        bool
	connected      bool
	failure        error
	scanErr        error
	characteristic device.Characteristic
	cancel         context.CancelFunc
	acquired       chan struct{}
	terminated     chan struct{}
	stopOnce       sync.Once

	peripheralsMu sync.Mutex
	peripherals   *orderedmap.OrderedMap[string, device.PeripheralInfo]

	logMu sync.Mutex
	logs  *logBacklog
}

// New wires a Coordinator for cfg on top of transport. A nil observer is
// replaced with BaseObserver.
func New(transport device.Transport, cfg *config.Config, observer Observer, logger *logrus.Logger, opts ...Option) (*Coordinator, error) {
	if transport == nil {
		return nil, errors.New("transport is required")
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if observer == nil {
		observer = BaseObserver{}
	}
	if logger == nil {
		logger = logrus.New()
	}

	c := &Coordinator{
		cfg:         *cfg,
		observer:    observer,
		dispatch:    InlineDispatcher,
		logger:      logger,
		state:       StateIdle,
		acquired:    make(chan struct{}),
		terminated:  make(chan struct{}),
		peripherals: orderedmap.New[string, device.PeripheralInfo](),
		logs:        newLogBacklog(DefaultLogBacklog),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.scanner = scanner.New(transport, &scanner.Options{
		DuplicateFilter:   cfg.Scan.DuplicateFilter,
		EnumerationWindow: cfg.Scan.EnumerationWindow,
		StaleTimeout:      cfg.Scan.StaleTimeout,
		EventBuffer:       cfg.Scan.EventBuffer,
		ServiceUUIDs:      cfg.Scan.ServiceUUIDs,
	}, logger)

	c.negotiator = negotiator.New(transport, &negotiator.Options{
		ConnectTimeout: cfg.Connect.Timeout,
		ResolveTimeout: cfg.Connect.ResolveTimeout,
	}, logger)

	c.reader = stream.New(&stream.Options{
		ReadTimeout:  cfg.Stream.ReadTimeout,
		ErrorBackoff: cfg.Stream.ErrorBackoff,
		OnError:      c.onReadError,
		OnExit:       c.onReaderExit,
	}, logger)

	c.parser = frame.NewParser(&frame.Options{
		Delimiter:      cfg.Protocol.Delimiter,
		TemperatureTag: cfg.Protocol.TemperatureTag,
		HumidityTag:    cfg.Protocol.HumidityTag,
		MaxBuffer:      cfg.Protocol.MaxBuffer,
	}, c.onReading)

	return c, nil
}

// Start begins scanning for the target
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	if c.state.Terminal() {
		c.mu.Unlock()
		return ErrStopped
	}
	c.started = true
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	if err := c.scanner.Start(runCtx); err != nil {
		cancel()
		c.setState(StateStopped)
		return fmt.Errorf("failed to start scanner: %w", err)
	}

	c.setState(StateScanning)
	c.log(logrus.InfoLevel, fmt.Sprintf("Scanning for %q", c.cfg.Target.Name))

	groutine.Go(runCtx, "sensor-scan-events", c.consumeScanEvents)
	return nil
}

// Stop tears down scanning, streaming and the connection. Idempotent and
// safe before Start.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		cancel := c.cancel
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}

		c.scanner.Stop()
		c.reader.Stop()
		if err := c.negotiator.Close(); err != nil {
			c.log(logrus.WarnLevel, fmt.Sprintf("Disconnect failed: %v", err))
		}
		c.setConnected(false)
		c.setState(StateStopped)
	})
}

// State returns the current connectivity state
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// TargetAcquired reports whether the data characteristic has been selected.
// It turns true before any frame has been decoded.
func (c *Coordinator) TargetAcquired() bool {
	select {
	case <-c.acquired:
		return true
	default:
		return false
	}
}

// Connected reports whether a negotiated link is up
func (c *Coordinator) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// WaitAcquired blocks until the target is acquired (nil), negotiation fails
// (the *device.ResolutionError), scanning fails (the *scanner.ScanError), the
// coordinator stops first (ErrStopped) or ctx is done.
func (c *Coordinator) WaitAcquired(ctx context.Context) error {
	if c.TargetAcquired() {
		return nil
	}

	select {
	case <-c.acquired:
		return nil
	case <-c.terminated:
		if c.TargetAcquired() {
			return nil
		}
		if err := c.Failure(); err != nil {
			return err
		}
		c.mu.Lock()
		scanErr := c.scanErr
		c.mu.Unlock()
		if scanErr != nil {
			return scanErr
		}
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the coordinator reaches Failed or Stopped
func (c *Coordinator) Done() <-chan struct{} {
	return c.terminated
}

// Failure returns why negotiation failed, or nil
func (c *Coordinator) Failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure
}

// Reading returns the latest decoded reading pair
func (c *Coordinator) Reading() frame.Reading {
	return c.parser.Reading()
}

// Peripherals returns the observable peripheral set in discovery order
func (c *Coordinator) Peripherals() []device.PeripheralInfo {
	c.peripheralsMu.Lock()
	defer c.peripheralsMu.Unlock()

	result := make([]device.PeripheralInfo, 0, c.peripherals.Len())
	for pair := c.peripherals.Oldest(); pair != nil; pair = pair.Next() {
		result = append(result, pair.Value.Clone())
	}
	return result
}

// Stats returns parser, reader and log backlog counters for the current session
func (c *Coordinator) Stats() Stats {
	c.logMu.Lock()
	overwritten := c.logs.overwritten
	c.logMu.Unlock()

	return Stats{
		Frames:         c.parser.Stats(),
		Stream:         c.reader.Stats(),
		LogOverwritten: overwritten,
	}
}

// DrainLogs returns and clears the buffered log records, oldest first
func (c *Coordinator) DrainLogs() []LogRecord {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	return c.logs.drain()
}

// Write sends command, UTF-8 encoded, to the acquired characteristic
func (c *Coordinator) Write(ctx context.Context, command string) error {
	c.mu.Lock()
	char := c.characteristic
	c.mu.Unlock()

	if char == nil {
		return &WriteError{Command: command, Err: ErrNotAcquired}
	}
	if err := ctx.Err(); err != nil {
		return &WriteError{Command: command, Err: err}
	}

	if err := char.Write([]byte(command), true, c.cfg.Stream.ReadTimeout); err != nil {
		c.log(logrus.ErrorLevel, fmt.Sprintf("Write %q failed: %v", command, err))
		return &WriteError{Command: command, Err: err}
	}

	c.log(logrus.InfoLevel, fmt.Sprintf("Wrote %q", command))
	return nil
}

// ----------------------------
// Scanning
// ----------------------------

func (c *Coordinator) consumeScanEvents(ctx context.Context) {
	for ev := range c.scanner.Events() {
		switch ev.Type {
		case scanner.EventAdded, scanner.EventUpdated:
			c.trackPeripheral(ev)
			if ev.Peripheral.Name == c.cfg.Target.Name {
				c.onTargetSeen(ctx, ev.Peripheral)
			}
		case scanner.EventRemoved:
			c.trackPeripheral(ev)
		case scanner.EventEnumerationComplete:
			c.log(logrus.DebugLevel, "Initial device enumeration complete")
		case scanner.EventStopped:
			c.log(logrus.DebugLevel, "Scanner stopped")
		}
	}

	var scanErr error
	for err := range c.scanner.Errors() {
		scanErr = err
		c.log(logrus.ErrorLevel, err.Error())
	}

	c.mu.Lock()
	matched := c.matched
	if scanErr != nil && !matched {
		c.scanErr = scanErr
	}
	c.mu.Unlock()
	if !matched {
		c.setState(StateStopped)
	}
}

func (c *Coordinator) trackPeripheral(ev scanner.Event) {
	p := ev.Peripheral

	c.peripheralsMu.Lock()
	change := PeripheralChange{Peripheral: p.Clone()}
	switch ev.Type {
	case scanner.EventRemoved:
		c.peripherals.Delete(p.ID)
		change.Type = PeripheralRemoved
	default:
		if prev, ok := c.peripherals.Get(p.ID); ok {
			p.Connected = prev.Connected
			change.Peripheral.Connected = prev.Connected
			change.Type = PeripheralUpdated
		} else {
			change.Type = PeripheralAdded
		}
		c.peripherals.Set(p.ID, p)
	}
	c.peripheralsMu.Unlock()

	c.dispatch(func() { c.observer.PeripheralChanged(change) })
}

func (c *Coordinator) markPeripheralConnected(id string, connected bool) {
	c.peripheralsMu.Lock()
	p, ok := c.peripherals.Get(id)
	if !ok {
		c.peripheralsMu.Unlock()
		return
	}
	p.Connected = connected
	c.peripherals.Set(id, p)
	change := PeripheralChange{Type: PeripheralUpdated, Peripheral: p.Clone()}
	c.peripheralsMu.Unlock()

	c.dispatch(func() { c.observer.PeripheralChanged(change) })
}

func (c *Coordinator) onTargetSeen(ctx context.Context, p device.PeripheralInfo) {
	c.mu.Lock()
	if c.matched || c.state != StateScanning {
		c.mu.Unlock()
		return
	}
	c.matched = true
	c.mu.Unlock()

	c.log(logrus.InfoLevel, fmt.Sprintf("Found %q at %s", p.Name, p.Address))
	c.scanner.Stop()
	c.setState(StateNegotiating)

	groutine.Go(ctx, "sensor-negotiate", func(ctx context.Context) {
		c.negotiate(ctx, p)
	})
}

// ----------------------------
// Negotiation
// ----------------------------

func (c *Coordinator) negotiate(ctx context.Context, p device.PeripheralInfo) {
	services, err := c.negotiator.ResolveServices(ctx, p.ID)
	if err != nil {
		c.fail(ctx, err)
		return
	}
	c.setConnected(true)
	c.markPeripheralConnected(p.ID, true)

	svc, err := negotiator.SelectService(services, c.cfg.Target.ServicePrefix)
	if err != nil {
		c.fail(ctx, err)
		return
	}
	c.log(logrus.DebugLevel, fmt.Sprintf("Selected service %s", svc.UUID()))

	chars, err := c.negotiator.ResolveCharacteristics(ctx, svc)
	if err != nil {
		c.fail(ctx, err)
		return
	}

	char, err := negotiator.SelectCharacteristic(chars, c.cfg.Target.CharacteristicPrefix)
	if err != nil {
		c.fail(ctx, err)
		return
	}

	c.mu.Lock()
	if c.state != StateNegotiating {
		c.mu.Unlock()
		_ = c.negotiator.Close()
		return
	}
	c.characteristic = char
	close(c.acquired)
	c.mu.Unlock()

	c.log(logrus.InfoLevel, fmt.Sprintf("Target acquired: characteristic %s", char.UUID()))
	c.notify(PropertyTargetAcquired)

	c.parser.Reset()
	c.setState(StateStreaming)
	c.reader.Start(ctx, char, c.onChunk)
}

func (c *Coordinator) fail(ctx context.Context, err error) {
	if ctx.Err() != nil {
		// Stop won the race and owns the state; only release the link.
		_ = c.negotiator.Close()
		return
	}

	var resErr *device.ResolutionError
	if !errors.As(err, &resErr) {
		err = &device.ResolutionError{Reason: device.Unreachable, Err: err}
	}

	c.mu.Lock()
	if c.failure == nil {
		c.failure = err
	}
	c.mu.Unlock()

	c.log(logrus.ErrorLevel, fmt.Sprintf("Negotiation failed: %v", err))
	if closeErr := c.negotiator.Close(); closeErr != nil {
		c.log(logrus.WarnLevel, fmt.Sprintf("Disconnect failed: %v", closeErr))
	}
	c.setConnected(false)
	c.setState(StateFailed)
}

// ----------------------------
// Streaming
// ----------------------------

func (c *Coordinator) onChunk(text string) {
	c.dispatch(func() { c.observer.RawText(text) })
	c.parser.Feed(text)
}

func (c *Coordinator) onReading(r frame.Reading) {
	c.logger.WithFields(logrus.Fields{
		"temperature": r.Temperature,
		"humidity":    r.Humidity,
	}).Debug("Reading decoded")
	c.notify(readingProperties...)
}

func (c *Coordinator) onReadError(err *stream.ReadError) {
	if errors.Is(err, device.ErrTimeout) {
		return
	}
	c.log(logrus.WarnLevel, err.Error())
}

func (c *Coordinator) onReaderExit(err error) {
	if err != nil {
		c.log(logrus.WarnLevel, fmt.Sprintf("Stream ended: %v", err))
	} else {
		c.log(logrus.InfoLevel, "Stream stopped")
	}

	if closeErr := c.negotiator.Close(); closeErr != nil {
		c.log(logrus.WarnLevel, fmt.Sprintf("Disconnect failed: %v", closeErr))
	}
	c.setConnected(false)
	c.setState(StateStopped)
}

// ----------------------------
// State and notifications
// ----------------------------

// setState moves to next unless the current state is absorbing
func (c *Coordinator) setState(next State) {
	c.mu.Lock()
	prev := c.state
	if prev == next || prev.Terminal() {
		c.mu.Unlock()
		return
	}
	c.state = next
	if next.Terminal() {
		close(c.terminated)
	}
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"from": prev,
		"to":   next,
	}).Debug("State changed")
	c.log(logrus.InfoLevel, fmt.Sprintf("State: %s", next))
	c.notify(PropertyState)
}

func (c *Coordinator) setConnected(connected bool) {
	c.mu.Lock()
	if c.connected == connected {
		c.mu.Unlock()
		return
	}
	c.connected = connected
	c.mu.Unlock()

	c.notify(PropertyConnected)
}

func (c *Coordinator) notify(props ...Property) {
	batch := append([]Property(nil), props...)
	c.dispatch(func() { c.observer.PropertiesChanged(batch) })
}

// log writes to the structured logger, the backlog and the observer
func (c *Coordinator) log(level logrus.Level, msg string) {
	c.logger.Log(level, msg)

	rec := LogRecord{Time: time.Now(), Level: level, Message: msg}
	c.logMu.Lock()
	if err := c.logs.add(rec); err != nil {
		c.logger.WithError(err).Warn("Dropping log record")
	}
	c.logMu.Unlock()

	line := rec.String()
	c.dispatch(func() { c.observer.LogLine(line) })
}
