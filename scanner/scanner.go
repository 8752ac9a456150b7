// Package scanner discovers BLE peripherals and publishes add / update /
// remove events for them.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blethermo/internal/device"
	"github.com/srg/blethermo/internal/groutine"
	"github.com/srg/blethermo/internal/ringchan"
)

// EventType marks what happened to a peripheral
type EventType int

const (
	EventAdded EventType = iota
	EventUpdated
	EventRemoved
	EventEnumerationComplete
	EventStopped
)

func (t EventType) String() string {
	switch t {
	case EventAdded:
		return "added"
	case EventUpdated:
		return "updated"
	case EventRemoved:
		return "removed"
	case EventEnumerationComplete:
		return "enumeration_complete"
	case EventStopped:
		return "stopped"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is a scanner notification. Peripheral is a copy and is zero for
// EventEnumerationComplete and EventStopped.
type Event struct {
	Type       EventType
	Peripheral device.PeripheralInfo
}

// Options configures scanning behavior
type Options struct {
	// DuplicateFilter asks the transport to report each peripheral once.
	// Leave it off when staleness detection is wanted.
	DuplicateFilter bool `default:"false"`
	// EnumerationWindow is how long after start EventEnumerationComplete fires.
	EnumerationWindow time.Duration `default:"3s"`
	// StaleTimeout removes peripherals not heard from for this long. 0 disables removal.
	StaleTimeout time.Duration `default:"30s"`
	// EventBuffer is the event channel capacity; the oldest event is dropped when full.
	EventBuffer int `default:"256"`

	ServiceUUIDs []string
	AllowList    []string
	BlockList    []string
}

// DefaultOptions returns Options populated from struct tag defaults
func DefaultOptions() *Options {
	opts := &Options{}
	defaults.SetDefaults(opts)
	return opts
}

// ScanError reports a failure of the scanning session itself (radio off,
// missing permission). The scanner stops after reporting it.
type ScanError struct {
	Err error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan failed: %v", e.Err)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

var (
	ErrAlreadyStarted = errors.New("scanner already started")
	ErrStopped        = errors.New("scanner stopped")
)

type scanState int

const (
	stateIdle scanState = iota
	stateRunning
	stateStopped
)

// Scanner handles BLE peripheral discovery.
//
// A Scanner runs a single session: Start once, Stop any number of times.
// Events() delivers EventStopped exactly once and is closed right after it.
type Scanner struct {
	transport device.ScanningDevice
	opts      Options
	logger    *logrus.Logger

	peripherals *hashmap.Map[string, *device.PeripheralInfo]
	// infoMu guards the PeripheralInfo values stored in peripherals.
	infoMu sync.Mutex

	events *ringchan.RingChannel[Event]
	errs   chan error

	mu     sync.Mutex
	state  scanState
	cancel context.CancelFunc

	emitMu     sync.Mutex
	closed     bool
	finishOnce sync.Once
}

// New creates a scanner on top of transport
func New(transport device.ScanningDevice, opts *Options, logger *logrus.Logger) *Scanner {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = logrus.New()
	}

	bufSize := opts.EventBuffer
	if bufSize <= 0 {
		bufSize = 256
	}

	return &Scanner{
		transport:   transport,
		opts:        *opts,
		logger:      logger,
		peripherals: hashmap.New[string, *device.PeripheralInfo](),
		events:      ringchan.New[Event](bufSize),
		errs:        make(chan error, 1),
	}
}

// Start begins an unbounded discovery session in the background
func (s *Scanner) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateRunning:
		return ErrAlreadyStarted
	case stateStopped:
		return ErrStopped
	}

	scanCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state = stateRunning

	s.logger.WithFields(logrus.Fields{
		"duplicate_filter": s.opts.DuplicateFilter,
		"services":         s.opts.ServiceUUIDs,
	}).Info("Starting BLE scan...")

	groutine.Go(scanCtx, "ble-scan", s.run)
	if s.opts.EnumerationWindow >= 0 {
		groutine.Go(scanCtx, "ble-scan-enumeration", s.enumerationTimer)
	}
	if s.opts.StaleTimeout > 0 {
		groutine.Go(scanCtx, "ble-scan-sweeper", s.sweeper)
	}
	return nil
}

// Stop requests termination. EventStopped follows asynchronously, exactly
// once, no matter how often or when Stop is called.
func (s *Scanner) Stop() {
	s.mu.Lock()
	prev := s.state
	s.state = stateStopped
	cancel := s.cancel
	s.mu.Unlock()

	switch prev {
	case stateIdle:
		s.finish()
	case stateRunning:
		s.logger.Debug("Stopping BLE scan...")
		cancel()
	}
}

// Events returns a read-only channel of scanner events
func (s *Scanner) Events() <-chan Event {
	return s.events.C()
}

// Errors carries at most one *ScanError and is closed when the scanner stops
func (s *Scanner) Errors() <-chan error {
	return s.errs
}

// Peripherals returns a snapshot of the currently known peripherals sorted by ID
func (s *Scanner) Peripherals() []device.PeripheralInfo {
	s.infoMu.Lock()
	defer s.infoMu.Unlock()

	result := make([]device.PeripheralInfo, 0, s.peripherals.Len())
	s.peripherals.Range(func(_ string, p *device.PeripheralInfo) bool {
		result = append(result, p.Clone())
		return true
	})
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result
}

func (s *Scanner) run(ctx context.Context) {
	err := s.transport.Scan(ctx, !s.opts.DuplicateFilter, func(adv device.Advertisement) {
		if ctx.Err() != nil {
			return
		}
		s.handleAdvertisement(adv)
	})

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		scanErr := &ScanError{Err: err}
		s.logger.WithError(err).Error("BLE scan failed")
		s.errs <- scanErr
	}

	s.mu.Lock()
	s.state = stateStopped
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.logger.WithField("device_count", s.peripherals.Len()).Info("BLE scan stopped")
	s.finish()
}

// finish emits the terminal event and closes both channels
func (s *Scanner) finish() {
	s.finishOnce.Do(func() {
		s.emitMu.Lock()
		defer s.emitMu.Unlock()

		s.events.Send(Event{Type: EventStopped})
		s.closed = true
		s.events.Close()
		close(s.errs)
	})
}

func (s *Scanner) emit(ev Event) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	if s.closed {
		return
	}
	if s.events.Send(ev) {
		s.logger.WithField("type", ev.Type).Debug("Event buffer full, dropped oldest event")
	}
}

// handleAdvertisement updates an existing or adds a new peripheral
func (s *Scanner) handleAdvertisement(adv device.Advertisement) {
	id := adv.Addr()
	if id == "" {
		return
	}

	s.infoMu.Lock()
	p, existing := s.peripherals.Get(id)
	if !existing && !s.shouldInclude(adv) {
		s.infoMu.Unlock()
		return
	}

	ev := Event{}
	if existing {
		p.Update(adv)
		ev.Type = EventUpdated
	} else {
		info := device.NewPeripheralInfo(adv)
		p = &info
		s.peripherals.Set(id, p)
		ev.Type = EventAdded
	}
	ev.Peripheral = p.Clone()
	s.infoMu.Unlock()

	if ev.Type == EventAdded {
		s.logger.WithFields(logrus.Fields{
			"device":  ev.Peripheral.DisplayName(),
			"address": ev.Peripheral.Address,
			"rssi":    ev.Peripheral.RSSI,
		}).Info("Discovered new device")
	}
	s.emit(ev)
}

// shouldInclude applies allow / block / service filters
func (s *Scanner) shouldInclude(adv device.Advertisement) bool {
	addr := adv.Addr()

	for _, blocked := range s.opts.BlockList {
		if strings.EqualFold(addr, blocked) {
			return false
		}
	}

	if len(s.opts.AllowList) > 0 {
		allowed := false
		for _, a := range s.opts.AllowList {
			if strings.EqualFold(addr, a) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if len(s.opts.ServiceUUIDs) > 0 {
		advertised := device.NormalizeUUIDs(adv.Services())
		for _, required := range s.opts.ServiceUUIDs {
			want := device.NormalizeUUID(required)
			for _, have := range advertised {
				if want == have {
					return true
				}
			}
		}
		return false
	}

	return true
}

func (s *Scanner) enumerationTimer(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(s.opts.EnumerationWindow):
		s.logger.WithField("device_count", s.peripherals.Len()).Debug("Initial enumeration complete")
		s.emit(Event{Type: EventEnumerationComplete})
	}
}

func (s *Scanner) sweeper(ctx context.Context) {
	interval := s.opts.StaleTimeout / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.sweep(now)
		}
	}
}

// sweep removes peripherals whose last advertisement is older than StaleTimeout
func (s *Scanner) sweep(now time.Time) {
	var removed []device.PeripheralInfo

	s.infoMu.Lock()
	s.peripherals.Range(func(id string, p *device.PeripheralInfo) bool {
		if now.Sub(p.LastSeen) > s.opts.StaleTimeout {
			removed = append(removed, p.Clone())
		}
		return true
	})
	for _, p := range removed {
		s.peripherals.Del(p.ID)
	}
	s.infoMu.Unlock()

	for _, p := range removed {
		s.logger.WithFields(logrus.Fields{
			"device":  p.DisplayName(),
			"address": p.Address,
		}).Info("Device went away")
		s.emit(Event{Type: EventRemoved, Peripheral: p})
	}
}
