// Package stream turns a pollable characteristic into a sequential text feed.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blethermo/internal/device"
	"github.com/srg/blethermo/internal/groutine"
)

// Options configures the read loop
type Options struct {
	// ReadTimeout bounds each pull.
	ReadTimeout time.Duration `default:"5s"`
	// ErrorBackoff is the pause after a failed pull.
	ErrorBackoff time.Duration `default:"100ms"`

	// OnError is called from the loop goroutine for every failed pull.
	OnError func(*ReadError)
	// OnExit is called once when the loop exits. err is nil after Stop.
	OnExit func(err error)
}

// DefaultOptions returns Options populated from struct tag defaults
func DefaultOptions() *Options {
	opts := &Options{}
	defaults.SetDefaults(opts)
	return opts
}

// ReadError reports a single failed pull; the loop keeps going
type ReadError struct {
	UUID    string
	Attempt uint64
	Err     error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s (attempt %d): %v", e.UUID, e.Attempt, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// ErrPanic wraps a panic recovered from the pull or the consumer
var ErrPanic = errors.New("stream reader panic")

// Stats counts loop activity for the current or last run
type Stats struct {
	Reads    uint64
	Chunks   uint64
	Failures uint64
}

// Reader runs at most one read loop at a time.
//
// The loop issues one blocking pull per iteration and delivers decoded text to
// onChunk sequentially. After Stop returns no new onChunk call starts; a
// delivery already in progress on the loop goroutine completes first.
type Reader struct {
	opts   Options
	logger *logrus.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	loopGID atomic.Uint64

	deliverMu sync.Mutex
	enabled   atomic.Bool

	reads    atomic.Uint64
	chunks   atomic.Uint64
	failures atomic.Uint64
}

// New creates an idle reader
func New(opts *Options, logger *logrus.Logger) *Reader {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = logrus.New()
	}

	done := make(chan struct{})
	close(done)

	return &Reader{
		opts:   *opts,
		logger: logger,
		done:   done,
	}
}

// Start begins reading ch and forwarding text to onChunk.
// Returns false without doing anything if a loop is already running.
func (r *Reader) Start(ctx context.Context, ch device.Characteristic, onChunk func(string)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		r.logger.Debug("Stream reader already running, ignoring start")
		return false
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	r.running = true
	r.cancel = cancel
	r.done = done
	r.enabled.Store(true)
	r.reads.Store(0)
	r.chunks.Store(0)
	r.failures.Store(0)

	groutine.Go(loopCtx, "stream-reader", func(ctx context.Context) {
		r.loop(ctx, ch, onChunk, done)
	})
	return true
}

// Stop disables the loop. Safe to call at any time, including before Start,
// repeatedly, and from inside onChunk.
func (r *Reader) Stop() {
	if groutine.GetGID() == r.loopGID.Load() {
		// Called from onChunk: the delivery lock is already held by this goroutine.
		r.enabled.Store(false)
	} else {
		r.deliverMu.Lock()
		r.enabled.Store(false)
		r.deliverMu.Unlock()
	}

	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// IsReading reports whether a loop is running
func (r *Reader) IsReading() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Done is closed when the current loop has fully exited.
// Before the first Start it returns a closed channel.
func (r *Reader) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Stats returns a snapshot of the read, chunk and failure counters
func (r *Reader) Stats() Stats {
	return Stats{
		Reads:    r.reads.Load(),
		Chunks:   r.chunks.Load(),
		Failures: r.failures.Load(),
	}
}

func (r *Reader) loop(ctx context.Context, ch device.Characteristic, onChunk func(string), done chan struct{}) {
	r.loopGID.Store(groutine.GetGID())

	uuid := ch.UUID()
	logger := r.logger.WithFields(logrus.Fields{
		"char_uuid": uuid,
		"goroutine": groutine.Name(ctx),
	})
	logger.Debug("Stream reader started")

	var exitErr error
	defer func() {
		if p := recover(); p != nil {
			exitErr = fmt.Errorf("%w: %v", ErrPanic, p)
			logger.WithField("panic", p).Error("Stream reader crashed")
		}

		r.loopGID.Store(0)
		r.enabled.Store(false)

		r.mu.Lock()
		r.running = false
		if r.cancel != nil {
			r.cancel()
		}
		r.mu.Unlock()

		logger.WithField("error", exitErr).Debug("Stream reader exited")
		if r.opts.OnExit != nil {
			r.opts.OnExit(exitErr)
		}
		close(done)
	}()

	var decoder textDecoder
	var attempt uint64

	for r.enabled.Load() {
		if err := ctx.Err(); err != nil {
			if r.enabled.Load() {
				exitErr = err
			}
			return
		}

		attempt++
		r.reads.Add(1)
		data, err := ch.Read(r.opts.ReadTimeout)
		if err != nil {
			if errors.Is(err, device.ErrNotConnected) {
				exitErr = err
				logger.WithError(err).Warn("Characteristic is no longer reachable, stopping stream reader")
				return
			}

			r.failures.Add(1)
			readErr := &ReadError{UUID: uuid, Attempt: attempt, Err: err}
			if errors.Is(err, device.ErrTimeout) {
				logger.WithError(err).Debug("Read timed out")
			} else {
				logger.WithError(err).Warn("Read failed")
			}
			if r.opts.OnError != nil {
				r.opts.OnError(readErr)
			}

			if r.opts.ErrorBackoff > 0 {
				select {
				case <-ctx.Done():
				case <-time.After(r.opts.ErrorBackoff):
				}
			}
			continue
		}

		text := decoder.decode(data)
		if text == "" {
			continue
		}
		r.deliver(text, onChunk)
	}
}

func (r *Reader) deliver(text string, onChunk func(string)) {
	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()

	if !r.enabled.Load() {
		return
	}
	r.chunks.Add(1)
	onChunk(text)
}
