// Package frame reassembles delimiter-terminated sensor frames from an
// arbitrarily chunked text feed and decodes the temperature/humidity pair.
package frame

import (
	"strings"
	"sync"

	"github.com/mcuadros/go-defaults"
)

// Options configures the wire format
type Options struct {
	Delimiter      string `default:"|"`
	TemperatureTag string `default:"T:"`
	HumidityTag    string `default:"H:"`
	// MaxBuffer caps the unterminated partial frame, in bytes. 0 disables the cap.
	MaxBuffer int `default:"4096"`
}

// DefaultOptions returns Options populated from struct tag defaults
func DefaultOptions() *Options {
	opts := &Options{}
	defaults.SetDefaults(opts)
	return opts
}

// Stats counts parser outcomes since creation or the last Reset
type Stats struct {
	Decoded   uint64
	Dropped   uint64
	Overflows uint64
}

// Parser is an incremental frame parser.
//
// Feed may be called from one goroutine while Reading, Buffered and Stats are
// called from others; the buffer and the latest reading share one mutex.
type Parser struct {
	opts      Options
	onReading func(Reading)

	mu      sync.Mutex
	buf     strings.Builder
	reading Reading
	stats   Stats
}

// NewParser creates a parser. onReading, when set, is invoked after every
// successfully decoded frame, outside the parser lock.
func NewParser(opts *Options, onReading func(Reading)) *Parser {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Delimiter == "" {
		opts = &Options{Delimiter: "|", TemperatureTag: opts.TemperatureTag, HumidityTag: opts.HumidityTag, MaxBuffer: opts.MaxBuffer}
	}
	return &Parser{
		opts:      *opts,
		onReading: onReading,
		reading:   EmptyReading(),
	}
}

// Feed appends chunk and consumes every complete frame in order.
// Malformed frames are dropped and counted, never returned.
func (p *Parser) Feed(chunk string) {
	decoded := p.consume(chunk)
	if p.onReading == nil {
		return
	}
	for _, r := range decoded {
		p.onReading(r)
	}
}

func (p *Parser) consume(chunk string) []Reading {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buf.WriteString(chunk)
	pending := p.buf.String()

	var decoded []Reading
	for {
		idx := strings.Index(pending, p.opts.Delimiter)
		if idx < 0 {
			break
		}
		frame := pending[:idx]
		pending = pending[idx+len(p.opts.Delimiter):]

		r, err := DecodeFrame(frame, p.opts.TemperatureTag, p.opts.HumidityTag)
		if err != nil {
			p.stats.Dropped++
			continue
		}
		p.reading = r
		p.stats.Decoded++
		decoded = append(decoded, r)
	}

	if p.opts.MaxBuffer > 0 && len(pending) > p.opts.MaxBuffer {
		pending = ""
		p.stats.Overflows++
	}

	p.buf.Reset()
	p.buf.WriteString(pending)
	return decoded
}

// Reading returns the latest decoded pair
func (p *Parser) Reading() Reading {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reading
}

// Buffered returns the unterminated partial frame held between feeds
func (p *Parser) Buffered() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.String()
}

// Stats returns a snapshot of the decode, drop and overflow counters
func (p *Parser) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Reset clears the buffer, the latest reading and the counters
func (p *Parser) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf.Reset()
	p.reading = EmptyReading()
	p.stats = Stats{}
}
