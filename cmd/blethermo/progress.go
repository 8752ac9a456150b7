package main

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter displays the current phase with elapsed or remaining time.
//
// Usage:
//
//	p := NewProgressPrinter(w, ...)
//	p.Start()
//	defer p.Stop()
//
// A ProgressPrinter is single-use. Start may be called at most once; Stop is
// safe to call repeatedly and from any goroutine.
type ProgressPrinter struct {
	out        io.Writer
	writeMu    sync.Mutex
	prefix     string
	phase      atomic.Value        // stores string - current phase name
	stopPhases map[string]struct{} // phases that stop the printer
	startTime  time.Time
	ticker     atomic.Pointer[time.Ticker]
	stopChan   chan struct{}
	done       chan struct{} // closed when goroutine exits
	started    atomic.Bool
	countUp    bool
	duration   time.Duration // for countdown mode
}

// NewProgressPrinter creates a progress printer that counts up (shows elapsed time)
func NewProgressPrinter(out io.Writer, prefix string, phase string, stopPhases ...string) *ProgressPrinter {
	p := &ProgressPrinter{
		out:        out,
		prefix:     prefix,
		stopPhases: phaseSet(stopPhases),
		countUp:    true,
	}
	p.phase.Store(phase)
	return p
}

// NewCountdownProgressPrinter creates a progress printer that counts down from duration
func NewCountdownProgressPrinter(out io.Writer, prefix string, phase string, duration time.Duration, stopPhases ...string) *ProgressPrinter {
	p := &ProgressPrinter{
		out:        out,
		prefix:     prefix,
		stopPhases: phaseSet(stopPhases),
		duration:   duration,
	}
	p.phase.Store(phase)
	return p
}

func phaseSet(phases []string) map[string]struct{} {
	set := make(map[string]struct{}, len(phases))
	for _, p := range phases {
		set[p] = struct{}{}
	}
	return set
}

// Start begins displaying progress updates in a background goroutine.
// Panics if called more than once.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}

	p.done = make(chan struct{})
	p.stopChan = make(chan struct{})
	p.startTime = time.Now()
	ticker := time.NewTicker(progressUpdateInterval)
	p.ticker.Store(ticker)

	p.printf("\r%s (%s...)   ", p.prefix, p.phase.Load().(string))

	go func() {
		defer close(p.done)
		for {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				phase := p.phase.Load().(string)
				if _, stop := p.stopPhases[phase]; stop {
					return
				}
				p.printProgress(phase, p.seconds())
			}
		}
	}()
}

func (p *ProgressPrinter) seconds() int {
	elapsed := time.Since(p.startTime)
	if p.countUp {
		return int(elapsed.Seconds())
	}
	remaining := p.duration - elapsed
	if remaining <= 0 {
		return 0
	}
	// Round to the nearest second, e.g. 3.7s -> 4s
	return int(remaining.Seconds() + 0.5)
}

func (p *ProgressPrinter) printProgress(phase string, seconds int) {
	if seconds > 0 {
		p.printf("\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		p.printf("\r%s (%s...)   ", p.prefix, phase)
	}
}

func (p *ProgressPrinter) printf(format string, args ...any) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

// Callback returns a function that updates the phase. Setting a stop phase
// stops the printer. Safe for concurrent use.
func (p *ProgressPrinter) Callback() func(phase string) {
	return func(phase string) {
		p.phase.Store(phase)
		if _, stop := p.stopPhases[phase]; stop {
			p.Stop()
		}
	}
}

// Stop stops the progress display and clears the line. Only the first call
// has an effect.
func (p *ProgressPrinter) Stop() {
	ticker := p.ticker.Swap(nil)
	if ticker == nil {
		return
	}

	ticker.Stop()
	close(p.stopChan)
	<-p.done

	p.printf("%s", clearLineSequence)
}
