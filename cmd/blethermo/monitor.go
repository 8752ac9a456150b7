package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/blethermo/sensor"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Stream temperature and humidity from the sensor",
	Long: `Find the sensor by its advertised name, negotiate its data characteristic
and print every decoded temperature/humidity reading.

The sensor is expected to stream "T:<temperature>H:<humidity>|" frames.
Readings are printed until interrupted, until --count readings were
received, or until the connection is lost.`,
	Example: `  blethermo monitor
  blethermo monitor --name "DSD TECH" --count 10
  blethermo monitor --raw --send "AT+RESET"`,
	RunE: runMonitor,
}

var (
	monitorName           string
	monitorServicePrefix  string
	monitorCharPrefix     string
	monitorCount          int
	monitorDuration       time.Duration
	monitorAcquireTimeout time.Duration
	monitorRaw            bool
	monitorSend           []string
)

func init() {
	addMonitorFlags()
}

func addMonitorFlags() {
	monitorCmd.Flags().StringVarP(&monitorName, "name", "n", "", "Advertised name of the sensor (overrides config)")
	monitorCmd.Flags().StringVar(&monitorServicePrefix, "service-prefix", "", "Service UUID prefix (overrides config)")
	monitorCmd.Flags().StringVar(&monitorCharPrefix, "char-prefix", "", "Characteristic UUID prefix (overrides config)")
	monitorCmd.Flags().IntVarP(&monitorCount, "count", "c", 0, "Exit after this many readings (0 for unlimited)")
	monitorCmd.Flags().DurationVarP(&monitorDuration, "duration", "d", 0, "Monitor duration (0 for indefinite)")
	monitorCmd.Flags().DurationVar(&monitorAcquireTimeout, "acquire-timeout", time.Minute, "How long to wait for the sensor to be found and negotiated")
	monitorCmd.Flags().BoolVar(&monitorRaw, "raw", false, "Print the raw stream text instead of decoded readings")
	monitorCmd.Flags().StringArrayVar(&monitorSend, "send", nil, "Command to write to the sensor once connected (repeatable)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	if monitorCount < 0 {
		return fmt.Errorf("invalid count %d: must not be negative", monitorCount)
	}
	if monitorAcquireTimeout <= 0 {
		return fmt.Errorf("invalid acquire timeout %v: must be positive", monitorAcquireTimeout)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if monitorName != "" {
		cfg.Target.Name = monitorName
	}
	if monitorServicePrefix != "" {
		cfg.Target.ServicePrefix = monitorServicePrefix
	}
	if monitorCharPrefix != "" {
		cfg.Target.CharacteristicPrefix = monitorCharPrefix
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if monitorDuration > 0 {
		ctx, cancel = context.WithTimeout(ctx, monitorDuration)
		defer cancel()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(cmd.ErrOrStderr(), "\nCtrl+C pressed, stopping...")
			cancel()
		case <-ctx.Done():
		}
	}()

	transport := transportFactory(logger)
	defer func() {
		if err := transport.Close(); err != nil {
			logger.WithError(err).Debug("Transport close failed")
		}
	}()

	printer := newReadingPrinter(cmd.OutOrStdout(), monitorRaw, monitorCount)
	coord, err := sensor.New(transport, cfg, printer, logger, sensor.WithDispatcher(printer.dispatch))
	if err != nil {
		return err
	}
	printer.coordinator = coord

	if isTerminal(cmd.ErrOrStderr()) {
		progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Looking for %q", cfg.Target.Name),
			sensor.StateScanning.String(),
			sensor.StateStreaming.String(), sensor.StateFailed.String(), sensor.StateStopped.String())
		progress.Start()
		defer progress.Stop()
		printer.onState = progress.Callback()
	}

	if err := coord.Start(ctx); err != nil {
		return err
	}
	defer coord.Stop()

	if err := waitForTarget(ctx, coord, cfg.Target.Name); err != nil {
		if ctx.Err() != nil {
			// Interrupted or --duration elapsed before the sensor was found
			return nil
		}
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Connected to %q, streaming...\n", cfg.Target.Name)

	for _, command := range monitorSend {
		if err := coord.Write(ctx, command); err != nil {
			return err
		}
	}

	select {
	case <-printer.done:
		return nil
	case <-ctx.Done():
		return nil
	case <-coord.Done():
		if ctx.Err() != nil {
			return nil
		}
		return ErrConnectionLost
	}
}

// waitForTarget blocks until the sensor is negotiated or the acquire timeout expires
func waitForTarget(ctx context.Context, coord *sensor.Coordinator, name string) error {
	acquireCtx, cancel := context.WithTimeout(ctx, monitorAcquireTimeout)
	defer cancel()

	err := coord.WaitAcquired(acquireCtx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return fmt.Errorf("%w: %q was not acquired within %v", ErrTargetNotFound, name, monitorAcquireTimeout)
	case errors.Is(err, sensor.ErrStopped):
		return fmt.Errorf("%w: scan ended before %q was seen", ErrTargetNotFound, name)
	default:
		return err
	}
}

// readingPrinter renders coordinator notifications to the command output
type readingPrinter struct {
	sensor.BaseObserver

	out         io.Writer
	raw         bool
	limit       int
	coordinator *sensor.Coordinator
	onState     func(phase string)

	mu       sync.Mutex
	printed  int
	done     chan struct{}
	doneOnce sync.Once
	label    *color.Color
}

func newReadingPrinter(out io.Writer, raw bool, limit int) *readingPrinter {
	label := color.New(color.FgCyan)
	if !isTerminal(out) {
		label.DisableColor()
	}
	return &readingPrinter{
		out:   out,
		raw:   raw,
		limit: limit,
		done:  make(chan struct{}),
		label: label,
	}
}

// dispatch serializes every notification so output lines never interleave
func (p *readingPrinter) dispatch(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn()
}

func (p *readingPrinter) PropertiesChanged(props []sensor.Property) {
	if slices.Contains(props, sensor.PropertyState) && p.onState != nil {
		p.onState(p.coordinator.State().String())
	}
	if !slices.Contains(props, sensor.PropertyTemperature) {
		return
	}
	if p.limit > 0 && p.printed >= p.limit {
		return
	}

	if !p.raw {
		r := p.coordinator.Reading()
		fmt.Fprintf(p.out, "%s %s  %s %s\n",
			p.label.Sprint("Temperature:"), r.FriendlyTemperature(),
			p.label.Sprint("Humidity:"), r.FriendlyHumidity())
	}

	p.printed++
	if p.limit > 0 && p.printed >= p.limit {
		p.doneOnce.Do(func() { close(p.done) })
	}
}

func (p *readingPrinter) RawText(text string) {
	if p.raw && (p.limit == 0 || p.printed < p.limit) {
		fmt.Fprint(p.out, text)
	}
}
