package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blethermo/internal/device"
	goble "github.com/srg/blethermo/internal/device/go-ble"
	"github.com/srg/blethermo/scanner"
	"golang.org/x/term"
)

// closableTransport is the radio stack a command owns for its lifetime
type closableTransport interface {
	device.Transport
	Close() error
}

// transportFactory creates the radio stack; tests replace it with a fake
var transportFactory = func(logger *logrus.Logger) closableTransport {
	return goble.NewTransport(logger)
}

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE devices",
	Long: `Scan for and display Bluetooth Low Energy devices in the vicinity.

Lists discovered devices with their names, addresses, RSSI values and
advertised services. Devices matching the configured target name are
highlighted.`,
	RunE: runScan,
}

var (
	scanDuration    time.Duration
	scanFormat      string
	scanServices    []string
	scanAllowList   []string
	scanBlockList   []string
	scanNoDuplicate bool
)

func init() {
	addScanFlags()
}

func addScanFlags() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().StringSliceVarP(&scanServices, "services", "s", nil, "Filter by service UUIDs")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show devices with these addresses")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide devices with these addresses")
	scanCmd.Flags().BoolVar(&scanNoDuplicate, "no-duplicates", false, "Filter duplicate advertisements")
}

func runScan(cmd *cobra.Command, args []string) error {
	validFormats := []string{"table", "json"}
	if !slices.Contains(validFormats, scanFormat) {
		return fmt.Errorf("invalid format '%s': must be one of %v", scanFormat, validFormats)
	}
	if scanDuration <= 0 {
		return fmt.Errorf("invalid duration %v: must be positive", scanDuration)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	services := cfg.Scan.ServiceUUIDs
	if len(scanServices) > 0 {
		services = scanServices
	}

	transport := transportFactory(logger)
	defer func() {
		if err := transport.Close(); err != nil {
			logger.WithError(err).Debug("Transport close failed")
		}
	}()

	s := scanner.New(transport, &scanner.Options{
		DuplicateFilter:   scanNoDuplicate || cfg.Scan.DuplicateFilter,
		EnumerationWindow: cfg.Scan.EnumerationWindow,
		StaleTimeout:      cfg.Scan.StaleTimeout,
		EventBuffer:       cfg.Scan.EventBuffer,
		ServiceUUIDs:      device.NormalizeUUIDs(services),
		AllowList:         scanAllowList,
		BlockList:         scanBlockList,
	}, logger)

	ctx, cancel := context.WithTimeout(cmd.Context(), scanDuration)
	defer cancel()

	// Listen for Ctrl+C to cancel
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(cmd.ErrOrStderr(), "\nCtrl+C pressed, cancelling scan...")
			cancel()
		case <-ctx.Done():
		}
	}()

	if isTerminal(cmd.ErrOrStderr()) {
		progress := NewCountdownProgressPrinter(cmd.ErrOrStderr(), "Scanning for BLE devices", "Scanning", scanDuration)
		progress.Start()
		defer progress.Stop()
	}

	if err := s.Start(ctx); err != nil {
		return err
	}
	for ev := range s.Events() {
		logger.WithFields(logrus.Fields{
			"type":    ev.Type,
			"address": ev.Peripheral.Address,
		}).Debug("Scan event")
	}
	if err, ok := <-s.Errors(); ok && err != nil {
		return err
	}

	peripherals := s.Peripherals()
	if scanFormat == "json" {
		return displayPeripheralsJSON(cmd.OutOrStdout(), peripherals)
	}
	return displayPeripheralsTable(cmd.OutOrStdout(), peripherals, cfg.Target.Name)
}

// displayPeripheralsTable prints peripherals sorted by name, strongest signal first on ties
func displayPeripheralsTable(out io.Writer, peripherals []device.PeripheralInfo, target string) error {
	if len(peripherals) == 0 {
		fmt.Fprintln(out, "No devices discovered")
		return nil
	}

	slices.SortStableFunc(peripherals, func(a, b device.PeripheralInfo) int {
		if c := strings.Compare(a.DisplayName(), b.DisplayName()); c != 0 {
			return c
		}
		return b.RSSI - a.RSSI
	})

	highlight := color.New(color.FgGreen, color.Bold)
	if !isTerminal(out) {
		highlight.DisableColor()
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tSERVICES")
	fmt.Fprintln(w, strings.Repeat("-", 72))

	for _, p := range peripherals {
		name := p.DisplayName()
		if len(name) > 20 {
			name = name[:17] + "..."
		}

		uuids := make([]string, 0, len(p.AdvertisedServices))
		for _, s := range p.AdvertisedServices {
			uuids = append(uuids, device.ShortenUUID(s))
		}
		services := strings.Join(uuids, ",")
		if len(services) > 30 {
			services = services[:27] + "..."
		}

		if target != "" && p.Name == target {
			name = highlight.Sprint(name)
		}
		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\n", name, p.Address, p.RSSI, services)
	}

	return w.Flush()
}

func displayPeripheralsJSON(out io.Writer, peripherals []device.PeripheralInfo) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(peripherals)
}

// isTerminal reports whether w is an interactive terminal
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
