package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blehr/internal/devicefactory"
	"github.com/srg/blehr/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for heart-rate sensors",
	Long: `Scan for Bluetooth Low Energy devices advertising the Heart Rate service.

Every other advertisement is ignored. The scan runs for --duration
(or the configured scan timeout) and prints one row per sensor.`,
	RunE: runScan,
}

var (
	scanDuration  time.Duration
	scanFormat    string
	scanAllowList []string
	scanBlockList []string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (defaults to the configured scan timeout)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "", "Output format (table, json)")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show devices with these addresses")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide devices with these addresses")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	format := cfg.OutputFormat
	if scanFormat != "" {
		format = scanFormat
	}
	if format != "table" && format != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", format)
	}

	duration := cfg.ScanTimeout
	if scanDuration > 0 {
		duration = scanDuration
	}

	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}
	applyConfigLogLevel(cmd, logger, cfg)

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	radio, err := devicefactory.NewRadio(cfg.Backend, logger)
	if err != nil {
		return fmt.Errorf("failed to open BLE adapter: %w", err)
	}
	defer func() {
		if err := radio.Close(); err != nil {
			logger.WithError(err).Warn("failed to close BLE adapter")
		}
	}()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

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

	progress := NewCountdownProgressPrinter(cmd.ErrOrStderr(), "Scanning for heart rate devices", "Scanning", duration, "Processing results")
	progress.Start()
	defer progress.Stop()

	opts := &scanner.ScanOptions{
		Duration:  duration,
		AllowList: scanAllowList,
		BlockList: scanBlockList,
	}
	devices, err := scanner.New(radio, logger).Scan(ctx, opts, progress.Callback())
	progress.Stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("scan failed")
		return err
	}

	return displayDevices(cmd.OutOrStdout(), devices, format)
}

// sortedEntries orders entries by signal strength, strongest first, then by address.
func sortedEntries(entries map[string]scanner.DeviceEntry) []scanner.DeviceEntry {
	list := make([]scanner.DeviceEntry, 0, len(entries))
	for _, e := range entries {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].RSSI != list[j].RSSI {
			return list[i].RSSI > list[j].RSSI
		}
		return list[i].Address < list[j].Address
	})
	return list
}

func displayDevices(w io.Writer, entries map[string]scanner.DeviceEntry, format string) error {
	list := sortedEntries(entries)
	if format == "json" {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(list)
	}

	if len(list) == 0 {
		fmt.Fprintln(w, "No heart rate devices discovered")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tRSSI\tSEEN\tLAST SEEN")
	for _, e := range list {
		name := e.Name
		if name == "" {
			name = "(unknown)"
		}
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		lastSeen := time.Since(e.LastSeen).Truncate(time.Second)
		fmt.Fprintf(tw, "%s\t%s\t%d dBm\t%d\t%s ago\n", name, e.Address, e.RSSI, e.Seen, lastSeen)
	}
	return tw.Flush()
}
