package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/blehr/internal/devicefactory"
	"github.com/srg/blehr/probe"
)

// probeCmd represents the probe command
var probeCmd = &cobra.Command{
	Use:   "probe <device-address>",
	Short: "Read one measurement from a heart-rate sensor",
	Long: `Connect to a single heart-rate sensor, subscribe to Heart Rate Measurement
notifications and print the first measurement that decodes.

Use this to check that a sensor is reachable and reporting before
starting the monitor.`,
	Args: cobra.ExactArgs(1),
	RunE: runProbe,
}

var (
	probeConnectTimeout     time.Duration
	probeMeasurementTimeout time.Duration
	probeJSON               bool
)

func init() {
	defaults := probe.DefaultOptions()
	probeCmd.Flags().DurationVar(&probeConnectTimeout, "connect-timeout", defaults.ConnectTimeout, "Connection timeout")
	probeCmd.Flags().DurationVar(&probeMeasurementTimeout, "measurement-timeout", defaults.MeasurementTimeout, "How long to wait for a measurement")
	probeCmd.Flags().BoolVar(&probeJSON, "json", false, "Print the result as JSON")
}

func runProbe(cmd *cobra.Command, args []string) error {
	address := strings.TrimSpace(args[0])
	if address == "" {
		return fmt.Errorf("device address must not be empty")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}
	applyConfigLogLevel(cmd, logger, cfg)

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

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Probing %s", address), "Connecting", "Processing results", "Failed")
	progress.Start()
	defer progress.Stop()

	opts := &probe.Options{
		ConnectTimeout:     probeConnectTimeout,
		MeasurementTimeout: probeMeasurementTimeout,
	}
	res, err := probe.Probe(ctx, radio, address, opts, logger, progress.Callback(), probe.FirstMeasurement(opts.MeasurementTimeout, logger))
	progress.Stop()
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}

	if probeJSON {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(res)
	}
	printProbeResult(cmd.OutOrStdout(), res)
	return nil
}

func printProbeResult(w io.Writer, res probe.Result) {
	bold := color.New(color.Bold)
	fmt.Fprintf(w, "Device:     %s\n", res.Address)
	fmt.Fprintf(w, "Heart rate: %s\n", bold.Sprintf("%d BPM", res.Sample.BPM))
	fmt.Fprintf(w, "Zone:       %s\n", res.Zone)
	fmt.Fprintf(w, "Status:     %s\n", res.Status)
	fmt.Fprintf(w, "Payload:    % x\n", res.Payload)
	fmt.Fprintf(w, "Latency:    %s\n", res.Latency.Truncate(time.Millisecond))
	if res.Rejected > 0 {
		fmt.Fprintf(w, "Rejected:   %d malformed payload(s)\n", res.Rejected)
	}
}
