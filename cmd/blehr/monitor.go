package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/blehr/internal/device"
	"github.com/srg/blehr/internal/devicefactory"
	"github.com/srg/blehr/internal/events"
	"github.com/srg/blehr/internal/forward"
	"github.com/srg/blehr/internal/heartrate"
	"github.com/srg/blehr/internal/pipeline"
	"github.com/srg/blehr/internal/status"
	"github.com/srg/blehr/internal/web"
	"github.com/srg/blehr/pkg/config"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Continuously monitor the nearest heart-rate sensor",
	Long: `Scan for a heart-rate sensor, connect to the first one found and stream its
measurements until interrupted.

The link is re-established automatically after failures and link loss.
While running, the live value, statistics and zones are served over HTTP
(see --addr) and, when enabled in the config file, forwarded to MQTT and
Redis Streams.`,
	RunE: runMonitor,
}

var (
	monitorAddr   string
	monitorNoWeb  bool
	monitorQuiet  bool
	monitorMQTT   bool
	monitorRedis  bool
	monitorExZero bool
)

// statusLogSize is how many status lines the console drainer may lag behind.
const statusLogSize = 64

func init() {
	monitorCmd.Flags().StringVar(&monitorAddr, "addr", "", "HTTP listen address (defaults to the configured one)")
	monitorCmd.Flags().BoolVar(&monitorNoWeb, "no-web", false, "Do not start the HTTP server")
	monitorCmd.Flags().BoolVarP(&monitorQuiet, "quiet", "q", false, "Do not print every sample")
	monitorCmd.Flags().BoolVar(&monitorMQTT, "mqtt", false, "Forward samples to the configured MQTT broker")
	monitorCmd.Flags().BoolVar(&monitorRedis, "redis", false, "Forward samples to the configured Redis stream")
	monitorCmd.Flags().BoolVar(&monitorExZero, "exclude-zero", false, "Leave no-data samples out of average, max and min")
}

// pipelineOptions maps the config file onto pipeline options.
func pipelineOptions(cfg *config.Config) pipeline.Options {
	return pipeline.Options{
		ConnectTimeout:  cfg.Pipeline.ConnectTimeout,
		RetryDelay:      cfg.Pipeline.RetryDelay,
		ReconnectDelay:  cfg.Pipeline.ReconnectDelay,
		EventQueueSize:  cfg.Pipeline.EventQueueSize,
		ChartCapacity:   cfg.Store.ChartCapacity,
		HistoryCapacity: cfg.Store.HistoryCapacity,
		ExcludeZero:     cfg.Store.ExcludeZero,
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if monitorAddr != "" {
		cfg.Web.Addr = monitorAddr
	}
	if monitorNoWeb {
		cfg.Web.Enabled = false
	}
	if monitorMQTT {
		cfg.Forward.MQTT.Enabled = true
	}
	if monitorRedis {
		cfg.Forward.Redis.Enabled = true
	}
	if monitorExZero {
		cfg.Store.ExcludeZero = true
	}

	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}
	applyConfigLogLevel(cmd, logger, cfg)

	cmd.SilenceUsage = true

	statusLog, err := status.NewLog(statusLogSize, logger)
	if err != nil {
		return err
	}
	drainer := status.NewDrainer(cmd.Context(), statusLog, cmd.ErrOrStderr(), logger)
	defer func() {
		drainer.Cancel()
		drainer.Wait()
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	factory := func() (device.Radio, error) {
		return devicefactory.NewRadio(cfg.Backend, logger)
	}
	m := &monitor{
		cfg:      cfg,
		logger:   logger,
		pipeline: pipeline.New(pipelineOptions(cfg), factory, statusLog, logger),
	}
	if !monitorQuiet {
		m.pipeline.OnSample(samplePrinter(cmd.OutOrStdout()))
	}

	err = m.start(ctx, statusLog)
	if err == nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Monitoring, press Ctrl+C to stop")
		<-ctx.Done()
	}
	if shutdownErr := m.shutdown(); err == nil {
		err = shutdownErr
	}
	return err
}

// monitor owns everything runMonitor starts so it can be torn down in one place.
type monitor struct {
	cfg        *config.Config
	logger     *logrus.Logger
	pipeline   *pipeline.Pipeline
	server     *web.Server
	forwarders []*forward.Forwarder
}

func (m *monitor) start(ctx context.Context, statusLog *status.Log) error {
	// The pipeline and forwarders outlive the signal context; shutdown stops them in order.
	runCtx := context.WithoutCancel(ctx)
	if err := m.startForwarders(runCtx); err != nil {
		return err
	}
	if err := m.pipeline.Start(runCtx); err != nil {
		return err
	}
	if m.cfg.Web.Enabled {
		m.server = web.New(m.cfg.Web.Addr, m.pipeline, m.pipeline, statusLog, m.logger)
		if err := m.server.Start(ctx); err != nil {
			m.server = nil
			return err
		}
		statusLog.Publish(status.LevelInfo, fmt.Sprintf("Web interface on http://%s", m.server.Addr()))
	}
	return m.pipeline.StartScanning(ctx)
}

func (m *monitor) startForwarders(ctx context.Context) error {
	var pubs []forward.Publisher
	if m.cfg.Forward.MQTT.Enabled {
		pub, err := forward.NewMQTTPublisher(m.cfg.Forward.MQTT, m.logger)
		if err != nil {
			return err
		}
		pubs = append(pubs, pub)
	}
	if m.cfg.Forward.Redis.Enabled {
		pub, err := forward.NewRedisPublisher(ctx, m.cfg.Forward.Redis, m.logger)
		if err != nil {
			for _, p := range pubs {
				_ = p.Close()
			}
			return err
		}
		pubs = append(pubs, pub)
	}

	for _, pub := range pubs {
		f := forward.NewForwarder(pub, m.cfg.Forward.QueueSize, m.logger)
		m.pipeline.OnSample(f.Observer())
		f.Start(ctx)
		m.forwarders = append(m.forwarders, f)
		m.logger.WithFields(logrus.Fields{
			"publisher": pub.Name(),
			"session":   f.Session(),
		}).Info("Forwarding samples")
	}
	return nil
}

// shutdown stops scanning first so no new session starts, then releases the radio,
// then the HTTP server, then the forwarders once no more samples can arrive.
func (m *monitor) shutdown() error {
	var errs []error

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.pipeline.StopScanning(stopCtx); err != nil && !errors.Is(err, pipeline.ErrNotRunning) && !errors.Is(err, pipeline.ErrClosed) {
		m.logger.WithError(err).Debug("stop scanning during shutdown")
	}
	if err := m.pipeline.Close(); err != nil {
		errs = append(errs, err)
	}
	if m.server != nil {
		if err := m.server.Shutdown(stopCtx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, f := range m.forwarders {
		metrics := f.Metrics()
		m.logger.WithFields(logrus.Fields{
			"published": metrics.Published,
			"dropped":   metrics.Dropped,
			"failed":    metrics.Failed,
		}).Info("Forwarder stopped")
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var statusColors = map[heartrate.Status]*color.Color{
	heartrate.StatusTooLow:     color.New(color.FgBlue),
	heartrate.StatusNormal:     color.New(color.FgGreen),
	heartrate.StatusExercising: color.New(color.FgYellow),
	heartrate.StatusTooHigh:    color.New(color.FgRed, color.Bold),
}

// formatSample renders one console line without colour.
func formatSample(s heartrate.Sample) string {
	if s.IsZero() {
		return fmt.Sprintf("%s  --- BPM  no data", s.CapturedAt.Format("15:04:05"))
	}
	return fmt.Sprintf("%s  %3d BPM  %-8s %s", s.CapturedAt.Format("15:04:05"), s.BPM, s.Zone(), s.Status())
}

// samplePrinter prints every sample on its own line, coloured by status.
func samplePrinter(w io.Writer) events.Observer {
	return func(s heartrate.Sample) {
		c, ok := statusColors[s.Status()]
		if !ok || s.IsZero() {
			fmt.Fprintln(w, formatSample(s))
			return
		}
		c.Fprintln(w, formatSample(s))
	}
}
