package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, logrus.InfoLevel, cfg.LogLevel)
	assert.Equal(t, "go-ble", cfg.Backend)
	assert.Equal(t, 10*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 30*time.Second, cfg.DeviceTimeout)
	assert.Equal(t, "table", cfg.OutputFormat)

	assert.Equal(t, 10*time.Second, cfg.Pipeline.ConnectTimeout)
	assert.Equal(t, 5*time.Second, cfg.Pipeline.RetryDelay)
	assert.Equal(t, 2*time.Second, cfg.Pipeline.ReconnectDelay)
	assert.Equal(t, 30, cfg.Store.ChartCapacity)
	assert.Equal(t, 100, cfg.Store.HistoryCapacity)
	assert.False(t, cfg.Store.ExcludeZero, "zeros MUST count in stats by default")
	assert.True(t, cfg.Web.Enabled)
	assert.Equal(t, ":5001", cfg.Web.Addr)
	assert.False(t, cfg.Forward.MQTT.Enabled)
	assert.Equal(t, "blehr/heartrate", cfg.Forward.MQTT.Topic)
	assert.Equal(t, int64(1000), cfg.Forward.Redis.MaxLen)

	assert.NoError(t, cfg.Validate(), "defaults MUST validate")
}

func TestLoad(t *testing.T) {
	// GOAL: Verify YAML values override defaults and untouched fields keep them
	//
	// TEST SCENARIO: Write partial YAML → Load → overridden and default fields both correct

	path := filepath.Join(t.TempDir(), "blehr.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
backend: tinygo
pipeline:
  retry_delay: 1500ms
store:
  history_capacity: 300
  exclude_zero: true
web:
  enabled: false
forward:
  redis:
    enabled: true
    stream: hr
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, logrus.DebugLevel, cfg.LogLevel)
	assert.Equal(t, "tinygo", cfg.Backend)
	assert.Equal(t, 1500*time.Millisecond, cfg.Pipeline.RetryDelay)
	assert.Equal(t, 2*time.Second, cfg.Pipeline.ReconnectDelay, "unset field MUST keep its default")
	assert.Equal(t, 300, cfg.Store.HistoryCapacity)
	assert.Equal(t, 30, cfg.Store.ChartCapacity)
	assert.True(t, cfg.Store.ExcludeZero)
	assert.False(t, cfg.Web.Enabled, "explicit false MUST override a true default")
	assert.True(t, cfg.Forward.Redis.Enabled)
	assert.Equal(t, "hr", cfg.Forward.Redis.Stream)
	assert.Equal(t, "localhost:6379", cfg.Forward.Redis.Addr)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("pipeline: [1, 2"), 0o600))
	_, err = Load(bad)
	assert.ErrorContains(t, err, "parse config")

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("output_format: xml\n"), 0o600))
	_, err = Load(invalid)
	assert.ErrorContains(t, err, "output_format")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel logrus.Level
	}{
		{
			name:     "creates logger with debug level",
			logLevel: logrus.DebugLevel,
		},
		{
			name:     "creates logger with info level",
			logLevel: logrus.InfoLevel,
		},
		{
			name:     "creates logger with error level",
			logLevel: logrus.ErrorLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				LogLevel: tt.logLevel,
			}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.logLevel, logger.GetLevel())

			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:   "json format is valid",
			mutate: func(c *Config) { c.OutputFormat = "json" },
		},
		{
			name:    "unknown format",
			mutate:  func(c *Config) { c.OutputFormat = "xml" },
			wantErr: "output_format",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Backend = "bluez" },
			wantErr: "backend",
		},
		{
			name:    "zero capacity",
			mutate:  func(c *Config) { c.Store.ChartCapacity = 0 },
			wantErr: "capacities",
		},
		{
			name:    "negative delay",
			mutate:  func(c *Config) { c.Pipeline.ReconnectDelay = -time.Second },
			wantErr: "delays",
		},
		{
			name: "mqtt qos out of range",
			mutate: func(c *Config) {
				c.Forward.MQTT.Enabled = true
				c.Forward.MQTT.QoS = 3
			},
			wantErr: "qos",
		},
		{
			name: "redis without stream",
			mutate: func(c *Config) {
				c.Forward.Redis.Enabled = true
				c.Forward.Redis.Stream = ""
			},
			wantErr: "forward.redis",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestConfig_ZeroValues(t *testing.T) {
	cfg := &Config{}

	// Zero values must not panic
	logger := cfg.NewLogger()
	assert.NotNil(t, logger)
	assert.Equal(t, logrus.PanicLevel, logger.GetLevel())
	assert.Error(t, cfg.Validate(), "zero config MUST NOT validate")
}

func BenchmarkDefaultConfig(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = DefaultConfig()
	}
}
