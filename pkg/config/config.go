package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel      logrus.Level  `yaml:"log_level" json:"log_level"`
	Backend       string        `yaml:"backend" json:"backend" default:"go-ble"`
	ScanTimeout   time.Duration `yaml:"scan_timeout" json:"scan_timeout" default:"10s"`
	DeviceTimeout time.Duration `yaml:"device_timeout" json:"device_timeout" default:"30s"`
	OutputFormat  string        `yaml:"output_format" json:"output_format" default:"table"`

	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline"`
	Store    StoreConfig    `yaml:"store" json:"store"`
	Web      WebConfig      `yaml:"web" json:"web"`
	Forward  ForwardConfig  `yaml:"forward" json:"forward"`
}

// PipelineConfig tunes connection handling.
type PipelineConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout" default:"10s"`
	RetryDelay     time.Duration `yaml:"retry_delay" json:"retry_delay" default:"5s"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" json:"reconnect_delay" default:"2s"`
	EventQueueSize int           `yaml:"event_queue_size" json:"event_queue_size" default:"256"`
}

// StoreConfig sizes the sample windows.
type StoreConfig struct {
	ChartCapacity   int  `yaml:"chart_capacity" json:"chart_capacity" default:"30"`
	HistoryCapacity int  `yaml:"history_capacity" json:"history_capacity" default:"100"`
	ExcludeZero     bool `yaml:"exclude_zero" json:"exclude_zero"`
}

// WebConfig configures the HTTP status endpoint.
type WebConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" default:"true"`
	Addr    string `yaml:"addr" json:"addr" default:":5001"`
}

// ForwardConfig configures the optional sample forwarders.
type ForwardConfig struct {
	QueueSize int         `yaml:"queue_size" json:"queue_size" default:"128"`
	MQTT      MQTTConfig  `yaml:"mqtt" json:"mqtt"`
	Redis     RedisConfig `yaml:"redis" json:"redis"`
}

// MQTTConfig configures the MQTT forwarder. An empty ClientID gets a random one.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Broker   string `yaml:"broker" json:"broker" default:"tcp://localhost:1883"`
	Topic    string `yaml:"topic" json:"topic" default:"blehr/heartrate"`
	ClientID string `yaml:"client_id" json:"client_id"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
	QoS      byte   `yaml:"qos" json:"qos"`
	Retained bool   `yaml:"retained" json:"retained"`
}

// RedisConfig configures the Redis Streams forwarder.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Addr     string `yaml:"addr" json:"addr" default:"localhost:6379"`
	Password string `yaml:"password" json:"-"`
	DB       int    `yaml:"db" json:"db"`
	Stream   string `yaml:"stream" json:"stream" default:"blehr:heartrate"`
	MaxLen   int64  `yaml:"max_len" json:"max_len" default:"1000"`
}

var validFormats = []string{"table", "json"}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{LogLevel: logrus.InfoLevel}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	if !contains(validFormats, c.OutputFormat) {
		errs = append(errs, fmt.Errorf("output_format %q is not one of %v", c.OutputFormat, validFormats))
	}
	if c.Backend != "go-ble" && c.Backend != "tinygo" {
		errs = append(errs, fmt.Errorf("backend %q is not one of [go-ble tinygo]", c.Backend))
	}
	if c.Store.ChartCapacity <= 0 || c.Store.HistoryCapacity <= 0 {
		errs = append(errs, errors.New("store capacities must be positive"))
	}
	if c.Pipeline.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("pipeline.connect_timeout must be positive"))
	}
	if c.Pipeline.RetryDelay < 0 || c.Pipeline.ReconnectDelay < 0 {
		errs = append(errs, errors.New("pipeline delays must not be negative"))
	}
	if c.Web.Enabled && c.Web.Addr == "" {
		errs = append(errs, errors.New("web.addr is required when web is enabled"))
	}
	if c.Forward.MQTT.Enabled {
		if c.Forward.MQTT.Broker == "" || c.Forward.MQTT.Topic == "" {
			errs = append(errs, errors.New("forward.mqtt needs broker and topic"))
		}
		if c.Forward.MQTT.QoS > 2 {
			errs = append(errs, fmt.Errorf("forward.mqtt.qos %d is not 0, 1 or 2", c.Forward.MQTT.QoS))
		}
	}
	if c.Forward.Redis.Enabled && (c.Forward.Redis.Addr == "" || c.Forward.Redis.Stream == "") {
		errs = append(errs, errors.New("forward.redis needs addr and stream"))
	}
	return errors.Join(errs...)
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
