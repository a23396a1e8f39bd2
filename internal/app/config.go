package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"courier/internal/domain"
)

// Job backends.
const (
	JobsMemory = "memory"
	JobsAMQP   = "amqp"
)

// Config holds runtime wiring options for building the app.
type Config struct {
	Home      string          // data directory, e.g. $HOME/.courier
	RelayURL  string          // relay base URL, e.g. http://127.0.0.1:8080
	StreamURL string          // websocket URL; derived from RelayURL when empty
	Username  domain.Username // local account
	Device    domain.DeviceID

	LogLevel  string
	LogFormat string // text | json

	WaitTimeout time.Duration
	ReadTimeout time.Duration
	MaxBackoff  time.Duration

	RetryTimeout  time.Duration // pending receipt lifetime before it becomes an error
	RetryDebounce time.Duration

	MessageRetries bool // advertise and use retry receipts

	PreKeyMinimum int
	PreKeyBatch   int

	ReceiptEvery time.Duration // per-sender retry receipt rate
	ReceiptBurst int

	Jobs         string // memory | amqp
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	MetricsAddr string
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	return Config{
		RelayURL:       "http://127.0.0.1:8080",
		Device:         1,
		LogLevel:       "info",
		LogFormat:      "text",
		WaitTimeout:    60 * time.Second,
		ReadTimeout:    time.Minute,
		MaxBackoff:     30 * time.Second,
		RetryTimeout:   24 * time.Hour,
		RetryDebounce:  time.Second,
		MessageRetries: true,
		PreKeyMinimum:  10,
		PreKeyBatch:    100,
		ReceiptEvery:   time.Minute,
		ReceiptBurst:   5,
		Jobs:           JobsMemory,
		AMQPExchange:   "courier.jobs",
		AMQPQueue:      "courier.jobs",
	}
}

// FileConfig is the YAML layout. Unset fields keep their defaults.
type FileConfig struct {
	Home      string `yaml:"home"`
	RelayURL  string `yaml:"relayURL"`
	StreamURL string `yaml:"streamURL"`
	Username  string `yaml:"username"`
	Device    uint32 `yaml:"device"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Observer struct {
		WaitTimeout time.Duration `yaml:"waitTimeout"`
		ReadTimeout time.Duration `yaml:"readTimeout"`
		MaxBackoff  time.Duration `yaml:"maxBackoff"`
	} `yaml:"observer"`

	Retry struct {
		Timeout      time.Duration `yaml:"timeout"`
		Debounce     time.Duration `yaml:"debounce"`
		ReceiptEvery time.Duration `yaml:"receiptEvery"`
		ReceiptBurst int           `yaml:"receiptBurst"`
	} `yaml:"retry"`

	Features struct {
		MessageRetries *bool `yaml:"messageRetries"`
	} `yaml:"features"`

	PreKeys struct {
		Minimum int `yaml:"minimum"`
		Batch   int `yaml:"batch"`
	} `yaml:"prekeys"`

	Jobs struct {
		Backend  string `yaml:"backend"`
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
		Queue    string `yaml:"queue"`
	} `yaml:"jobs"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
}

// LoadFromPath returns defaults merged with the YAML file at path and then
// with COURIER_* environment variables. An empty path tries config.yaml in
// home. A missing file is not an error; a malformed one is.
func LoadFromPath(path, home string) (Config, error) {
	cfg := DefaultConfig()
	cfg.Home = home

	if path == "" && home != "" {
		path = filepath.Join(home, "config.yaml")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			var parsed FileConfig
			if err := yaml.Unmarshal(data, &parsed); err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", path, err)
			}
			Merge(&cfg, parsed)
		case !os.IsNotExist(err):
			return Config{}, fmt.Errorf("read %s: %w", path, err)
		}
	}

	ApplyEnvOverrides(&cfg)
	return cfg, nil
}

// Merge copies every set field of src into dst.
func Merge(dst *Config, src FileConfig) {
	if src.Home != "" {
		dst.Home = src.Home
	}
	if src.RelayURL != "" {
		dst.RelayURL = src.RelayURL
	}
	if src.StreamURL != "" {
		dst.StreamURL = src.StreamURL
	}
	if src.Username != "" {
		dst.Username = domain.Username(src.Username)
	}
	if src.Device != 0 {
		dst.Device = domain.DeviceID(src.Device)
	}
	if src.Log.Level != "" {
		dst.LogLevel = src.Log.Level
	}
	if src.Log.Format != "" {
		dst.LogFormat = src.Log.Format
	}
	if src.Observer.WaitTimeout != 0 {
		dst.WaitTimeout = src.Observer.WaitTimeout
	}
	if src.Observer.ReadTimeout != 0 {
		dst.ReadTimeout = src.Observer.ReadTimeout
	}
	if src.Observer.MaxBackoff != 0 {
		dst.MaxBackoff = src.Observer.MaxBackoff
	}
	if src.Retry.Timeout != 0 {
		dst.RetryTimeout = src.Retry.Timeout
	}
	if src.Retry.Debounce != 0 {
		dst.RetryDebounce = src.Retry.Debounce
	}
	if src.Retry.ReceiptEvery != 0 {
		dst.ReceiptEvery = src.Retry.ReceiptEvery
	}
	if src.Retry.ReceiptBurst != 0 {
		dst.ReceiptBurst = src.Retry.ReceiptBurst
	}
	if src.Features.MessageRetries != nil {
		dst.MessageRetries = *src.Features.MessageRetries
	}
	if src.PreKeys.Minimum != 0 {
		dst.PreKeyMinimum = src.PreKeys.Minimum
	}
	if src.PreKeys.Batch != 0 {
		dst.PreKeyBatch = src.PreKeys.Batch
	}
	if src.Jobs.Backend != "" {
		dst.Jobs = src.Jobs.Backend
	}
	if src.Jobs.URL != "" {
		dst.AMQPURL = src.Jobs.URL
	}
	if src.Jobs.Exchange != "" {
		dst.AMQPExchange = src.Jobs.Exchange
	}
	if src.Jobs.Queue != "" {
		dst.AMQPQueue = src.Jobs.Queue
	}
	if src.Metrics.Addr != "" {
		dst.MetricsAddr = src.Metrics.Addr
	}
}

// ApplyEnvOverrides applies COURIER_* variables. Malformed values are
// ignored.
func ApplyEnvOverrides(cfg *Config) {
	if v := env("COURIER_HOME"); v != "" {
		cfg.Home = v
	}
	if v := env("COURIER_RELAY_URL"); v != "" {
		cfg.RelayURL = v
	}
	if v := env("COURIER_STREAM_URL"); v != "" {
		cfg.StreamURL = v
	}
	if v := env("COURIER_USERNAME"); v != "" {
		cfg.Username = domain.Username(v)
	}
	if v := env("COURIER_DEVICE"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil && n > 0 {
			cfg.Device = domain.DeviceID(n)
		}
	}
	if v := env("COURIER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := env("COURIER_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := env("COURIER_MESSAGE_RETRIES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MessageRetries = b
		}
	}
	if v := env("COURIER_RETRY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.RetryTimeout = d
		}
	}
	if v := env("COURIER_JOBS"); v != "" {
		cfg.Jobs = v
	}
	if v := env("COURIER_AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if v := env("COURIER_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
}

// Validate reports settings the client cannot run with.
func (c Config) Validate() error {
	if c.Home == "" {
		return fmt.Errorf("config: home directory required")
	}
	switch c.Jobs {
	case JobsMemory:
	case JobsAMQP:
		if c.AMQPURL == "" {
			return fmt.Errorf("config: amqp job backend needs a url")
		}
	default:
		return fmt.Errorf("config: unknown job backend %q", c.Jobs)
	}
	return nil
}

// StreamEndpoint returns the websocket URL, deriving it from the relay URL
// when none is configured.
func (c Config) StreamEndpoint() string {
	if c.StreamURL != "" {
		return c.StreamURL
	}
	u := strings.TrimRight(c.RelayURL, "/") + "/v1/stream"
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

func env(key string) string { return strings.TrimSpace(os.Getenv(key)) }
