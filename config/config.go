package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/go-radiacode/coordinator"
	"github.com/arloliu/go-radiacode/emulator"
	"github.com/arloliu/go-radiacode/logger"
	"github.com/arloliu/go-radiacode/session"
	"github.com/arloliu/go-radiacode/transport"
)

// Defaults applied to fields left empty in the file.
const (
	DefaultDevice      = "usb"
	DefaultMetricsAddr = ":9110"
	DefaultMetricsPath = "/metrics"
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "json"
)

// Config is the daemon configuration file.
type Config struct {
	Device    string          `yaml:"device"`
	Session   SessionConfig   `yaml:"session"`
	Transport TransportConfig `yaml:"transport"`
	Polling   PollingConfig   `yaml:"polling"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
	Emulator  EmulatorConfig  `yaml:"emulator"`
}

// SessionConfig tunes the device session. Zero values keep the session defaults.
type SessionConfig struct {
	ExchangeTimeout time.Duration `yaml:"exchange_timeout"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryInitial    time.Duration `yaml:"retry_initial"`
	RetryMax        time.Duration `yaml:"retry_max"`
	// Channels pins the spectrum channel count; 0 detects it from the first spectrum.
	Channels      *int  `yaml:"channels"`
	FirmwareCheck *bool `yaml:"firmware_check"`
	TimeSync      *bool `yaml:"time_sync"`
}

// TransportConfig tunes the physical link.
type TransportConfig struct {
	DrainTimeout time.Duration `yaml:"drain_timeout"`
	ChunkSize    int           `yaml:"chunk_size"`
}

// PollingConfig tunes the coordinator.
type PollingConfig struct {
	FastInterval     time.Duration `yaml:"fast_interval"`
	SlowInterval     time.Duration `yaml:"slow_interval"`
	QueueTimeout     time.Duration `yaml:"queue_timeout"`
	MaxPending       int           `yaml:"max_pending"`
	SubscriberBuffer int           `yaml:"subscriber_buffer"`
	OpenAttempts     int           `yaml:"open_attempts"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// EmulatorConfig replaces the physical detector with a simulated one.
type EmulatorConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Serial   string  `yaml:"serial"`
	DoseRate float64 `yaml:"dose_rate"`
	Seed     uint64  `yaml:"seed"`
}

// Load reads, defaults and validates the configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return Parse(raw)
}

// Parse decodes, defaults and validates a YAML document.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()

	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Device == "" {
		c.Device = DefaultDevice
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = DefaultMetricsAddr
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
	if c.Emulator.Enabled && c.Emulator.DoseRate == 0 {
		c.Emulator.DoseRate = 0.12
	}
	if c.Emulator.Seed == 0 {
		c.Emulator.Seed = 1
	}
}

func (c *Config) validate() error {
	if _, err := transport.ParseDescriptor(c.Device); err != nil {
		return fmt.Errorf("device: %w", err)
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch logger.Format(c.Log.Format) {
	case logger.FormatJSON, logger.FormatConsole, logger.FormatText:
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	if c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required")
	}
	if c.Metrics.Path == "" || c.Metrics.Path[0] != '/' {
		return fmt.Errorf("metrics.path must start with '/', got %q", c.Metrics.Path)
	}
	if d := c.Transport.DrainTimeout; d != 0 && (d < transport.MinDrainTimeout || d > transport.MaxDrainTimeout) {
		return fmt.Errorf("transport.drain_timeout %v is out of range [%v, %v]",
			d, transport.MinDrainTimeout, transport.MaxDrainTimeout)
	}
	if n := c.Transport.ChunkSize; n != 0 && (n < transport.MinChunkSize || n > transport.MaxChunkSize) {
		return fmt.Errorf("transport.chunk_size %d is out of range [%d, %d]",
			n, transport.MinChunkSize, transport.MaxChunkSize)
	}
	if c.Emulator.DoseRate < 0 {
		return fmt.Errorf("emulator.dose_rate must not be negative")
	}

	// range checks live in the option constructors
	if _, err := session.NewConfig(c.SessionOptions(nil)...); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if err := coordinator.ValidateOptions(c.CoordinatorOptions(nil)...); err != nil {
		return fmt.Errorf("polling: %w", err)
	}

	return nil
}

// Descriptor returns the parsed device descriptor.
func (c *Config) Descriptor() (transport.Descriptor, error) {
	if c.Emulator.Enabled && c.Emulator.Serial != "" {
		return transport.USB(c.Emulator.Serial), nil
	}

	return transport.ParseDescriptor(c.Device)
}

// NewLogger builds the process logger from the log section.
func (c *Config) NewLogger() (logger.Logger, error) {
	level, err := logger.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}

	return logger.NewSlogWriter(os.Stderr, logger.Format(c.Log.Format), level, c.Log.AddSource), nil
}

// NewEmulator returns the simulated detector, or nil when the emulator is disabled.
func (c *Config) NewEmulator() *emulator.Device {
	if !c.Emulator.Enabled {
		return nil
	}

	opts := []emulator.Option{
		emulator.WithSimulation(c.Emulator.DoseRate),
		emulator.WithSeed(c.Emulator.Seed),
	}
	if c.Emulator.Serial != "" {
		opts = append(opts, emulator.WithSerial(c.Emulator.Serial))
	}

	return emulator.New(opts...)
}

// TransportOptions converts the transport section.
func (c *Config) TransportOptions() []transport.Option {
	var opts []transport.Option
	if c.Transport.DrainTimeout != 0 {
		opts = append(opts, transport.WithDrainTimeout(c.Transport.DrainTimeout))
	}
	if c.Transport.ChunkSize != 0 {
		opts = append(opts, transport.WithChunkSize(c.Transport.ChunkSize))
	}

	return opts
}

// SessionOptions converts the session and transport sections. A non-nil l is passed as the
// session logger.
func (c *Config) SessionOptions(l logger.Logger) []session.Option {
	s := c.Session

	var opts []session.Option
	if s.ExchangeTimeout != 0 {
		opts = append(opts, session.WithExchangeTimeout(s.ExchangeTimeout))
	}
	if s.ConnectTimeout != 0 {
		opts = append(opts, session.WithConnectTimeout(s.ConnectTimeout))
	}
	if s.MaxRetries != 0 {
		opts = append(opts, session.WithMaxRetries(s.MaxRetries))
	}
	if s.RetryInitial != 0 || s.RetryMax != 0 {
		initial, maxDelay := s.RetryInitial, s.RetryMax
		if initial == 0 {
			initial = time.Second
		}
		if maxDelay == 0 {
			maxDelay = max(initial, 60*time.Second)
		}
		opts = append(opts, session.WithRetryBackoff(initial, maxDelay))
	}
	if s.Channels != nil {
		opts = append(opts, session.WithChannels(*s.Channels))
	}
	if s.FirmwareCheck != nil {
		opts = append(opts, session.WithFirmwareCheck(*s.FirmwareCheck))
	}
	if s.TimeSync != nil {
		opts = append(opts, session.WithTimeSync(*s.TimeSync))
	}
	if topts := c.TransportOptions(); len(topts) > 0 {
		opts = append(opts, session.WithTransportOptions(topts...))
	}
	if l != nil {
		opts = append(opts, session.WithLogger(l))
	}

	return opts
}

// CoordinatorOptions converts the polling section. A non-nil l is passed as the coordinator
// logger.
func (c *Config) CoordinatorOptions(l logger.Logger) []coordinator.Option {
	p := c.Polling

	var opts []coordinator.Option
	if p.FastInterval != 0 {
		opts = append(opts, coordinator.WithFastInterval(p.FastInterval))
	}
	if p.SlowInterval != 0 {
		opts = append(opts, coordinator.WithSlowInterval(p.SlowInterval))
	}
	if p.QueueTimeout != 0 {
		opts = append(opts, coordinator.WithQueueTimeout(p.QueueTimeout))
	}
	if p.MaxPending != 0 {
		opts = append(opts, coordinator.WithMaxPending(p.MaxPending))
	}
	if p.SubscriberBuffer != 0 {
		opts = append(opts, coordinator.WithSubscriberBuffer(p.SubscriberBuffer))
	}
	if p.OpenAttempts != 0 {
		opts = append(opts, coordinator.WithOpenAttempts(p.OpenAttempts))
	}
	if l != nil {
		opts = append(opts, coordinator.WithLogger(l))
	}

	return opts
}
