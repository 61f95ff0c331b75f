package session

import (
	"fmt"
	"time"

	"github.com/arloliu/go-radiacode/logger"
	"github.com/arloliu/go-radiacode/spectrum"
	"github.com/arloliu/go-radiacode/transport"
)

// Minimum firmware accepted by the handshake.
const (
	MinFirmwareMajor = 4
	MinFirmwareMinor = 8
)

// Config represents the configuration of a device session.
type Config struct {
	// exchangeTimeout bounds a single request/response exchange. It should be between 100ms and 60s.
	// Defaults to 3 seconds.
	exchangeTimeout time.Duration

	// connectTimeout bounds opening the transport plus the handshake. It should be between 500ms and 2m.
	// Defaults to 10 seconds.
	connectTimeout time.Duration

	// maxRetries is the number of consecutive failed reconnects after which the session gives up.
	// It should be between 1 and 100. Defaults to 5.
	maxRetries int

	// retryInitial and retryMax define the exponential reconnect backoff.
	// Defaults to 1 second and 60 seconds.
	retryInitial time.Duration
	retryMax     time.Duration

	// channels is the expected spectrum channel count. Zero adopts the count of the first
	// spectrum received. Defaults to 1024.
	channels int

	// firmwareCheck rejects devices older than MinFirmwareMajor.MinFirmwareMinor. Defaults to true.
	firmwareCheck bool

	// timeSync sets the device clock during the handshake. Defaults to true.
	timeSync bool

	factory       transport.Factory
	transportOpts []transport.Option
	logger        logger.Logger
}

// NewConfig creates a session configuration with default values and applies opts.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		exchangeTimeout: 3 * time.Second,
		connectTimeout:  10 * time.Second,
		maxRetries:      5,
		retryInitial:    time.Second,
		retryMax:        60 * time.Second,
		channels:        spectrum.DefaultChannels,
		firmwareCheck:   true,
		timeSync:        true,
		factory:         transport.New,
		logger:          logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

func (cfg *Config) ExchangeTimeout() time.Duration { return cfg.exchangeTimeout }

func (cfg *Config) ConnectTimeout() time.Duration { return cfg.connectTimeout }

func (cfg *Config) MaxRetries() int { return cfg.maxRetries }

// RetryBackoff returns the initial and maximum reconnect delays.
func (cfg *Config) RetryBackoff() (initial, maxDelay time.Duration) {
	return cfg.retryInitial, cfg.retryMax
}

func (cfg *Config) Channels() int { return cfg.channels }

func (cfg *Config) FirmwareCheck() bool { return cfg.firmwareCheck }

func (cfg *Config) TimeSync() bool { return cfg.timeSync }

func (cfg *Config) Logger() logger.Logger { return cfg.logger }

// Option represents a functional option for configuring a session.
type Option interface {
	apply(*Config) error
}

type optFunc struct {
	name      string
	applyFunc func(*Config) error
}

func (o *optFunc) apply(cfg *Config) error {
	if cfg == nil {
		return ErrConfigNil
	}

	return o.applyFunc(cfg)
}

func newOptFunc(name string, f func(*Config) error) *optFunc {
	return &optFunc{name: name, applyFunc: f}
}

func durationInRange(name string, val, minVal, maxVal time.Duration) error {
	if val < minVal || val > maxVal {
		return fmt.Errorf("%w: %s %v is out of range [%v, %v]", ErrInvalidArgument, name, val, minVal, maxVal)
	}

	return nil
}

// WithExchangeTimeout sets the timeout of a single exchange. It should be between 100ms and 60s.
func WithExchangeTimeout(val time.Duration) Option {
	return newOptFunc("WithExchangeTimeout", func(cfg *Config) error {
		if err := durationInRange("exchange timeout", val, 100*time.Millisecond, 60*time.Second); err != nil {
			return err
		}
		cfg.exchangeTimeout = val

		return nil
	})
}

// WithConnectTimeout sets the timeout of opening the link and the handshake. It should be between 500ms and 2m.
func WithConnectTimeout(val time.Duration) Option {
	return newOptFunc("WithConnectTimeout", func(cfg *Config) error {
		if err := durationInRange("connect timeout", val, 500*time.Millisecond, 2*time.Minute); err != nil {
			return err
		}
		cfg.connectTimeout = val

		return nil
	})
}

// WithMaxRetries sets the number of consecutive failed reconnects tolerated. It should be between 1 and 100.
func WithMaxRetries(val int) Option {
	return newOptFunc("WithMaxRetries", func(cfg *Config) error {
		if val < 1 || val > 100 {
			return fmt.Errorf("%w: max retries %d is out of range [1, 100]", ErrInvalidArgument, val)
		}
		cfg.maxRetries = val

		return nil
	})
}

// WithRetryBackoff sets the initial and maximum reconnect delay. The delay doubles after
// every failed attempt.
func WithRetryBackoff(initial, maxDelay time.Duration) Option {
	return newOptFunc("WithRetryBackoff", func(cfg *Config) error {
		if err := durationInRange("initial retry delay", initial, time.Millisecond, 10*time.Minute); err != nil {
			return err
		}
		if maxDelay < initial {
			return fmt.Errorf("%w: max retry delay %v is below initial delay %v", ErrInvalidArgument, maxDelay, initial)
		}
		cfg.retryInitial, cfg.retryMax = initial, maxDelay

		return nil
	})
}

// WithChannels sets the expected spectrum channel count. Zero adopts the first count received.
func WithChannels(n int) Option {
	return newOptFunc("WithChannels", func(cfg *Config) error {
		if n < 0 || n > 1<<16 {
			return fmt.Errorf("%w: channel count %d is out of range [0, 65536]", ErrInvalidArgument, n)
		}
		cfg.channels = n

		return nil
	})
}

// WithFirmwareCheck enables or disables the minimum firmware check of the handshake.
func WithFirmwareCheck(enabled bool) Option {
	return newOptFunc("WithFirmwareCheck", func(cfg *Config) error {
		cfg.firmwareCheck = enabled
		return nil
	})
}

// WithTimeSync enables or disables setting the device clock during the handshake.
func WithTimeSync(enabled bool) Option {
	return newOptFunc("WithTimeSync", func(cfg *Config) error {
		cfg.timeSync = enabled
		return nil
	})
}

// WithLogger sets the logger of the session.
func WithLogger(l logger.Logger) Option {
	return newOptFunc("WithLogger", func(cfg *Config) error {
		if l == nil {
			return fmt.Errorf("%w: nil logger", ErrInvalidArgument)
		}
		cfg.logger = l

		return nil
	})
}

// WithTransportFactory sets the function creating the transport on every open.
// Defaults to transport.New.
func WithTransportFactory(f transport.Factory) Option {
	return newOptFunc("WithTransportFactory", func(cfg *Config) error {
		if f == nil {
			return fmt.Errorf("%w: nil transport factory", ErrInvalidArgument)
		}
		cfg.factory = f

		return nil
	})
}

// WithTransportOptions appends options passed to the transport factory.
func WithTransportOptions(opts ...transport.Option) Option {
	return newOptFunc("WithTransportOptions", func(cfg *Config) error {
		cfg.transportOpts = append(cfg.transportOpts, opts...)
		return nil
	})
}
