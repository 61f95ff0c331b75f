package coordinator

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-radiacode/logger"
)

// ErrInvalidOption is returned by options given an out-of-range value.
var ErrInvalidOption = errors.New("coordinator: invalid option")

type config struct {
	// fastInterval is the real-time data cadence. Defaults to 5 seconds.
	fastInterval time.Duration
	// slowInterval is the spectrum cadence. Defaults to 60 seconds.
	slowInterval time.Duration
	// queueTimeout bounds how long a caller waits for its command. Defaults to 10 seconds.
	queueTimeout time.Duration
	// maxPending limits the number of queued commands. Defaults to 64.
	maxPending int
	// subscriberBuffer is the channel capacity of each subscriber. Defaults to 16.
	subscriberBuffer int
	// openAttempts is the number of attempts of the initial open. Defaults to the session's max retries.
	openAttempts int

	logger logger.Logger
}

func defaultConfig() config {
	return config{
		fastInterval:     5 * time.Second,
		slowInterval:     60 * time.Second,
		queueTimeout:     10 * time.Second,
		maxPending:       64,
		subscriberBuffer: 16,
	}
}

// Option represents a functional option for configuring a Coordinator.
type Option interface {
	apply(*config) error
}

type optFunc func(*config) error

func (f optFunc) apply(cfg *config) error { return f(cfg) }

func durationInRange(name string, val, minVal, maxVal time.Duration) error {
	if val < minVal || val > maxVal {
		return fmt.Errorf("%w: %s %v is out of range [%v, %v]", ErrInvalidOption, name, val, minVal, maxVal)
	}

	return nil
}

// WithFastInterval sets the real-time data polling interval. It should be between 100ms and 1h.
func WithFastInterval(d time.Duration) Option {
	return optFunc(func(cfg *config) error {
		if err := durationInRange("fast interval", d, 100*time.Millisecond, time.Hour); err != nil {
			return err
		}
		cfg.fastInterval = d

		return nil
	})
}

// WithSlowInterval sets the spectrum polling interval. It should be between 100ms and 24h.
func WithSlowInterval(d time.Duration) Option {
	return optFunc(func(cfg *config) error {
		if err := durationInRange("slow interval", d, 100*time.Millisecond, 24*time.Hour); err != nil {
			return err
		}
		cfg.slowInterval = d

		return nil
	})
}

// WithQueueTimeout sets how long a command caller waits for the reply. It should be between 100ms and 10m.
func WithQueueTimeout(d time.Duration) Option {
	return optFunc(func(cfg *config) error {
		if err := durationInRange("queue timeout", d, 100*time.Millisecond, 10*time.Minute); err != nil {
			return err
		}
		cfg.queueTimeout = d

		return nil
	})
}

// WithMaxPending sets the maximum number of queued commands. It should be between 1 and 4096.
func WithMaxPending(n int) Option {
	return optFunc(func(cfg *config) error {
		if n < 1 || n > 4096 {
			return fmt.Errorf("%w: max pending %d is out of range [1, 4096]", ErrInvalidOption, n)
		}
		cfg.maxPending = n

		return nil
	})
}

// WithSubscriberBuffer sets the channel capacity of subscribers. It should be between 1 and 4096.
func WithSubscriberBuffer(n int) Option {
	return optFunc(func(cfg *config) error {
		if n < 1 || n > 4096 {
			return fmt.Errorf("%w: subscriber buffer %d is out of range [1, 4096]", ErrInvalidOption, n)
		}
		cfg.subscriberBuffer = n

		return nil
	})
}

// WithOpenAttempts sets the number of attempts of the initial open, spaced by the session's
// retry backoff. It should be between 1 and 100.
func WithOpenAttempts(n int) Option {
	return optFunc(func(cfg *config) error {
		if n < 1 || n > 100 {
			return fmt.Errorf("%w: open attempts %d is out of range [1, 100]", ErrInvalidOption, n)
		}
		cfg.openAttempts = n

		return nil
	})
}

// WithLogger sets the logger. Defaults to the session logger.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *config) error {
		if l == nil {
			return fmt.Errorf("%w: nil logger", ErrInvalidOption)
		}
		cfg.logger = l

		return nil
	})
}

// ValidateOptions applies opts to a default configuration and reports the first error.
func ValidateOptions(opts ...Option) error {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt.apply(&cfg); err != nil {
			return err
		}
	}

	return nil
}
