package engine

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/Chichichkin/forgelog/internal/logging"
	"github.com/Chichichkin/forgelog/internal/logging/collector"
)

type Config struct {
	// Endpoint is the collector base URL.
	Endpoint string `mapstructure:"endpoint"`
	// ClientKey identifies the application to the collector and keys the
	// stored device token.
	ClientKey     string        `mapstructure:"client-key"`
	BatchSize     int           `mapstructure:"batch-size"`
	FlushInterval time.Duration `mapstructure:"flush-interval"`
	QueueCapacity int           `mapstructure:"queue-capacity"`
	HTTPTimeout   time.Duration `mapstructure:"http-timeout"`
	Gzip          bool          `mapstructure:"gzip"`
}

func DefaultConfig() Config {
	return Config{
		Endpoint:      collector.DefaultBaseURL,
		BatchSize:     logging.DefaultBatchSize,
		FlushInterval: logging.DefaultFlushInterval,
		QueueCapacity: logging.DefaultQueueCapacity,
		HTTPTimeout:   collector.DefaultTimeout,
	}
}

// Validate returns a *collector.ConfigurationError for the first bad value.
func (c Config) Validate() error {
	invalid := func(name string, value any, msg string) error {
		return errors.WithStack(&collector.ConfigurationError{Name: name, Value: value, Message: msg})
	}
	switch {
	case c.ClientKey == "":
		return invalid("ClientKey", c.ClientKey, "must be non-empty")
	case c.BatchSize <= 0:
		return invalid("BatchSize", c.BatchSize, "must be positive")
	case c.FlushInterval <= 0:
		return invalid("FlushInterval", c.FlushInterval, "must be positive")
	case c.QueueCapacity <= 0:
		return invalid("QueueCapacity", c.QueueCapacity, "must be positive")
	case c.HTTPTimeout < 0:
		return invalid("HTTPTimeout", c.HTTPTimeout, "must not be negative")
	}
	return nil
}

func (c Config) String() string {
	return fmt.Sprintf("endpoint=%s batch-size=%d flush-interval=%s queue-capacity=%d gzip=%t",
		c.Endpoint, c.BatchSize, c.FlushInterval, c.QueueCapacity, c.Gzip)
}

func (c Config) pipelineConfig() logging.Config {
	return logging.Config{
		BatchSize:     c.BatchSize,
		FlushInterval: c.FlushInterval,
		QueueCapacity: c.QueueCapacity,
	}
}
