package logging

import (
	"context"
	"time"
)

const (
	DefaultBatchSize     = 100
	DefaultFlushInterval = 10 * time.Second
	DefaultQueueCapacity = 1000
)

type DeviceToken string

// BatchSender ships a batch of records to the collector. Implementations must
// not retain the slice.
type BatchSender interface {
	SendBatch(ctx context.Context, records []LogRecord) error
}

// Producer is the submission side of the pipeline. Log never fails from the
// caller's point of view.
type Producer interface {
	Log(level Level, message string, opts ...RecordOption)
}

type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	QueueCapacity int
}

func DefaultConfig() Config {
	return Config{
		BatchSize:     DefaultBatchSize,
		FlushInterval: DefaultFlushInterval,
		QueueCapacity: DefaultQueueCapacity,
	}
}
