package batch

import (
	"context"
	"iter"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/Chichichkin/forgelog/internal/logging"
)

// Observer receives flush outcomes. It is called from the worker goroutine.
type Observer interface {
	FlushSucceeded(records int)
	FlushFailed(records int, err error)
	BufferChanged(records int)
}

type Option func(*Worker)

func WithClock(c clock.PassiveClock) Option {
	return func(w *Worker) {
		w.clock = c
	}
}

func WithLogger(l *logrus.Entry) Option {
	return func(w *Worker) {
		w.log = l
	}
}

func WithObserver(o Observer) Option {
	return func(w *Worker) {
		w.observer = o
	}
}

// Worker is the single consumer of the pipeline. It buffers records and
// flushes them when the batch is full or the flush deadline has passed. A
// failed flush keeps the buffer and the expired deadline, so the next event of
// any kind retries it.
type Worker struct {
	sender   logging.BatchSender
	config   logging.Config
	clock    clock.PassiveClock
	log      *logrus.Entry
	observer Observer

	// owned by the Run goroutine
	buffer    []logging.LogRecord
	nextFlush time.Time

	buffered atomic.Int64
}

func NewWorker(sender logging.BatchSender, config logging.Config, opts ...Option) *Worker {
	w := &Worker{
		sender: sender,
		config: config,
		clock:  clock.RealClock{},
		log:    logrus.WithField("component", "batch"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.config.BatchSize <= 0 {
		w.config.BatchSize = logging.DefaultBatchSize
	}
	if w.config.FlushInterval <= 0 {
		w.config.FlushInterval = logging.DefaultFlushInterval
	}
	w.nextFlush = w.clock.Now().Add(w.config.FlushInterval)
	return w
}

// Run processes events until the sequence ends, then drains whatever is left
// with one unconditional flush.
func (w *Worker) Run(ctx context.Context, events iter.Seq[logging.Event]) {
	for ev := range events {
		w.Handle(ctx, ev)
	}

	w.log.Debugf("event stream finished, draining %d buffered records", len(w.buffer))
	w.flush(ctx)
}

// Handle processes one event. It must only be called from a single goroutine.
func (w *Worker) Handle(ctx context.Context, ev logging.Event) {
	if ev.Kind == logging.EventLog {
		w.buffer = append(w.buffer, ev.Record)
		w.bufferChanged()
	}

	if len(w.buffer) >= w.config.BatchSize || !w.clock.Now().Before(w.nextFlush) {
		w.flush(ctx)
	}
}

// Buffered reports how many records are waiting to be flushed.
func (w *Worker) Buffered() int {
	return int(w.buffered.Load())
}

func (w *Worker) flush(ctx context.Context) {
	if len(w.buffer) == 0 {
		return
	}

	batch := make([]logging.LogRecord, len(w.buffer))
	copy(batch, w.buffer)

	if err := w.sender.SendBatch(ctx, batch); err != nil {
		w.log.WithError(err).Errorf("failed to flush batch of %d records, keeping them for the next attempt", len(batch))
		if w.observer != nil {
			w.observer.FlushFailed(len(batch), err)
		}
		return
	}

	w.resetBuffer()
	w.nextFlush = w.clock.Now().Add(w.config.FlushInterval)
	w.bufferChanged()
	w.log.Debugf("flushed batch of %d records", len(batch))
	if w.observer != nil {
		w.observer.FlushSucceeded(len(batch))
	}
}

// resetBuffer empties the buffer without pinning flushed records. A backing
// array grown far past BatchSize by a retry backlog is released.
func (w *Worker) resetBuffer() {
	if cap(w.buffer) > 4*w.config.BatchSize {
		w.buffer = nil
		return
	}
	clear(w.buffer)
	w.buffer = w.buffer[:0]
}

func (w *Worker) bufferChanged() {
	w.buffered.Store(int64(len(w.buffer)))
	if w.observer != nil {
		w.observer.BufferChanged(len(w.buffer))
	}
}
