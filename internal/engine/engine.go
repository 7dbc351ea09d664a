package engine

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/Chichichkin/forgelog/internal/device"
	"github.com/Chichichkin/forgelog/internal/logging"
	"github.com/Chichichkin/forgelog/internal/logging/batch"
	"github.com/Chichichkin/forgelog/internal/logging/channel"
	"github.com/Chichichkin/forgelog/internal/logging/collector"
	"github.com/Chichichkin/forgelog/internal/securestore"
	"github.com/Chichichkin/forgelog/internal/tokencache"
)

type options struct {
	store      securestore.Store
	clock      clock.WithTicker
	log        *logrus.Entry
	registerer prometheus.Registerer
	httpClient *http.Client
	device     *device.Context
	sender     logging.BatchSender
}

type Option func(*options)

// WithStore sets where the device token is persisted. Defaults to an
// in-memory store.
func WithStore(s securestore.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

func WithClock(c clock.WithTicker) Option {
	return func(o *options) {
		o.clock = c
	}
}

func WithLogger(l *logrus.Entry) Option {
	return func(o *options) {
		o.log = l
	}
}

func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = r
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

func WithDevice(d device.Context) Option {
	return func(o *options) {
		o.device = &d
	}
}

// WithBatchSender replaces the collector client as the destination of
// batches. Registration still goes through the collector.
func WithBatchSender(s logging.BatchSender) Option {
	return func(o *options) {
		o.sender = s
	}
}

// Engine wires the pipeline together: producers call Log, a single worker
// goroutine registers the device and then consumes the channel, and a ticker
// keeps time-based flushing going while producers are idle.
type Engine struct {
	config  Config
	clock   clock.WithTicker
	log     *logrus.Entry
	channel *channel.Channel
	tokens  *tokencache.Cache
	client  *collector.Client
	worker  *batch.Worker
	ticker  *Ticker
	metrics *Metrics

	shutdownOnce sync.Once
	doneC        chan struct{}
}

func New(config Config, opts ...Option) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	o := options{
		store: securestore.NewMemory(),
		clock: clock.RealClock{},
		log:   logrus.WithField("component", "engine"),
	}
	for _, opt := range opts {
		opt(&o)
	}

	tokens := tokencache.New(o.store, config.ClientKey, o.log.WithField("component", "tokencache"))

	clientOpts := []collector.Option{
		collector.WithGzip(config.Gzip),
		collector.WithLogger(o.log.WithField("component", "collector")),
	}
	if o.httpClient != nil {
		clientOpts = append(clientOpts, collector.WithHTTPClient(o.httpClient))
	} else if config.HTTPTimeout > 0 {
		clientOpts = append(clientOpts, collector.WithTimeout(config.HTTPTimeout))
	}
	if o.device != nil {
		clientOpts = append(clientOpts, collector.WithDevice(*o.device))
	}
	client, err := collector.NewClient(config.Endpoint, tokens, clientOpts...)
	if err != nil {
		return nil, err
	}

	sender := o.sender
	if sender == nil {
		sender = client
	}

	metrics := NewMetrics(o.registerer)
	e := &Engine{
		config:  config,
		clock:   o.clock,
		log:     o.log,
		tokens:  tokens,
		client:  client,
		metrics: metrics,
		doneC:   make(chan struct{}),
	}
	e.channel = channel.New(config.QueueCapacity, channel.WithEvictHook(metrics.EventEvicted))
	e.worker = batch.NewWorker(sender, config.pipelineConfig(),
		batch.WithClock(o.clock),
		batch.WithObserver(metrics),
		batch.WithLogger(o.log.WithField("component", "batch")),
	)

	e.ticker = StartTicker(o.clock, config.FlushInterval, e.submit)
	go e.run()

	e.log.Infof("log pipeline started: %s", config)
	return e, nil
}

func (e *Engine) run() {
	defer close(e.doneC)

	// In-flight requests are never cancelled, shutdown waits for the drain.
	ctx := context.Background()
	e.client.RegisterDevice(ctx, e.config.ClientKey)
	e.worker.Run(ctx, e.channel.Consume())

	e.log.Info("log pipeline drained")
}

// Log builds a record and queues it. It never blocks on the network and never
// reports failure; overflow and shutdown drops are logged and counted.
func (e *Engine) Log(level logging.Level, message string, opts ...logging.RecordOption) {
	pc, _, _, _ := runtime.Caller(1)
	e.logAt(pc, level, message, opts)
}

// LogError logs err at error level with its type and description in the
// record context.
func (e *Engine) LogError(err error, message string, opts ...logging.RecordOption) {
	pc, _, _, _ := runtime.Caller(1)
	if err != nil {
		opts = append(opts,
			logging.WithField("error_type", fmt.Sprintf("%T", errors.Cause(err))),
			logging.WithField("error_description", err.Error()),
		)
	}
	if message == "" && err != nil {
		message = err.Error()
	}
	e.logAt(pc, logging.LevelError, message, opts)
}

func (e *Engine) logAt(pc uintptr, level logging.Level, message string, opts []logging.RecordOption) {
	opts = append(opts, callerFields(pc)...)
	e.submit(logging.LogEvent(logging.NewLogRecord(level, message, e.clock.Now(), opts...)))
}

func (e *Engine) submit(ev logging.Event) {
	res := e.channel.Submit(ev)
	switch res.Status {
	case channel.EvictedOlder:
		if res.Evicted.Kind == logging.EventLog {
			e.log.Warnf("dropped log event because the queue is full: %q", res.Evicted.Record.Message)
		} else {
			e.log.Debug("dropped tick event because the queue is full")
		}
	case channel.Closed:
		e.metrics.SubmitClosed()
		e.log.Warnf("dropped %s event, pipeline is shut down", ev.Kind)
	}
}

// Shutdown stops the ticker and closes the channel without waiting for the
// worker. The returned channel is closed once the final drain flush is done.
func (e *Engine) Shutdown() <-chan struct{} {
	e.shutdownOnce.Do(func() {
		e.ticker.Stop()
		e.channel.Close()
	})
	return e.doneC
}

// Wait blocks until the worker has drained or ctx is done.
func (e *Engine) Wait(ctx context.Context) error {
	select {
	case <-e.doneC:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) Done() <-chan struct{} {
	return e.doneC
}

func (e *Engine) Buffered() int {
	return e.worker.Buffered()
}

func (e *Engine) QueueLen() int {
	return e.channel.Len()
}

func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// Token returns the cached device token, if registration has produced one.
func (e *Engine) Token(ctx context.Context) (string, bool) {
	return e.tokens.Read(ctx)
}

func callerFields(pc uintptr) []logging.RecordOption {
	if pc == 0 {
		return nil
	}
	frame, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	return []logging.RecordOption{
		logging.WithField("file", frame.File),
		logging.WithField("function", frame.Function),
		logging.WithField("line", frame.Line),
	}
}
