package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Chichichkin/forgelog/internal/logging"
)

const metricsPrefix = "forgelog_"

// Metrics makes silent data loss visible: evictions, submits after close,
// failed flushes and the size of the retry buffer.
type Metrics struct {
	eventsEvicted *prometheus.CounterVec
	submitClosed  prometheus.Counter
	flushes       *prometheus.CounterVec
	recordsSent   prometheus.Counter
	buffered      prometheus.Gauge
}

// NewMetrics registers the collectors on reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		eventsEvicted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: metricsPrefix + "events_evicted_total",
			Help: "Events dropped from a full queue to admit newer ones",
		}, []string{"kind"}),
		submitClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: metricsPrefix + "submit_closed_total",
			Help: "Events submitted after the pipeline was shut down",
		}),
		flushes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: metricsPrefix + "flushes_total",
			Help: "Batch flush attempts by result",
		}, []string{"result"}),
		recordsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: metricsPrefix + "records_sent_total",
			Help: "Records delivered to the collector",
		}),
		buffered: factory.NewGauge(prometheus.GaugeOpts{
			Name: metricsPrefix + "buffered_records",
			Help: "Records waiting in the worker buffer",
		}),
	}
}

func (m *Metrics) EventEvicted(ev logging.Event) {
	m.eventsEvicted.WithLabelValues(ev.Kind.String()).Inc()
}

func (m *Metrics) SubmitClosed() {
	m.submitClosed.Inc()
}

func (m *Metrics) FlushSucceeded(records int) {
	m.flushes.WithLabelValues("success").Inc()
	m.recordsSent.Add(float64(records))
}

func (m *Metrics) FlushFailed(int, error) {
	m.flushes.WithLabelValues("failure").Inc()
}

func (m *Metrics) BufferChanged(records int) {
	m.buffered.Set(float64(records))
}
