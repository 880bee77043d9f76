// Package metrics exposes loading service counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
)

const namespace = "zooma"

// Receipt outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// PoolStats is the view of a worker pool the gauges read.
type PoolStats interface {
	Name() string
	Size() int
	Running() int
}

// Metrics holds the collectors of one loading service on a private
// registry.
type Metrics struct {
	registry *prometheus.Registry

	BlocksScheduled   *prometheus.CounterVec
	BlocksFailed      *prometheus.CounterVec
	AnnotationsLoaded *prometheus.CounterVec
	ReadRetries       *prometheus.CounterVec
	Receipts          *prometheus.CounterVec
	BlockDuration     *prometheus.HistogramVec
}

// New creates the collectors and registers them, with the Go runtime and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		BlocksScheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loading",
			Name:      "blocks_scheduled_total",
			Help:      "Blocks handed to the block pool, by datasource.",
		}, []string{"datasource"}),
		BlocksFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loading",
			Name:      "blocks_failed_total",
			Help:      "Blocks whose read or load failed, by datasource.",
		}, []string{"datasource"}),
		AnnotationsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loading",
			Name:      "annotations_read_total",
			Help:      "Annotations read and passed to the loader, by datasource.",
		}, []string{"datasource"}),
		ReadRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loading",
			Name:      "read_retries_total",
			Help:      "Transient datasource read failures that were retried.",
		}, []string{"datasource"}),
		Receipts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loading",
			Name:      "receipts_total",
			Help:      "Completed receipts by load type and outcome.",
		}, []string{"load_type", "outcome"}),
		BlockDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "loading",
			Name:      "block_duration_seconds",
			Help:      "Time to read and load one block.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"datasource"}),
	}

	m.registry.MustRegister(
		m.BlocksScheduled,
		m.BlocksFailed,
		m.AnnotationsLoaded,
		m.ReadRetries,
		m.Receipts,
		m.BlockDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// WatchPool adds gauges reporting the size and busy workers of p.
func (m *Metrics) WatchPool(p PoolStats) error {
	labels := prometheus.Labels{"pool": p.Name()}
	size := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "pool",
		Name:        "size",
		Help:        "Maximum concurrent tasks of the pool.",
		ConstLabels: labels,
	}, func() float64 { return float64(p.Size()) })
	running := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "pool",
		Name:        "running",
		Help:        "Tasks currently holding a pool slot.",
		ConstLabels: labels,
	}, func() float64 { return float64(p.Running()) })

	for _, c := range []prometheus.Collector{size, running} {
		if err := m.registry.Register(c); err != nil {
			return eris.Wrapf(err, "metrics: watch pool %s", p.Name())
		}
	}
	return nil
}

// ObserveReceipt counts one completed receipt.
func (m *Metrics) ObserveReceipt(loadType string, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	m.Receipts.WithLabelValues(loadType, outcome).Inc()
}
