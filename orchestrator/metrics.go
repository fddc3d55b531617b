package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics wires the orchestrator loop's batch/dispatch behavior into
// Prometheus. Namespaced "kafkaorch"; this is the module's only metrics
// sink, since the graph engine itself reports step outcomes through
// emit.Emitter rather than its own Prometheus surface.
type Metrics struct {
	inflightTicks   prometheus.Gauge
	dispatchQueue   prometheus.Gauge
	batchSize       prometheus.Histogram
	commitLatencyMs prometheus.Histogram
	dedupDropped    prometheus.Counter
	errorsRouted    prometheus.Counter
}

// NewMetrics registers the orchestrator's metrics with registry. Pass
// prometheus.DefaultRegisterer for the global registry, or a fresh
// prometheus.NewRegistry() for test isolation.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	f := promauto.With(registry)

	return &Metrics{
		inflightTicks: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "kafkaorch",
			Name:      "inflight_ticks",
			Help:      "Number of super-step ticks currently being processed concurrently",
		}),
		dispatchQueue: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "kafkaorch",
			Name:      "dispatch_queue_depth",
			Help:      "Number of tasks awaiting executor-send acknowledgment",
		}),
		batchSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kafkaorch",
			Name:      "batch_size",
			Help:      "Number of unique messages processed per consumed batch",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
		}),
		commitLatencyMs: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kafkaorch",
			Name:      "batch_commit_latency_ms",
			Help:      "Time from batch poll to consumer offset commit, in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
		}),
		dedupDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "kafkaorch",
			Name:      "dedup_dropped_total",
			Help:      "Messages dropped within a batch for having a byte-identical payload to one already processed",
		}),
		errorsRouted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "kafkaorch",
			Name:      "errors_routed_total",
			Help:      "Messages routed to the error topic after exhausting the retry policy",
		}),
	}
}

func (m *Metrics) recordBatch(uniqueCount int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.batchSize.Observe(float64(uniqueCount))
	m.commitLatencyMs.Observe(float64(elapsed.Milliseconds()))
}

func (m *Metrics) incInflight() {
	if m == nil {
		return
	}
	m.inflightTicks.Inc()
}

func (m *Metrics) decInflight() {
	if m == nil {
		return
	}
	m.inflightTicks.Dec()
}

func (m *Metrics) addDispatchQueue(n int) {
	if m == nil {
		return
	}
	m.dispatchQueue.Add(float64(n))
}

func (m *Metrics) subDispatchQueue(n int) {
	if m == nil {
		return
	}
	m.dispatchQueue.Sub(float64(n))
}

func (m *Metrics) incDedupDropped() {
	if m == nil {
		return
	}
	m.dedupDropped.Inc()
}

func (m *Metrics) incErrorsRouted() {
	if m == nil {
		return
	}
	m.errorsRouted.Inc()
}
