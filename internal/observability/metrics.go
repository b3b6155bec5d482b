package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/barc/reactivemover/internal/subsumption"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reactivemover"

// Metrics holds one node's collectors on a private registry, so several nodes
// can live in one process (tests) without colliding on the default registry.
// It implements subsumption.Observer.
type Metrics struct {
	registry *prometheus.Registry

	ticks        prometheus.Counter
	idleTicks    prometheus.Counter
	failures     prometheus.Counter
	runs         *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	suppressions *prometheus.CounterVec
	active       *prometheus.GaugeVec
	scans        *prometheus.CounterVec
	snapshotSeq  prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

var _ subsumption.Observer = (*Metrics)(nil)

func NewMetrics(node string) *Metrics {
	labels := prometheus.Labels{"node": node}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "ticks_total",
			Help: "Arbitration ticks.", ConstLabels: labels,
		}),
		idleTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "idle_ticks_total",
			Help: "Ticks where no behavior could run.", ConstLabels: labels,
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "failures_total",
			Help: "Control loop terminations caused by an error.", ConstLabels: labels,
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "behavior", Name: "runs_total",
			Help: "Behavior Run calls.", ConstLabels: labels,
		}, []string{"behavior", "success"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "behavior", Name: "run_duration_seconds",
			Help:        "Behavior Run duration in seconds.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.00001, 4, 8),
		}, []string{"behavior"}),
		suppressions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "behavior", Name: "suppressions_total",
			Help: "Active behaviors stopped because another behavior won.", ConstLabels: labels,
		}, []string{"behavior"}),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "behavior", Name: "active",
			Help: "1 for the behavior that won the last tick.", ConstLabels: labels,
		}, []string{"behavior"}),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "perception", Name: "scans_total",
			Help: "Scan frames seen by ingestion.", ConstLabels: labels,
		}, []string{"result"}),
		snapshotSeq: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "perception", Name: "snapshot_seq",
			Help: "Sequence number of the last published snapshot.", ConstLabels: labels,
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "Total admin HTTP requests.", ConstLabels: labels,
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:        "Admin HTTP request duration in seconds.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ticks, m.idleTicks, m.failures,
		m.runs, m.runDuration, m.suppressions, m.active,
		m.scans, m.snapshotSeq,
		m.httpRequests, m.httpDuration,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves this node's registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) OnTick(t subsumption.Tick) {
	m.ticks.Inc()
	if t.Idle {
		m.idleTicks.Inc()
	}
}

func (m *Metrics) OnRun(behavior string, d time.Duration, err error) {
	m.runs.WithLabelValues(behavior, strconv.FormatBool(err == nil)).Inc()
	m.runDuration.WithLabelValues(behavior).Observe(d.Seconds())
	m.active.Reset()
	m.active.WithLabelValues(behavior).Set(1)
}

func (m *Metrics) OnSuppress(behavior string) {
	m.suppressions.WithLabelValues(behavior).Inc()
	m.active.WithLabelValues(behavior).Set(0)
}

func (m *Metrics) OnFailure(error) {
	m.failures.Inc()
}

// RecordScan counts one ingested frame and, when accepted, the sequence of
// the snapshot it produced.
func (m *Metrics) RecordScan(accepted bool, seq uint64) {
	if !accepted {
		m.scans.WithLabelValues("rejected").Inc()
		return
	}
	m.scans.WithLabelValues("accepted").Inc()
	m.snapshotSeq.Set(float64(seq))
}

func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	statusLabel := strconv.Itoa(status)
	m.httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	m.httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
