package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "jobqueue"

// Claim outcome labels.
const (
	OutcomeClaimed     = "claimed"
	OutcomeEmpty       = "empty"
	OutcomeDecode      = "decode_error"
	OutcomeTransaction = "transaction_error"
	OutcomeConnection  = "connection_error"
)

// Metrics groups the queue collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	JobsEnqueued     prometheus.Counter
	JobsClaimed      prometheus.Counter
	JobsFailed       prometheus.Counter
	JobsRejected     prometheus.Counter
	ClaimsTotal      *prometheus.CounterVec
	ConversionErrors prometheus.Counter
	ClaimDuration    prometheus.Histogram
	HandlerDuration  *prometheus.HistogramVec
	JobsByStatus     *prometheus.GaugeVec
	WakeupsReceived  prometheus.Counter
}

// New registers every collector plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		JobsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_enqueued_total",
			Help:      "Jobs inserted by producers.",
		}),
		JobsClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_claimed_total",
			Help:      "Jobs moved from Queued to Running by a claim.",
		}),
		JobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Jobs moved from Running to Failed by a failure report.",
		}),
		JobsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_rejected_total",
			Help:      "Undecodable jobs moved from Queued to Failed.",
		}),
		ClaimsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "Claim attempts by outcome.",
		}, []string{"outcome"}),
		ConversionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversion_errors_total",
			Help:      "Claimed jobs whose id does not fit the identifier space.",
		}),
		ClaimDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "claim_duration_seconds",
			Help:      "Latency of the claim transaction.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		HandlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_duration_seconds",
			Help:      "Handler run time by payload kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		JobsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs",
			Help:      "Jobs currently stored, by status.",
		}, []string{"status"}),
		WakeupsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wakeups_received_total",
			Help:      "Wake-up notifications received by the worker.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.JobsEnqueued,
		m.JobsClaimed,
		m.JobsFailed,
		m.JobsRejected,
		m.ClaimsTotal,
		m.ConversionErrors,
		m.ClaimDuration,
		m.HandlerDuration,
		m.JobsByStatus,
		m.WakeupsReceived,
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SetStatusCounts replaces the jobs gauge with counts.
func (m *Metrics) SetStatusCounts(counts map[string]int) {
	for status, n := range counts {
		m.JobsByStatus.WithLabelValues(status).Set(float64(n))
	}
}
