// Package metrics instruments the extraction pipeline and the save path.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "invoice_dispatch"

type Metrics struct {
	uploads          *prometheus.CounterVec
	rasterizations   *prometheus.CounterVec
	fallbacks        prometheus.Counter
	extractions      *prometheus.CounterVec
	extractLatency   *prometheus.HistogramVec
	parses           *prometheus.CounterVec
	saves            *prometheus.CounterVec
	followUpFailures *prometheus.CounterVec
	stockJobs        *prometheus.CounterVec
}

// New registers the pipeline collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		uploads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "uploads_total",
			Help: "Documents accepted for extraction, by detected format.",
		}, []string{"format"}),
		rasterizations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rasterizations_total",
			Help: "Rasterization attempts by outcome.",
		}, []string{"outcome"}),
		fallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "fallback_extractions_total",
			Help: "Extractions sent with the raw document after rasterization failed.",
		}),
		extractions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "extractions_total",
			Help: "Model calls by attachment source and outcome.",
		}, []string{"source", "outcome"}),
		extractLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "extraction_duration_seconds",
			Help:    "Latency of model calls.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60, 120},
		}, []string{"source"}),
		parses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "parses_total",
			Help: "Response parse attempts by outcome.",
		}, []string{"outcome"}),
		saves: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "saves_total",
			Help: "Dispatch save attempts by outcome.",
		}, []string{"outcome"}),
		followUpFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "followup_failures_total",
			Help: "Best-effort stock or counter updates that failed after an entry was saved.",
		}, []string{"step"}),
		stockJobs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "stock_recompute_jobs_total",
			Help: "Stock recomputation jobs by outcome.",
		}, []string{"outcome"}),
	}
}

func outcome(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}

func (m *Metrics) Upload(format string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(format).Inc()
}

func (m *Metrics) Rasterized(err error) {
	if m == nil {
		return
	}
	m.rasterizations.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) Fallback() {
	if m == nil {
		return
	}
	m.fallbacks.Inc()
}

func (m *Metrics) Extracted(source string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.extractions.WithLabelValues(source, outcome(err)).Inc()
	m.extractLatency.WithLabelValues(source).Observe(elapsed.Seconds())
}

func (m *Metrics) Parsed(err error) {
	if m == nil {
		return
	}
	m.parses.WithLabelValues(outcome(err)).Inc()
}

// Save outcomes: saved, duplicate, invalid, failed.
func (m *Metrics) Save(outcome string) {
	if m == nil {
		return
	}
	m.saves.WithLabelValues(outcome).Inc()
}

// FollowUpFailed records a failed stock or counter step.
func (m *Metrics) FollowUpFailed(step string) {
	if m == nil {
		return
	}
	m.followUpFailures.WithLabelValues(step).Inc()
}

func (m *Metrics) StockJob(err error) {
	if m == nil {
		return
	}
	m.stockJobs.WithLabelValues(outcome(err)).Inc()
}
