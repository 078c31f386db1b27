// Package metrics exposes Prometheus collectors for the ingestion pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tender_watch"

// Decision labels for OfferDecisions.
const (
	DecisionAccept     = "accept"
	DecisionAcceptSoft = "accept_soft"
	DecisionReject     = "reject"
	DecisionRejectAI   = "reject_ai"
	DecisionInvalid    = "invalid"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	SourceRunsTotal    *prometheus.CounterVec
	SourceRunDuration  *prometheus.HistogramVec
	OfferDecisions     *prometheus.CounterVec
	AIOutcomes         *prometheus.CounterVec
	OffersCreatedTotal prometheus.Counter
	OffersPurgedTotal  prometheus.Counter
	LinkSyncChanges    *prometheus.CounterVec
	BatchRunning       prometheus.Gauge
}

// New creates and registers the collectors on reg, or on the default
// registerer when reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		SourceRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_runs_total",
				Help:      "Source executions by final status",
			},
			[]string{"status"},
		),
		SourceRunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "source_run_duration_seconds",
				Help:      "Duration of one source execution in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
			},
			[]string{"status"},
		),
		OfferDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "offer_decisions_total",
				Help:      "Filter decisions for scraped offers",
			},
			[]string{"decision"},
		),
		AIOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ai_outcomes_total",
				Help:      "AI stage outcomes by kind",
			},
			[]string{"kind"},
		),
		OffersCreatedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "offers_created_total",
				Help:      "Offers persisted for the first time",
			},
		),
		OffersPurgedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "offers_purged_total",
				Help:      "Offers deactivated by the expiry sweep",
			},
		),
		LinkSyncChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "link_sync_changes_total",
				Help:      "Sources changed by link reconciliation",
			},
			[]string{"change"},
		),
		BatchRunning: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "batch_running",
				Help:      "1 while a run-all batch is in flight",
			},
		),
	}
}

func (m *Metrics) ObserveSourceRun(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.SourceRunsTotal.WithLabelValues(status).Inc()
	m.SourceRunDuration.WithLabelValues(status).Observe(d.Seconds())
}

func (m *Metrics) ObserveDecision(decision string) {
	if m == nil {
		return
	}
	m.OfferDecisions.WithLabelValues(decision).Inc()
}

func (m *Metrics) ObserveAI(kind string) {
	if m == nil {
		return
	}
	m.AIOutcomes.WithLabelValues(kind).Inc()
}

func (m *Metrics) AddCreated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.OffersCreatedTotal.Add(float64(n))
}

func (m *Metrics) AddPurged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.OffersPurgedTotal.Add(float64(n))
}

// ObserveLinkSync records the created, updated and activated counts of one pass.
func (m *Metrics) ObserveLinkSync(created, updated, activated int) {
	if m == nil {
		return
	}
	m.LinkSyncChanges.WithLabelValues("created").Add(float64(created))
	m.LinkSyncChanges.WithLabelValues("updated").Add(float64(updated))
	m.LinkSyncChanges.WithLabelValues("activated").Add(float64(activated))
}

func (m *Metrics) SetBatchRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.BatchRunning.Set(1)
		return
	}
	m.BatchRunning.Set(0)
}
