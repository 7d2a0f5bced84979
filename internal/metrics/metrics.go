package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	LedgerOpBalance = "balance"
	LedgerOpDebit   = "debit"
	LedgerOpCredit  = "credit"
)

// Metrics holds Prometheus metrics for the booking saga.
type Metrics struct {
	BookingAdmissions  *prometheus.CounterVec
	FinalizerOutcomes  *prometheus.CounterVec
	Compensations      *prometheus.CounterVec
	LedgerCallDuration *prometheus.HistogramVec
	SweepRedriven      prometheus.Counter
	gatherer           prometheus.Gatherer
}

// NewDefault registers metrics with the default Prometheus registry.
func NewDefault() *Metrics {
	return newMetrics(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// New registers metrics with the provided registry. If registry is nil, a new
// isolated registry is created.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return newMetrics(registry, registry)
}

func newMetrics(registerer prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		BookingAdmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_admissions_total",
			Help: "Booking requests by admission outcome.",
		}, []string{"outcome"}),
		FinalizerOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_finalizer_outcomes_total",
			Help: "Finalizer runs by resulting outcome.",
		}, []string{"outcome"}),
		Compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_compensations_total",
			Help: "Compensations by reason and refund result.",
		}, []string{"reason", "result"}),
		LedgerCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "account_ledger_call_duration_seconds",
			Help:    "Account ledger call latency by operation and result.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "result"}),
		SweepRedriven: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "booking_sweep_redriven_total",
			Help: "Finalizations re-driven by the recovery sweep.",
		}),
		gatherer: gatherer,
	}

	registerer.MustRegister(
		m.BookingAdmissions,
		m.FinalizerOutcomes,
		m.Compensations,
		m.LedgerCallDuration,
		m.SweepRedriven,
	)
	return m
}

func (m *Metrics) ObserveAdmission(outcome string) {
	if m == nil {
		return
	}
	m.BookingAdmissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveFinalizer(outcome string) {
	if m == nil {
		return
	}
	m.FinalizerOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveCompensation(reason, result string) {
	if m == nil {
		return
	}
	m.Compensations.WithLabelValues(reason, result).Inc()
}

func (m *Metrics) ObserveLedgerCall(operation string, started time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.LedgerCallDuration.WithLabelValues(operation, result).Observe(time.Since(started).Seconds())
}

func (m *Metrics) ObserveRedriven(n int) {
	if m == nil {
		return
	}
	m.SweepRedriven.Add(float64(n))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
