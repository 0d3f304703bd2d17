// Package metrics holds the Prometheus collectors for the payment protocol.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// Metrics tracks challenge issuance, proof verification and settlement
// transaction building. A nil *Metrics is valid and records nothing.
type Metrics struct {
	ChallengesIssued    prometheus.Counter
	Verifications       *prometheus.CounterVec
	VerifyDuration      prometheus.Histogram
	BuildDuration       prometheus.Histogram
	BuildsTotal         *prometheus.CounterVec
	Grants              prometheus.Counter
	MissingAccountsSeen prometheus.Counter
}

// New registers all collectors with reg. Pass prometheus.DefaultRegisterer in
// production and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ChallengesIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "splitpay_challenges_issued_total",
			Help: "Total number of payment challenges issued",
		}),
		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "splitpay_verifications_total",
			Help: "Proof verifications by outcome",
		}, []string{"outcome"}),
		VerifyDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "splitpay_verify_duration_seconds",
			Help:    "Duration of proof verification including ledger lookups",
			Buckets: latencyBuckets,
		}),
		BuildDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "splitpay_build_tx_duration_seconds",
			Help:    "Duration of settlement transaction building",
			Buckets: latencyBuckets,
		}),
		BuildsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "splitpay_build_tx_total",
			Help: "Settlement transactions built by mode",
		}, []string{"mode"}),
		Grants: f.NewCounter(prometheus.CounterOpts{
			Name: "splitpay_grants_total",
			Help: "Protected resource responses released after payment",
		}),
		MissingAccountsSeen: f.NewCounter(prometheus.CounterOpts{
			Name: "splitpay_missing_token_accounts_total",
			Help: "Recipient token accounts that had to be created in a settlement transaction",
		}),
	}
}

// IncChallenge records an issued challenge.
func (m *Metrics) IncChallenge() {
	if m == nil {
		return
	}
	m.ChallengesIssued.Inc()
}

// ObserveVerify records a verification outcome and its duration.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveVerify(outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.Verifications.WithLabelValues(outcome).Inc()
	m.VerifyDuration.Observe(time.Since(start).Seconds())
}

// ObserveBuild records a built transaction.
func (m *Metrics) ObserveBuild(mode string, missingAccounts int, start time.Time) {
	if m == nil {
		return
	}
	m.BuildsTotal.WithLabelValues(mode).Inc()
	m.MissingAccountsSeen.Add(float64(missingAccounts))
	m.BuildDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncGrant() {
	if m == nil {
		return
	}
	m.Grants.Inc()
}
