package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the settlement collectors. A nil *Metrics is a no-op.
type Metrics struct {
	LedgerSubmissionsTotal    *prometheus.CounterVec
	LedgerConfirmationSeconds *prometheus.HistogramVec
	ContractTransitionsTotal  *prometheus.CounterVec
	PaymentsTotal             *prometheus.CounterVec
	QuoteConsumptionsTotal    *prometheus.CounterVec
	SettlementDebtsTotal      *prometheus.CounterVec
}

// New registers collectors on reg. Pass prometheus.DefaultRegisterer in main
// and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		LedgerSubmissionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_submissions_total",
				Help: "Ledger transactions submitted, by method and outcome",
			},
			[]string{"method", "result"},
		),
		LedgerConfirmationSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_confirmation_seconds",
				Help:    "Time from submission to a terminal ledger status",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
			},
			[]string{"method"},
		),
		ContractTransitionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contract_transitions_total",
				Help: "Escrow contract transitions attempted, by action and outcome",
			},
			[]string{"action", "result"},
		),
		PaymentsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payments_total",
				Help: "Payments executed, by kind (p2p/merchant) and outcome",
			},
			[]string{"kind", "result"},
		),
		QuoteConsumptionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quote_consumptions_total",
				Help: "Quote lock consumption attempts, by outcome",
			},
			[]string{"result"},
		),
		SettlementDebtsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settlement_debts_total",
				Help: "Merchant settlement debts, by outcome",
			},
			[]string{"result"},
		),
	}
}

func (m *Metrics) LedgerSubmission(method, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.LedgerSubmissionsTotal.WithLabelValues(method, result).Inc()
	if elapsed > 0 {
		m.LedgerConfirmationSeconds.WithLabelValues(method).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) ContractTransition(action, result string) {
	if m == nil {
		return
	}
	m.ContractTransitionsTotal.WithLabelValues(action, result).Inc()
}

func (m *Metrics) Payment(kind, result string) {
	if m == nil {
		return
	}
	m.PaymentsTotal.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) QuoteConsumption(result string) {
	if m == nil {
		return
	}
	m.QuoteConsumptionsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) SettlementDebt(result string) {
	if m == nil {
		return
	}
	m.SettlementDebtsTotal.WithLabelValues(result).Inc()
}
