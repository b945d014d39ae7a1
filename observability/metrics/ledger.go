package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics counts escrow and promotion operations for external audit
// dashboards.
type LedgerMetrics struct {
	deposits         *prometheus.CounterVec
	releases         *prometheus.CounterVec
	refunds          *prometheus.CounterVec
	disputesOpened   prometheus.Counter
	disputesResolved *prometheus.CounterVec
	promoPayments    *prometheus.CounterVec
	promoLifecycle   *prometheus.CounterVec
	rejected         *prometheus.CounterVec
}

var (
	ledgerOnce     sync.Once
	ledgerRegistry *LedgerMetrics
)

// Ledger returns the process-wide ledger metrics. The collectors are created
// lazily and stay unregistered until Register attaches them to a registry
// serving a /metrics endpoint.
func Ledger() *LedgerMetrics {
	ledgerOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			deposits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_deposits_total",
				Help: "Count of reward deposits by token.",
			}, []string{"token"}),
			releases: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_releases_total",
				Help: "Count of reward releases by token.",
			}, []string{"token"}),
			refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_refunds_total",
				Help: "Count of reward refunds by token.",
			}, []string{"token"}),
			disputesOpened: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "escrow_disputes_opened_total",
				Help: "Count of disputes opened against tasks.",
			}),
			disputesResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_disputes_resolved_total",
				Help: "Count of dispute resolutions by outcome.",
			}, []string{"outcome"}),
			promoPayments: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "promo_payments_total",
				Help: "Count of promotion payments by service type.",
			}, []string{"service"}),
			promoLifecycle: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "promo_lifecycle_total",
				Help: "Count of promotion order transitions by action.",
			}, []string{"action"}),
			rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ledger_rejections_total",
				Help: "Count of rejected operations by method.",
			}, []string{"method"}),
		}
	})
	return ledgerRegistry
}

// Register attaches every ledger collector to the supplied registry. A
// collector may belong to several registries, so each scrape surface calls
// this against its own.
func (m *LedgerMetrics) Register(reg prometheus.Registerer) {
	reg.MustRegister(
		m.deposits,
		m.releases,
		m.refunds,
		m.disputesOpened,
		m.disputesResolved,
		m.promoPayments,
		m.promoLifecycle,
		m.rejected,
	)
}

// RecordDeposit increments the deposit counter for the token.
func (m *LedgerMetrics) RecordDeposit(token string) {
	m.deposits.WithLabelValues(token).Inc()
}

// RecordRelease increments the release counter for the token.
func (m *LedgerMetrics) RecordRelease(token string) {
	m.releases.WithLabelValues(token).Inc()
}

// RecordRefund increments the refund counter for the token.
func (m *LedgerMetrics) RecordRefund(token string) {
	m.refunds.WithLabelValues(token).Inc()
}

// RecordDisputeOpened increments the dispute counter.
func (m *LedgerMetrics) RecordDisputeOpened() {
	m.disputesOpened.Inc()
}

// RecordDisputeResolved increments the resolution counter for the outcome
// ("release" or "refund").
func (m *LedgerMetrics) RecordDisputeResolved(outcome string) {
	m.disputesResolved.WithLabelValues(outcome).Inc()
}

// RecordPromoPayment increments the payment counter for the service.
func (m *LedgerMetrics) RecordPromoPayment(service string) {
	m.promoPayments.WithLabelValues(service).Inc()
}

// RecordPromoLifecycle increments the lifecycle counter for the action
// ("activate", "complete", "cancel").
func (m *LedgerMetrics) RecordPromoLifecycle(action string) {
	m.promoLifecycle.WithLabelValues(action).Inc()
}

// RecordRejection increments the rejection counter for the RPC method.
func (m *LedgerMetrics) RecordRejection(method string) {
	m.rejected.WithLabelValues(method).Inc()
}
