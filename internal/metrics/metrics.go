// Package metrics метрики леджера для Prometheus.
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LedgerMetrics метрики переходов, отказов и сверки.
type LedgerMetrics struct {
	TransitionsTotal        *prometheus.CounterVec
	RejectionsTotal         *prometheus.CounterVec
	WebhookReplaysTotal     prometheus.Counter
	IntegrityViolations     *prometheus.CounterVec
	SettledAmountTotal      *prometheus.CounterVec
	ReconcileSweepDuration  prometheus.Histogram
	ReconcileSweepPayments  prometheus.Counter
	ReconcileSweepAnomalies prometheus.Counter
	EventPublishFailures    prometheus.Counter

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// Ledger глобальный экземпляр метрик.
var Ledger *LedgerMetrics

var once sync.Once

// Init регистрирует метрики в реестре по умолчанию. Повторные вызовы безопасны.
func Init() *LedgerMetrics {
	once.Do(func() {
		Ledger = New(prometheus.DefaultRegisterer)
	})
	return Ledger
}

// New создаёт метрики в указанном реестре (в тестах отдельный реестр).
func New(reg prometheus.Registerer) *LedgerMetrics {
	factory := promauto.With(reg)

	return &LedgerMetrics{
		TransitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_ledger_transitions_total",
			Help: "Committed payment status transitions",
		}, []string{"from", "to"}),
		RejectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_ledger_rejections_total",
			Help: "Rejected transition requests by error code",
		}, []string{"operation", "code"}),
		WebhookReplaysTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "escrow_ledger_webhook_replays_total",
			Help: "Gateway events acknowledged as idempotent replays",
		}),
		IntegrityViolations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_ledger_integrity_violations_total",
			Help: "Data integrity violations detected",
		}, []string{"code", "source"}),
		SettledAmountTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_ledger_settled_amount_total",
			Help: "Amount moved by completed transactions",
		}, []string{"type", "currency"}),
		ReconcileSweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "escrow_ledger_reconcile_sweep_duration_seconds",
			Help:    "Duration of reconciliation sweeps",
			Buckets: prometheus.DefBuckets,
		}),
		ReconcileSweepPayments: factory.NewCounter(prometheus.CounterOpts{
			Name: "escrow_ledger_reconcile_payments_total",
			Help: "Payments checked by reconciliation sweeps",
		}),
		ReconcileSweepAnomalies: factory.NewCounter(prometheus.CounterOpts{
			Name: "escrow_ledger_reconcile_anomalies_total",
			Help: "Anomalies reported by reconciliation sweeps",
		}),
		EventPublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "escrow_ledger_event_publish_failures_total",
			Help: "Domain events that failed to publish",
		}),
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "escrow_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Методы ниже допускают nil получателя, чтобы сервисы работали без метрик.

func (m *LedgerMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *LedgerMetrics) ObserveRejection(operation, code string) {
	if m == nil {
		return
	}
	m.RejectionsTotal.WithLabelValues(operation, code).Inc()
}

func (m *LedgerMetrics) ObserveReplay() {
	if m == nil {
		return
	}
	m.WebhookReplaysTotal.Inc()
}

func (m *LedgerMetrics) ObserveIntegrityViolation(code, source string) {
	if m == nil {
		return
	}
	m.IntegrityViolations.WithLabelValues(code, source).Inc()
}

func (m *LedgerMetrics) ObserveSettled(txType, currency string, amount float64) {
	if m == nil {
		return
	}
	if amount < 0 {
		amount = -amount
	}
	m.SettledAmountTotal.WithLabelValues(txType, currency).Add(amount)
}

func (m *LedgerMetrics) ObserveSweep(seconds float64, checked, anomalies int) {
	if m == nil {
		return
	}
	m.ReconcileSweepDuration.Observe(seconds)
	m.ReconcileSweepPayments.Add(float64(checked))
	m.ReconcileSweepAnomalies.Add(float64(anomalies))
}

func (m *LedgerMetrics) ObservePublishFailure() {
	if m == nil {
		return
	}
	m.EventPublishFailures.Inc()
}

func (m *LedgerMetrics) ObserveHTTP(method, route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(seconds)
}
