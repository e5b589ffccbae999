// Package metrics holds prometheus collectors of the service.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nkiryanov/walletledger/internal/apperrors"
	"github.com/nkiryanov/walletledger/internal/events"
)

type Metrics struct {
	registry *prometheus.Registry

	TransactionsTotal *prometheus.CounterVec
	CreditsMoved      *prometheus.CounterVec
	OperationsFailed  *prometheus.CounterVec
	EventsDropped     prometheus.Counter
	PayoutsTotal      *prometheus.CounterVec
	HTTPLatency       *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		TransactionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_transactions_total",
				Help: "Completed ledger transactions",
			},
			[]string{"type"},
		),
		CreditsMoved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_credits_moved_total",
				Help: "Absolute credits moved by completed transactions",
			},
			[]string{"type"},
		),
		OperationsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_operations_failed_total",
				Help: "Ledger operations that appended nothing",
			},
			[]string{"operation", "reason"},
		),
		EventsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_events_dropped_total",
				Help: "Events missed by slow subscribers",
			},
		),
		PayoutsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_payouts_total",
				Help: "Payout processor interactions",
			},
			[]string{"action", "outcome"},
		),
		HTTPLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_requests_latency_seconds",
				Help:    "Latency of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}

	m.registry.MustRegister(
		m.TransactionsTotal,
		m.CreditsMoved,
		m.OperationsFailed,
		m.EventsDropped,
		m.PayoutsTotal,
		m.HTTPLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler for /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Event observer: counts completed transactions
func (m *Metrics) ObserveEvent(e events.Event) {
	t := e.Transaction
	m.TransactionsTotal.WithLabelValues(string(t.Type)).Inc()

	credits := t.CreditsDelta()
	if credits < 0 {
		credits = -credits
	}
	m.CreditsMoved.WithLabelValues(string(t.Type)).Add(float64(credits))
}

func (m *Metrics) EventDropped(events.Event) {
	m.EventsDropped.Inc()
}

func (m *Metrics) OperationFailed(operation string, err error) {
	m.OperationsFailed.WithLabelValues(operation, Reason(err)).Inc()
}

func (m *Metrics) Payout(action string, outcome string) {
	m.PayoutsTotal.WithLabelValues(action, outcome).Inc()
}

// Low cardinality label for error
func Reason(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, apperrors.ErrValidation):
		return "validation"
	case errors.Is(err, apperrors.ErrContention):
		return "contention"
	case errors.Is(err, apperrors.ErrStorage):
		return "storage"
	default:
		return "unknown"
	}
}
