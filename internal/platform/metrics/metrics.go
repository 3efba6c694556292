// Package metrics exposes the Prometheus collectors of the intake, reconciliation,
// ledger and withdrawal paths. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rental_payments"

type Metrics struct {
	webhookEvents      *prometheus.CounterVec
	rateLimitDenials   *prometheus.CounterVec
	dispatchDuration   *prometheus.HistogramVec
	retryOutcomes      *prometheus.CounterVec
	retryPurged        prometheus.Counter
	withdrawals        *prometheus.CounterVec
	ledgerOperations   *prometheus.CounterVec
	providerRequests   *prometheus.CounterVec
	bookingEvents      *prometheus.CounterVec
	notificationErrors prometheus.Counter
	handlerPanics      *prometheus.CounterVec
}

// New registers every collector on reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		webhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "webhook",
				Name:      "events_total",
				Help:      "Provider events received, partitioned by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		),
		rateLimitDenials: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "webhook",
				Name:      "rate_limit_denials_total",
				Help:      "Requests denied by the intake rate limiter, partitioned by scope.",
			},
			[]string{"scope"},
		),
		dispatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "reconciliation",
				Name:      "dispatch_duration_seconds",
				Help:      "Time spent applying one event to the ledger.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind", "result"},
		),
		retryOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "retry",
				Name:      "outcomes_total",
				Help:      "Retry attempts partitioned by outcome.",
			},
			[]string{"outcome"},
		),
		retryPurged: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "retry",
				Name:      "purged_total",
				Help:      "Finished events removed by retention.",
			},
		),
		withdrawals: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "withdrawal",
				Name:      "requests_total",
				Help:      "Withdrawals routed, partitioned by rail and outcome.",
			},
			[]string{"rail", "outcome"},
		),
		ledgerOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Wallet operations partitioned by operation and result.",
			},
			[]string{"operation", "result"},
		),
		providerRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "provider",
				Name:      "requests_total",
				Help:      "Outbound provider calls partitioned by provider and result.",
			},
			[]string{"provider", "result"},
		),
		bookingEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "booking",
				Name:      "events_total",
				Help:      "Booking lifecycle events consumed, partitioned by status and result.",
			},
			[]string{"status", "result"},
		),
		notificationErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "notification",
				Name:      "publish_errors_total",
				Help:      "Operator notifications that could not be published.",
			},
		),
		handlerPanics: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "handler_panics_total",
				Help:      "Gateway handler panics recovered, partitioned by route.",
			},
			[]string{"route"},
		),
	}
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) ObserveWebhookEvent(provider, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) ObserveRateLimitDenial(scope string) {
	if m == nil {
		return
	}
	m.rateLimitDenials.WithLabelValues(scope).Inc()
}

func (m *Metrics) ObserveDispatch(kind string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.dispatchDuration.WithLabelValues(kind, resultLabel(err)).Observe(time.Since(started).Seconds())
}

func (m *Metrics) ObserveRetry(outcome string) {
	if m == nil {
		return
	}
	m.retryOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObservePurge(deleted int64) {
	if m == nil || deleted <= 0 {
		return
	}
	m.retryPurged.Add(float64(deleted))
}

func (m *Metrics) ObserveWithdrawal(rail, outcome string) {
	if m == nil {
		return
	}
	m.withdrawals.WithLabelValues(rail, outcome).Inc()
}

func (m *Metrics) ObserveLedgerOperation(operation string, err error) {
	if m == nil {
		return
	}
	m.ledgerOperations.WithLabelValues(operation, resultLabel(err)).Inc()
}

func (m *Metrics) ObserveProviderRequest(provider string, err error) {
	if m == nil {
		return
	}
	m.providerRequests.WithLabelValues(provider, resultLabel(err)).Inc()
}

func (m *Metrics) ObserveBookingEvent(status string, err error) {
	if m == nil {
		return
	}
	m.bookingEvents.WithLabelValues(status, resultLabel(err)).Inc()
}

func (m *Metrics) ObserveNotificationError() {
	if m == nil {
		return
	}
	m.notificationErrors.Inc()
}

// RegisterDedupFilter exposes the lookup counters of the dedup bloom filter on reg
func RegisterDedupFilter(reg prometheus.Registerer, stats func() (lookups, rejected uint64)) {
	factory := promauto.With(reg)
	factory.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "lookups_total",
			Help:      "Event id lookups made by the intake path.",
		},
		func() float64 {
			lookups, _ := stats()
			return float64(lookups)
		},
	)
	factory.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "filter_skips_total",
			Help:      "Lookups the bloom filter answered without reading the event store.",
		},
		func() float64 {
			_, rejected := stats()
			return float64(rejected)
		},
	)
}

func (m *Metrics) ObserveHandlerPanic(route string) {
	if m == nil {
		return
	}
	m.handlerPanics.WithLabelValues(route).Inc()
}
