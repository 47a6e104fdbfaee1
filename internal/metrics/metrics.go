package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	webhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "siargao_rides",
			Name:      "webhook_events_total",
			Help:      "Inbound webhook deliveries by provider and result.",
		},
		[]string{"provider", "result"},
	)

	paymentTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "siargao_rides",
			Name:      "payment_transitions_total",
			Help:      "Booking state machine transitions by outcome and payment kind.",
		},
		[]string{"outcome", "kind"},
	)

	partialFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "siargao_rides",
			Name:      "partial_failures_total",
			Help:      "Provider-side success with failed local persistence. Page on this.",
		},
	)

	blockedDates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "siargao_rides",
			Name:      "blocked_dates_total",
			Help:      "Calendar dates newly blocked by confirmed rentals.",
		},
	)

	payouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "siargao_rides",
			Name:      "payouts_total",
			Help:      "Deposit payouts created.",
		},
	)

	providerAPIErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "siargao_rides",
			Name:      "provider_api_errors_total",
			Help:      "Failed outbound calls to provider APIs.",
		},
		[]string{"provider"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(webhookEvents, paymentTransitions, partialFailures, blockedDates, payouts, providerAPIErrors)
	})
}

func IncWebhook(provider, result string) {
	webhookEvents.WithLabelValues(provider, result).Inc()
}

func IncTransition(outcome, kind string) {
	paymentTransitions.WithLabelValues(outcome, kind).Inc()
}

func IncPartialFailure() {
	partialFailures.Inc()
}

func AddBlockedDates(n int) {
	blockedDates.Add(float64(n))
}

func IncPayout() {
	payouts.Inc()
}

func IncProviderAPIError(provider string) {
	providerAPIErrors.WithLabelValues(provider).Inc()
}
