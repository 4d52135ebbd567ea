package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		subscriptionsCreatedTotal,
		subscriptionsAdvancedTotal,
		usageRecordsTotal,
	)
}

var (
	subscriptionsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_subscriptions_created_total",
			Help: "Subscriptions created, by plan name.",
		},
		[]string{"plan"},
	)

	subscriptionsAdvancedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "billing_subscription_periods_advanced_total",
			Help: "Period boundaries crossed by the boundary sweep.",
		},
	)

	usageRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_usage_records_total",
			Help: "Usage records ingested, by metric name.",
		},
		[]string{"metric"},
	)
)

func IncSubscriptionCreated(plan string) {
	subscriptionsCreatedTotal.WithLabelValues(norm(plan)).Inc()
}

func AddSubscriptionsAdvanced(n int) {
	subscriptionsAdvancedTotal.Add(float64(n))
}

func IncUsageRecorded(metric string) {
	usageRecordsTotal.WithLabelValues(norm(metric)).Inc()
}
