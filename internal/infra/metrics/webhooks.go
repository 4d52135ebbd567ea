package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(webhookDeliveriesTotal)
}

var webhookDeliveriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "billing_webhook_deliveries_total",
		Help: "Webhook delivery attempts by outcome (delivered/retried/failed).",
	},
	[]string{"outcome"},
)

func IncWebhookDelivery(outcome string) {
	webhookDeliveriesTotal.WithLabelValues(norm(outcome)).Inc()
}
