package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		invoicesGeneratedTotal,
		invoicesAmountDueTotal,
		invoicesVoidedTotal,
	)
}

var (
	invoicesGeneratedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "billing_invoices_generated_total",
			Help: "Total number of invoices generated.",
		},
	)

	invoicesAmountDueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_invoices_amount_due_total",
			Help: "Sum of amount_due across generated invoices, by currency.",
		},
		[]string{"currency"},
	)

	invoicesVoidedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "billing_invoices_voided_total",
			Help: "Total number of invoices voided.",
		},
	)
)

func IncInvoiceGenerated(currency string, amountDue int64) {
	invoicesGeneratedTotal.Inc()
	invoicesAmountDueTotal.WithLabelValues(norm(currency)).Add(float64(amountDue))
}

func IncInvoiceVoided() { invoicesVoidedTotal.Inc() }
