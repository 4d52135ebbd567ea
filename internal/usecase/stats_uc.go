package usecase

import (
	"context"

	"subscription-billing/internal/domain/ports/repository"
)

// Compile-time check
var _ StatsUseCase = (*statsUC)(nil)

// StatsUseCase exposes derived revenue metrics for the admin surface.
// All maps are keyed by currency.
type StatsUseCase interface {
	// MRR is the sum of active subscriptions' base amounts normalized to a
	// monthly interval.
	MRR(ctx context.Context) (map[string]int64, error)
	// Outstanding sums amount_due - amount_paid over open/past_due invoices.
	Outstanding(ctx context.Context) (map[string]int64, error)
	// Revenue sums succeeded payments since the start of the current
	// period ("day"|"month"|"year").
	Revenue(ctx context.Context, period string) (map[string]int64, error)
}

type statsUC struct {
	subs     repository.SubscriptionRepository
	invoices repository.InvoiceRepository
	payments repository.PaymentRepository
}

func NewStatsUseCase(subs repository.SubscriptionRepository, invoices repository.InvoiceRepository, payments repository.PaymentRepository) *statsUC {
	return &statsUC{subs: subs, invoices: invoices, payments: payments}
}

func (u *statsUC) MRR(ctx context.Context) (map[string]int64, error) {
	return u.subs.MonthlyRecurringRevenue(ctx, nil)
}

func (u *statsUC) Outstanding(ctx context.Context) (map[string]int64, error) {
	return u.invoices.SumOutstanding(ctx, nil)
}

func (u *statsUC) Revenue(ctx context.Context, period string) (map[string]int64, error) {
	return u.payments.SumRevenueByPeriod(ctx, nil, period)
}
