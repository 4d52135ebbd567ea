package repository

import (
	"context"
	"time"

	"subscription-billing/internal/domain/model"
)

type SubscriptionRepository interface {
	Save(ctx context.Context, tx Tx, s *model.Subscription) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Subscription, error)
	ListByAccount(ctx context.Context, tx Tx, accountID string) ([]*model.Subscription, error)
	// ListDueForAdvance returns non-cancelled, non-paused subscriptions whose
	// current period ended at or before now. Used by the boundary sweep.
	ListDueForAdvance(ctx context.Context, tx Tx, now time.Time, limit int) ([]*model.Subscription, error)
	// ListDueForResume returns paused subscriptions whose scheduled resume
	// time has arrived.
	ListDueForResume(ctx context.Context, tx Tx, now time.Time, limit int) ([]*model.Subscription, error)

	// MonthlyRecurringRevenue sums active subscriptions' base amounts
	// normalized to a monthly interval, grouped by currency.
	MonthlyRecurringRevenue(ctx context.Context, tx Tx) (map[string]int64, error)
}
