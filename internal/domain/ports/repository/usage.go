package repository

import (
	"context"
	"time"

	"subscription-billing/internal/domain/model"
)

type UsageRepository interface {
	// Insert persists a new record. A duplicate idempotency key must fail
	// with domain.ErrAlreadyExists without double-counting quantity.
	Insert(ctx context.Context, tx Tx, r *model.UsageRecord) error
	FindByIdempotencyKey(ctx context.Context, tx Tx, key string) (*model.UsageRecord, error)
	// SumRange sums quantities for records whose OccurredAt falls in the
	// half-open interval [start, end).
	SumRange(ctx context.Context, tx Tx, subscriptionID, metric string, start, end time.Time) (int64, error)
}
