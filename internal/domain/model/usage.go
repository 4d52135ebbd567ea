package model

import (
	"time"

	"subscription-billing/internal/domain"
)

// UsageRecord is one metered usage event. IdempotencyKey is globally unique;
// resubmitting the same key must return the stored record unchanged.
type UsageRecord struct {
	ID             string // UUID
	SubscriptionID string // UUID
	Metric         string
	Quantity       int64 // > 0
	OccurredAt     time.Time
	IdempotencyKey string
	CreatedAt      time.Time
}

func NewUsageRecord(id, subscriptionID, metric string, quantity int64, occurredAt time.Time, idempotencyKey string, now time.Time) (*UsageRecord, error) {
	if id == "" || subscriptionID == "" || metric == "" || idempotencyKey == "" || quantity <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	return &UsageRecord{
		ID:             id,
		SubscriptionID: subscriptionID,
		Metric:         metric,
		Quantity:       quantity,
		OccurredAt:     occurredAt,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
	}, nil
}
