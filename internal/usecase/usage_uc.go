package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"subscription-billing/internal/domain"
	"subscription-billing/internal/domain/model"
	"subscription-billing/internal/domain/ports/repository"
	"subscription-billing/internal/infra/metrics"
)

// Compile-time check
var _ UsageUseCase = (*usageUC)(nil)

type UsageUseCase interface {
	// Record ingests one usage event. Resubmitting an idempotency key
	// returns the stored record unchanged; quantity is never double-counted.
	Record(ctx context.Context, subscriptionID, metric string, quantity int64, occurredAt time.Time, idempotencyKey string) (*model.UsageRecord, error)
	// Aggregate sums quantities over the half-open interval [start, end).
	Aggregate(ctx context.Context, subscriptionID, metric string, start, end time.Time) (int64, error)
}

type usageUC struct {
	usage repository.UsageRepository
	subs  repository.SubscriptionRepository
	now   Clock
	log   *zerolog.Logger
}

func NewUsageUseCase(usage repository.UsageRepository, subs repository.SubscriptionRepository, now Clock, logger *zerolog.Logger) *usageUC {
	l := logger.With().Str("component", "UsageUC").Logger()
	return &usageUC{usage: usage, subs: subs, now: now, log: &l}
}

func (u *usageUC) Record(ctx context.Context, subscriptionID, metric string, quantity int64, occurredAt time.Time, idempotencyKey string) (*model.UsageRecord, error) {
	if _, err := u.subs.FindByID(ctx, nil, subscriptionID); err != nil {
		return nil, err
	}
	rec, err := model.NewUsageRecord(uuid.NewString(), subscriptionID, metric, quantity, occurredAt, idempotencyKey, u.now())
	if err != nil {
		return nil, err
	}
	if err := u.usage.Insert(ctx, nil, rec); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			// duplicate network retry: hand back the stored record
			return u.usage.FindByIdempotencyKey(ctx, nil, idempotencyKey)
		}
		return nil, err
	}
	metrics.IncUsageRecorded(metric)
	return rec, nil
}

func (u *usageUC) Aggregate(ctx context.Context, subscriptionID, metric string, start, end time.Time) (int64, error) {
	if !end.After(start) {
		return 0, domain.ErrInvalidArgument
	}
	return u.usage.SumRange(ctx, nil, subscriptionID, metric, start, end)
}
