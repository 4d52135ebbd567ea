package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"subscription-billing/internal/domain"
	"subscription-billing/internal/domain/model"
	"subscription-billing/internal/domain/ports/repository"
)

var _ repository.UsageRepository = (*usageRepo)(nil)

type usageRepo struct{ pool *pgxpool.Pool }

func NewUsageRepo(pool *pgxpool.Pool) *usageRepo {
	return &usageRepo{pool: pool}
}

func (r *usageRepo) Insert(ctx context.Context, tx repository.Tx, rec *model.UsageRecord) error {
	// idempotency_key carries a unique index; a duplicate submission maps to
	// ErrAlreadyExists and never double-counts
	const q = `
INSERT INTO usage_records (id, subscription_id, metric, quantity, occurred_at, idempotency_key, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7);`
	_, err := execSQL(ctx, r.pool, tx, q, rec.ID, rec.SubscriptionID, rec.Metric, rec.Quantity, rec.OccurredAt, rec.IdempotencyKey, rec.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *usageRepo) FindByIdempotencyKey(ctx context.Context, tx repository.Tx, key string) (*model.UsageRecord, error) {
	const q = `SELECT id, subscription_id, metric, quantity, occurred_at, idempotency_key, created_at
FROM usage_records WHERE idempotency_key=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, key)
	if err != nil {
		return nil, err
	}
	rec := &model.UsageRecord{}
	if err := row.Scan(&rec.ID, &rec.SubscriptionID, &rec.Metric, &rec.Quantity, &rec.OccurredAt, &rec.IdempotencyKey, &rec.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return rec, nil
}

func (r *usageRepo) SumRange(ctx context.Context, tx repository.Tx, subscriptionID, metric string, start, end time.Time) (int64, error) {
	// half-open interval keeps one event out of two adjacent periods
	const q = `SELECT COALESCE(SUM(quantity),0) FROM usage_records
WHERE subscription_id=$1 AND metric=$2 AND occurred_at >= $3 AND occurred_at < $4;`
	row, err := pickRow(ctx, r.pool, tx, q, subscriptionID, metric, start, end)
	if err != nil {
		return 0, err
	}
	var sum int64
	if err := row.Scan(&sum); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return sum, nil
}
