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

var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

type subscriptionRepo struct{ pool *pgxpool.Pool }

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

const subColumns = `id, account_id, plan_id, plan_version, quantity, status,
current_period_start, current_period_end,
pending_plan_id, pending_plan_version,
plan_changed_at, previous_plan_id, previous_plan_version,
cancel_at_period_end, trial_end, resume_at, created_at, updated_at`

func (r *subscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	const q = `
INSERT INTO subscriptions (
  id, account_id, plan_id, plan_version, quantity, status,
  current_period_start, current_period_end,
  pending_plan_id, pending_plan_version,
  plan_changed_at, previous_plan_id, previous_plan_version,
  cancel_at_period_end, trial_end, resume_at, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
ON CONFLICT (id) DO UPDATE SET
  plan_id=$3, plan_version=$4, quantity=$5, status=$6,
  current_period_start=$7, current_period_end=$8,
  pending_plan_id=$9, pending_plan_version=$10,
  plan_changed_at=$11, previous_plan_id=$12, previous_plan_version=$13,
  cancel_at_period_end=$14, trial_end=$15, resume_at=$16, updated_at=$18;`
	_, err := execSQL(ctx, r.pool, tx, q,
		s.ID, s.AccountID, s.PlanID, s.PlanVersion, s.Quantity, s.Status,
		s.CurrentPeriodStart, s.CurrentPeriodEnd,
		s.PendingPlanID, s.PendingPlanVersion,
		s.PlanChangedAt, s.PreviousPlanID, s.PreviousPlanVersion,
		s.CancelAtPeriodEnd, s.TrialEnd, s.ResumeAt, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *subscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	q := `SELECT ` + subColumns + ` FROM subscriptions WHERE id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q+";", id)
	if err != nil {
		return nil, err
	}
	return scanSubscription(row)
}

func (r *subscriptionRepo) ListByAccount(ctx context.Context, tx repository.Tx, accountID string) ([]*model.Subscription, error) {
	q := `SELECT ` + subColumns + ` FROM subscriptions WHERE account_id=$1 ORDER BY created_at;`
	return r.list(ctx, tx, q, accountID)
}

func (r *subscriptionRepo) ListDueForAdvance(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Subscription, error) {
	q := `SELECT ` + subColumns + ` FROM subscriptions
WHERE status IN ('trialing','active','past_due') AND current_period_end <= $1
ORDER BY current_period_end LIMIT $2;`
	return r.list(ctx, tx, q, now, limit)
}

func (r *subscriptionRepo) ListDueForResume(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Subscription, error) {
	q := `SELECT ` + subColumns + ` FROM subscriptions
WHERE status='paused' AND resume_at IS NOT NULL AND resume_at <= $1
ORDER BY resume_at LIMIT $2;`
	return r.list(ctx, tx, q, now, limit)
}

func (r *subscriptionRepo) MonthlyRecurringRevenue(ctx context.Context, tx repository.Tx) (map[string]int64, error) {
	const q = `
SELECT p.currency,
       COALESCE(SUM(CASE WHEN p.interval='year' THEN (p.base_amount*s.quantity)/12
                         ELSE p.base_amount*s.quantity END),0)
FROM subscriptions s
JOIN plans p ON p.id=s.plan_id AND p.version=s.plan_version
WHERE s.status IN ('trialing','active')
GROUP BY p.currency;`
	rows, err := pickRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var cur string
		var sum int64
		if err := rows.Scan(&cur, &sum); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out[cur] = sum
	}
	return out, rows.Err()
}

func (r *subscriptionRepo) list(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.Subscription, error) {
	rows, err := pickRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSubscription(row pgx.Row) (*model.Subscription, error) {
	s := &model.Subscription{}
	if err := row.Scan(
		&s.ID, &s.AccountID, &s.PlanID, &s.PlanVersion, &s.Quantity, &s.Status,
		&s.CurrentPeriodStart, &s.CurrentPeriodEnd,
		&s.PendingPlanID, &s.PendingPlanVersion,
		&s.PlanChangedAt, &s.PreviousPlanID, &s.PreviousPlanVersion,
		&s.CancelAtPeriodEnd, &s.TrialEnd, &s.ResumeAt, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return s, nil
}
