package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"subscription-billing/internal/domain"
	"subscription-billing/internal/domain/model"
	"subscription-billing/internal/domain/ports/repository"
)

var _ repository.PlanRepository = (*planRepo)(nil)

// planRepo keeps every (id, version) pair; pricing edits insert new versions
// so pinned subscriptions keep reading the rows they were created under.
type planRepo struct{ pool *pgxpool.Pool }

func NewPlanRepo(pool *pgxpool.Pool) *planRepo {
	return &planRepo{pool: pool}
}

const planColumns = `id, name, interval, base_amount, currency, trial_days, meters, active, version, created_at`

func (r *planRepo) Save(ctx context.Context, tx repository.Tx, p *model.Plan) error {
	meters, err := json.Marshal(p.Meters)
	if err != nil {
		return domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO plans (id, name, interval, base_amount, currency, trial_days, meters, active, version, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id, version) DO UPDATE SET name=$2, active=$8;`
	if _, err := execSQL(ctx, r.pool, tx, q, p.ID, p.Name, p.Interval, p.BaseAmount, p.Currency, p.TrialDays, meters, p.Active, p.Version, p.CreatedAt); err != nil {
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *planRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
	q := `SELECT ` + planColumns + ` FROM plans WHERE id=$1 ORDER BY version DESC LIMIT 1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanPlan(row)
}

func (r *planRepo) FindVersion(ctx context.Context, tx repository.Tx, id string, version int) (*model.Plan, error) {
	q := `SELECT ` + planColumns + ` FROM plans WHERE id=$1 AND version=$2;`
	row, err := pickRow(ctx, r.pool, tx, q, id, version)
	if err != nil {
		return nil, err
	}
	return scanPlan(row)
}

func (r *planRepo) ListActive(ctx context.Context, tx repository.Tx) ([]*model.Plan, error) {
	q := `SELECT DISTINCT ON (id) ` + planColumns + ` FROM plans WHERE active ORDER BY id, version DESC;`
	rows, err := pickRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPlan(row pgx.Row) (*model.Plan, error) {
	p := &model.Plan{}
	var meters []byte
	if err := row.Scan(&p.ID, &p.Name, &p.Interval, &p.BaseAmount, &p.Currency, &p.TrialDays, &meters, &p.Active, &p.Version, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	if len(meters) > 0 {
		if err := json.Unmarshal(meters, &p.Meters); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
	}
	return p, nil
}
