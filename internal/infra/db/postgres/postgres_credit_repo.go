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

var _ repository.CreditRepository = (*creditRepo)(nil)

type creditRepo struct{ pool *pgxpool.Pool }

func NewCreditRepo(pool *pgxpool.Pool) *creditRepo {
	return &creditRepo{pool: pool}
}

const creditColumns = `id, account_id, amount, currency, reason, expires_at, applied_to, applied_amount, applied_at, created_at`

func (r *creditRepo) Save(ctx context.Context, tx repository.Tx, c *model.Credit) error {
	const q = `
INSERT INTO credits (id, account_id, amount, currency, reason, expires_at, applied_to, applied_amount, applied_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10);`
	_, err := execSQL(ctx, r.pool, tx, q, c.ID, c.AccountID, c.Amount, c.Currency, c.Reason, c.ExpiresAt, c.AppliedTo, c.AppliedAmount, c.AppliedAt, c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *creditRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Credit, error) {
	q := `SELECT ` + creditColumns + ` FROM credits WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanCredit(row)
}

func (r *creditRepo) ListApplicable(ctx context.Context, tx repository.Tx, accountID string, now time.Time) ([]*model.Credit, error) {
	// FIFO by creation; locked when inside the invoice transaction so two
	// concurrent invoices cannot double-spend the same credit
	q := `SELECT ` + creditColumns + ` FROM credits
WHERE account_id=$1 AND applied_to IS NULL AND (expires_at IS NULL OR expires_at > $2)
ORDER BY created_at`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	rows, err := pickRows(ctx, r.pool, tx, q+";", accountID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Credit
	for rows.Next() {
		c, err := scanCredit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *creditRepo) MarkApplied(ctx context.Context, tx repository.Tx, creditID, invoiceID string, appliedAmount int64, at time.Time) error {
	const q = `UPDATE credits SET applied_to=$2, applied_amount=$3, applied_at=$4
WHERE id=$1 AND applied_to IS NULL;`
	tag, err := execSQL(ctx, r.pool, tx, q, creditID, invoiceID, appliedAmount, at)
	if err != nil {
		return domain.ErrOperationFailed
	}
	if tag.RowsAffected() == 0 {
		// already bound to another invoice
		return domain.ErrIllegalTransition
	}
	return nil
}

func scanCredit(row pgx.Row) (*model.Credit, error) {
	c := &model.Credit{}
	if err := row.Scan(&c.ID, &c.AccountID, &c.Amount, &c.Currency, &c.Reason, &c.ExpiresAt, &c.AppliedTo, &c.AppliedAmount, &c.AppliedAt, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return c, nil
}
