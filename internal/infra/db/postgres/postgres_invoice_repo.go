package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"subscription-billing/internal/domain"
	"subscription-billing/internal/domain/model"
	"subscription-billing/internal/domain/ports/repository"
)

var _ repository.InvoiceRepository = (*invoiceRepo)(nil)

type invoiceRepo struct{ pool *pgxpool.Pool }

func NewInvoiceRepo(pool *pgxpool.Pool) *invoiceRepo {
	return &invoiceRepo{pool: pool}
}

const invoiceColumns = `id, account_id, subscription_id, status, period_start, period_end,
currency, lines, tax, amount_due, amount_paid, due_at, void_reason, paid_at, voided_at, created_at, updated_at`

func (r *invoiceRepo) Save(ctx context.Context, tx repository.Tx, inv *model.Invoice) error {
	lines, err := json.Marshal(inv.Lines)
	if err != nil {
		return domain.ErrInvalidArgument
	}
	// the unique index on (subscription_id, period_start) is the exactly-once
	// guard for generation races
	const q = `
INSERT INTO invoices (id, account_id, subscription_id, status, period_start, period_end,
  currency, lines, tax, amount_due, amount_paid, due_at, void_reason, paid_at, voided_at, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17);`
	if _, err := execSQL(ctx, r.pool, tx, q,
		inv.ID, inv.AccountID, inv.SubscriptionID, inv.Status, inv.PeriodStart, inv.PeriodEnd,
		inv.Currency, lines, inv.Tax, inv.AmountDue, inv.AmountPaid, inv.DueAt,
		inv.VoidReason, inv.PaidAt, inv.VoidedAt, inv.CreatedAt, inv.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *invoiceRepo) Update(ctx context.Context, tx repository.Tx, inv *model.Invoice) error {
	lines, err := json.Marshal(inv.Lines)
	if err != nil {
		return domain.ErrInvalidArgument
	}
	const q = `
UPDATE invoices SET status=$2, lines=$3, tax=$4, amount_due=$5, amount_paid=$6,
  void_reason=$7, paid_at=$8, voided_at=$9, updated_at=$10
WHERE id=$1;`
	if _, err := execSQL(ctx, r.pool, tx, q,
		inv.ID, inv.Status, lines, inv.Tax, inv.AmountDue, inv.AmountPaid,
		inv.VoidReason, inv.PaidAt, inv.VoidedAt, inv.UpdatedAt); err != nil {
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *invoiceRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Invoice, error) {
	q := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q+";", id)
	if err != nil {
		return nil, err
	}
	return scanInvoice(row)
}

func (r *invoiceRepo) FindBySubscriptionPeriod(ctx context.Context, tx repository.Tx, subscriptionID string, periodStart time.Time) (*model.Invoice, error) {
	q := `SELECT ` + invoiceColumns + ` FROM invoices WHERE subscription_id=$1 AND period_start=$2`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q+";", subscriptionID, periodStart)
	if err != nil {
		return nil, err
	}
	return scanInvoice(row)
}

func (r *invoiceRepo) CountUnsettledByAccount(ctx context.Context, tx repository.Tx, accountID string, excludeID string) (int, error) {
	const q = `SELECT COUNT(*) FROM invoices
WHERE account_id=$1 AND id <> $2 AND status IN ('open','past_due');`
	row, err := pickRow(ctx, r.pool, tx, q, accountID, excludeID)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return n, nil
}

func (r *invoiceRepo) SumOutstanding(ctx context.Context, tx repository.Tx) (map[string]int64, error) {
	const q = `SELECT currency, COALESCE(SUM(amount_due - amount_paid),0) FROM invoices
WHERE status IN ('open','past_due') GROUP BY currency;`
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

func scanInvoice(row pgx.Row) (*model.Invoice, error) {
	inv := &model.Invoice{}
	var lines []byte
	if err := row.Scan(
		&inv.ID, &inv.AccountID, &inv.SubscriptionID, &inv.Status, &inv.PeriodStart, &inv.PeriodEnd,
		&inv.Currency, &lines, &inv.Tax, &inv.AmountDue, &inv.AmountPaid, &inv.DueAt,
		&inv.VoidReason, &inv.PaidAt, &inv.VoidedAt, &inv.CreatedAt, &inv.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	if len(lines) > 0 {
		if err := json.Unmarshal(lines, &inv.Lines); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
	}
	return inv, nil
}
