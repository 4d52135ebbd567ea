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

var _ repository.PaymentRepository = (*paymentRepo)(nil)

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

const paymentColumns = `id, invoice_id, amount, currency, status, gateway_ref, idempotency_key,
retry_count, first_failed_at, next_retry_at, last_error, created_at, updated_at`

func (r *paymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	const q = `
INSERT INTO payments (id, invoice_id, amount, currency, status, gateway_ref, idempotency_key,
  retry_count, first_failed_at, next_retry_at, last_error, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13);`
	if _, err := execSQL(ctx, r.pool, tx, q,
		p.ID, p.InvoiceID, p.Amount, p.Currency, p.Status, p.GatewayRef, p.IdempotencyKey,
		p.RetryCount, p.FirstFailedAt, p.NextRetryAt, p.LastError, p.CreatedAt, p.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *paymentRepo) Update(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	const q = `
UPDATE payments SET status=$2, gateway_ref=$3, retry_count=$4, first_failed_at=$5,
  next_retry_at=$6, last_error=$7, updated_at=$8
WHERE id=$1;`
	if _, err := execSQL(ctx, r.pool, tx, q,
		p.ID, p.Status, p.GatewayRef, p.RetryCount, p.FirstFailedAt,
		p.NextRetryAt, p.LastError, p.UpdatedAt); err != nil {
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *paymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

func (r *paymentRepo) FindByIdempotencyKey(ctx context.Context, tx repository.Tx, key string) (*model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE idempotency_key=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, key)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

func (r *paymentRepo) FindLatestByInvoice(ctx context.Context, tx repository.Tx, invoiceID string) (*model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE invoice_id=$1 ORDER BY created_at DESC, id DESC LIMIT 1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q+";", invoiceID)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

func (r *paymentRepo) ListDueRetries(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments
WHERE status='failed' AND next_retry_at IS NOT NULL AND next_retry_at <= $1
ORDER BY next_retry_at LIMIT $2;`
	rows, err := pickRows(ctx, r.pool, tx, q, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *paymentRepo) ListStalePending(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments
WHERE status='pending' AND updated_at <= $1
ORDER BY updated_at LIMIT $2;`
	rows, err := pickRows(ctx, r.pool, tx, q, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *paymentRepo) ClearScheduledRetry(ctx context.Context, tx repository.Tx, paymentID string) error {
	const q = `UPDATE payments SET next_retry_at=NULL WHERE id=$1;`
	if _, err := execSQL(ctx, r.pool, tx, q, paymentID); err != nil {
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *paymentRepo) SumRevenueByPeriod(ctx context.Context, tx repository.Tx, period string) (map[string]int64, error) {
	switch period {
	case "day", "month", "year":
	default:
		return nil, domain.ErrInvalidArgument
	}
	const q = `SELECT currency, COALESCE(SUM(amount),0) FROM payments
WHERE status='succeeded' AND updated_at >= DATE_TRUNC($1, NOW())
GROUP BY currency;`
	rows, err := pickRows(ctx, r.pool, tx, q, period)
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

func scanPayment(row pgx.Row) (*model.Payment, error) {
	p := &model.Payment{}
	if err := row.Scan(
		&p.ID, &p.InvoiceID, &p.Amount, &p.Currency, &p.Status, &p.GatewayRef, &p.IdempotencyKey,
		&p.RetryCount, &p.FirstFailedAt, &p.NextRetryAt, &p.LastError, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return p, nil
}
