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

var _ repository.WebhookRepository = (*webhookRepo)(nil)

type webhookRepo struct{ pool *pgxpool.Pool }

func NewWebhookRepo(pool *pgxpool.Pool) *webhookRepo {
	return &webhookRepo{pool: pool}
}

const webhookColumns = `id, type, payload, endpoint, status, retry_count, next_retry_at, last_error, delivered_at, created_at, updated_at`

func (r *webhookRepo) Save(ctx context.Context, tx repository.Tx, e *model.WebhookEvent) error {
	const q = `
INSERT INTO webhook_events (id, type, payload, endpoint, status, retry_count, next_retry_at, last_error, delivered_at, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11);`
	if _, err := execSQL(ctx, r.pool, tx, q,
		e.ID, e.Type, []byte(e.Payload), e.Endpoint, e.Status, e.RetryCount,
		e.NextRetryAt, e.LastError, e.DeliveredAt, e.CreatedAt, e.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *webhookRepo) Update(ctx context.Context, tx repository.Tx, e *model.WebhookEvent) error {
	const q = `
UPDATE webhook_events SET status=$2, retry_count=$3, next_retry_at=$4, last_error=$5, delivered_at=$6, updated_at=$7
WHERE id=$1;`
	if _, err := execSQL(ctx, r.pool, tx, q,
		e.ID, e.Status, e.RetryCount, e.NextRetryAt, e.LastError, e.DeliveredAt, e.UpdatedAt); err != nil {
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *webhookRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.WebhookEvent, error) {
	q := `SELECT ` + webhookColumns + ` FROM webhook_events WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanWebhookEvent(row)
}

func (r *webhookRepo) ListDue(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.WebhookEvent, error) {
	// ULID ids order by creation time, keeping delivery roughly in emit order
	q := `SELECT ` + webhookColumns + ` FROM webhook_events
WHERE status='pending' AND next_retry_at IS NOT NULL AND next_retry_at <= $1
ORDER BY id LIMIT $2;`
	return r.list(ctx, tx, q, now, limit)
}

func (r *webhookRepo) ListFailed(ctx context.Context, tx repository.Tx, limit int) ([]*model.WebhookEvent, error) {
	q := `SELECT ` + webhookColumns + ` FROM webhook_events
WHERE status='failed' ORDER BY id DESC LIMIT $1;`
	return r.list(ctx, tx, q, limit)
}

func (r *webhookRepo) list(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.WebhookEvent, error) {
	rows, err := pickRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.WebhookEvent
	for rows.Next() {
		e, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanWebhookEvent(row pgx.Row) (*model.WebhookEvent, error) {
	e := &model.WebhookEvent{}
	var payload []byte
	if err := row.Scan(
		&e.ID, &e.Type, &payload, &e.Endpoint, &e.Status, &e.RetryCount,
		&e.NextRetryAt, &e.LastError, &e.DeliveredAt, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	e.Payload = payload
	return e, nil
}
