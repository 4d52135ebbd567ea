package repository

import (
	"context"
	"time"

	"subscription-billing/internal/domain/model"
)

type PaymentRepository interface {
	// Save inserts an attempt. The idempotency key is unique; a duplicate
	// fails with domain.ErrAlreadyExists.
	Save(ctx context.Context, tx Tx, p *model.Payment) error
	Update(ctx context.Context, tx Tx, p *model.Payment) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Payment, error)
	FindByIdempotencyKey(ctx context.Context, tx Tx, key string) (*model.Payment, error)
	// FindLatestByInvoice returns the most recent attempt for an invoice,
	// or domain.ErrNotFound if none exist.
	FindLatestByInvoice(ctx context.Context, tx Tx, invoiceID string) (*model.Payment, error)
	// ListDueRetries returns failed attempts whose NextRetryAt has arrived.
	ListDueRetries(ctx context.Context, tx Tx, now time.Time, limit int) ([]*model.Payment, error)
	// ClearScheduledRetry removes the pending follow-up from a failed attempt.
	ClearScheduledRetry(ctx context.Context, tx Tx, paymentID string) error
	// ListStalePending returns pending attempts not touched since olderThan,
	// oldest first.
	ListStalePending(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.Payment, error)

	// SumRevenueByPeriod sums succeeded amounts since the start of the given
	// date_trunc period ("day"|"month"|"year"), grouped by currency.
	SumRevenueByPeriod(ctx context.Context, tx Tx, period string) (map[string]int64, error)
}
