package repository

import (
	"context"
	"time"

	"subscription-billing/internal/domain/model"
)

type CreditRepository interface {
	Save(ctx context.Context, tx Tx, c *model.Credit) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Credit, error)
	// ListApplicable returns unapplied, unexpired credits for an account in
	// creation order (FIFO). When tx is a live transaction the rows are
	// locked (FOR UPDATE) so two concurrent invoices cannot double-spend.
	ListApplicable(ctx context.Context, tx Tx, accountID string, now time.Time) ([]*model.Credit, error)
	// MarkApplied immutably binds a credit to an invoice.
	MarkApplied(ctx context.Context, tx Tx, creditID, invoiceID string, appliedAmount int64, at time.Time) error
}
