package repository

import (
	"context"
	"time"

	"subscription-billing/internal/domain/model"
)

type InvoiceRepository interface {
	// Save inserts an invoice with its line items. The storage layer holds a
	// uniqueness constraint on (subscription_id, period_start); a duplicate
	// insert fails with domain.ErrAlreadyExists.
	Save(ctx context.Context, tx Tx, inv *model.Invoice) error
	Update(ctx context.Context, tx Tx, inv *model.Invoice) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Invoice, error)
	FindBySubscriptionPeriod(ctx context.Context, tx Tx, subscriptionID string, periodStart time.Time) (*model.Invoice, error)
	// CountUnsettledByAccount counts open/past_due invoices for an account,
	// optionally excluding one invoice id (the one being settled).
	CountUnsettledByAccount(ctx context.Context, tx Tx, accountID string, excludeID string) (int, error)

	// Stats
	SumOutstanding(ctx context.Context, tx Tx) (map[string]int64, error)
}
