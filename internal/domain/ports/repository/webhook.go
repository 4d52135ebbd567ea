package repository

import (
	"context"
	"time"

	"subscription-billing/internal/domain/model"
)

type WebhookRepository interface {
	Save(ctx context.Context, tx Tx, e *model.WebhookEvent) error
	Update(ctx context.Context, tx Tx, e *model.WebhookEvent) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.WebhookEvent, error)
	// ListDue returns pending events whose NextRetryAt has arrived, oldest
	// first (IDs are ULIDs, so id order is time order).
	ListDue(ctx context.Context, tx Tx, now time.Time, limit int) ([]*model.WebhookEvent, error)
	// ListFailed returns terminally failed events for operator inspection.
	ListFailed(ctx context.Context, tx Tx, limit int) ([]*model.WebhookEvent, error)
}
