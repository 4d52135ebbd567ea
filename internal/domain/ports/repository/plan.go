package repository

import (
	"context"

	"subscription-billing/internal/domain/model"
)

// PlanRepository stores every version of every plan. Saving a pricing change
// inserts a new (id, version) row; older versions stay readable for
// subscriptions pinned to them.
type PlanRepository interface {
	Save(ctx context.Context, tx Tx, p *model.Plan) error
	// FindByID returns the latest version of a plan.
	FindByID(ctx context.Context, tx Tx, id string) (*model.Plan, error)
	// FindVersion returns one exact pinned version.
	FindVersion(ctx context.Context, tx Tx, id string, version int) (*model.Plan, error)
	ListActive(ctx context.Context, tx Tx) ([]*model.Plan, error)
}
