package usecase

import (
	"context"

	"github.com/rs/zerolog"

	"subscription-billing/internal/domain"
	"subscription-billing/internal/domain/model"
	"subscription-billing/internal/domain/ports/repository"
)

type PlanUseCase interface {
	// Create stores a plan at version 1.
	Create(ctx context.Context, plan *model.Plan) error
	// Revise stores a new version of an existing plan. Subscriptions pinned
	// to earlier versions are unaffected until their next plan change.
	Revise(ctx context.Context, plan *model.Plan) (*model.Plan, error)
	Get(ctx context.Context, id string) (*model.Plan, error)
	ListActive(ctx context.Context) ([]*model.Plan, error)
	Deactivate(ctx context.Context, id string) (*model.Plan, error)
}

type planUC struct {
	plans repository.PlanRepository
	log   *zerolog.Logger
}

func NewPlanUseCase(plans repository.PlanRepository, logger *zerolog.Logger) *planUC {
	l := logger.With().Str("component", "PlanUC").Logger()
	return &planUC{plans: plans, log: &l}
}

func (u *planUC) Create(ctx context.Context, plan *model.Plan) error {
	if plan.IsZero() {
		return domain.ErrInvalidArgument
	}
	return u.plans.Save(ctx, nil, plan)
}

func (u *planUC) Revise(ctx context.Context, plan *model.Plan) (*model.Plan, error) {
	if plan.IsZero() {
		return nil, domain.ErrInvalidArgument
	}
	for _, m := range plan.Meters {
		if err := model.ValidateTiers(m.Mode, m.Tiers); err != nil {
			return nil, err
		}
	}
	latest, err := u.plans.FindByID(ctx, nil, plan.ID)
	if err != nil {
		return nil, err
	}
	plan.Version = latest.Version + 1
	if err := u.plans.Save(ctx, nil, plan); err != nil {
		return nil, err
	}
	u.log.Info().Str("plan_id", plan.ID).Int("version", plan.Version).Msg("plan revised")
	return plan, nil
}

func (u *planUC) Get(ctx context.Context, id string) (*model.Plan, error) {
	return u.plans.FindByID(ctx, nil, id)
}

func (u *planUC) ListActive(ctx context.Context) ([]*model.Plan, error) {
	return u.plans.ListActive(ctx, nil)
}

func (u *planUC) Deactivate(ctx context.Context, id string) (*model.Plan, error) {
	p, err := u.plans.FindByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	p.Active = false
	if err := u.plans.Save(ctx, nil, p); err != nil {
		return nil, err
	}
	return p, nil
}
