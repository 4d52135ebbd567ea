package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"subscription-billing/internal/domain"
	"subscription-billing/internal/domain/model"
	"subscription-billing/internal/domain/ports/repository"
	"subscription-billing/internal/infra/metrics"
)

// Compile-time check
var _ SubscriptionUseCase = (*subscriptionUC)(nil)

type SubscriptionUseCase interface {
	Create(ctx context.Context, accountID, planID string, quantity int64) (*model.Subscription, error)
	Get(ctx context.Context, id string) (*model.Subscription, error)
	// Cancel is terminal. Immediate cancellation ends the subscription now;
	// otherwise it runs to the end of the current period.
	Cancel(ctx context.Context, id string, atPeriodEnd bool) (*model.Subscription, error)
	Pause(ctx context.Context, id string, resumeAt *time.Time) (*model.Subscription, error)
	Resume(ctx context.Context, id string) (*model.Subscription, error)
	// ChangePlan switches plans either immediately (the current period is
	// prorated at invoice time) or at the next period boundary (default).
	ChangePlan(ctx context.Context, id, newPlanID string, immediate bool) (*model.Subscription, error)
	// AdvancePeriod closes the current period if its boundary has passed:
	// it generates the period's invoice (exactly once) and rolls the
	// boundaries forward. Re-invoking for an already-invoiced period is a
	// no-op, which makes the boundary sweep idempotent.
	AdvancePeriod(ctx context.Context, id string) (*model.Subscription, *model.Invoice, error)
	// RunBoundarySweep advances all due subscriptions and resumes paused
	// ones whose resume time arrived. Returns the number advanced.
	RunBoundarySweep(ctx context.Context, limit int) (int, error)
}

type subscriptionUC struct {
	subs      repository.SubscriptionRepository
	plans     repository.PlanRepository
	accounts  repository.AccountRepository
	invoiceUC InvoiceUseCase
	tm        repository.TransactionManager
	events    EventEmitter
	now       Clock
	log       *zerolog.Logger
}

func NewSubscriptionUseCase(
	subs repository.SubscriptionRepository,
	plans repository.PlanRepository,
	accounts repository.AccountRepository,
	invoiceUC InvoiceUseCase,
	tm repository.TransactionManager,
	events EventEmitter,
	now Clock,
	logger *zerolog.Logger,
) *subscriptionUC {
	l := logger.With().Str("component", "SubscriptionUC").Logger()
	return &subscriptionUC{
		subs: subs, plans: plans, accounts: accounts, invoiceUC: invoiceUC,
		tm: tm, events: events, now: now, log: &l,
	}
}

func (u *subscriptionUC) Create(ctx context.Context, accountID, planID string, quantity int64) (*model.Subscription, error) {
	if _, err := u.accounts.FindByID(ctx, nil, accountID); err != nil {
		return nil, err
	}
	plan, err := u.plans.FindByID(ctx, nil, planID)
	if err != nil {
		return nil, err
	}
	if !plan.Active {
		return nil, domain.ErrInvalidArgument
	}
	sub, err := model.NewSubscription(uuid.NewString(), accountID, plan, quantity, u.now())
	if err != nil {
		return nil, err
	}
	if err := u.subs.Save(ctx, nil, sub); err != nil {
		return nil, err
	}
	metrics.IncSubscriptionCreated(plan.Name)
	u.events.Emit(ctx, model.EventSubscriptionCreated, sub)
	return sub, nil
}

func (u *subscriptionUC) Get(ctx context.Context, id string) (*model.Subscription, error) {
	return u.subs.FindByID(ctx, nil, id)
}

func (u *subscriptionUC) Cancel(ctx context.Context, id string, atPeriodEnd bool) (*model.Subscription, error) {
	var sub *model.Subscription
	var cancelled bool
	err := u.withSub(ctx, id, func(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
		now := u.now()
		if atPeriodEnd {
			if s.Status == model.SubscriptionStatusCancelled {
				return domain.ErrIllegalTransition
			}
			s.CancelAtPeriodEnd = true
			s.UpdatedAt = now
		} else {
			if err := s.Transition(model.SubscriptionStatusCancelled, now); err != nil {
				return err
			}
			cancelled = true
		}
		sub = s
		return u.subs.Save(ctx, tx, s)
	})
	if err != nil {
		return nil, err
	}
	if cancelled {
		u.events.Emit(ctx, model.EventSubscriptionCancelled, sub)
	}
	return sub, nil
}

func (u *subscriptionUC) Pause(ctx context.Context, id string, resumeAt *time.Time) (*model.Subscription, error) {
	var sub *model.Subscription
	err := u.withSub(ctx, id, func(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
		if err := s.Transition(model.SubscriptionStatusPaused, u.now()); err != nil {
			return err
		}
		s.ResumeAt = resumeAt
		sub = s
		return u.subs.Save(ctx, tx, s)
	})
	if err != nil {
		return nil, err
	}
	u.events.Emit(ctx, model.EventSubscriptionPaused, sub)
	return sub, nil
}

func (u *subscriptionUC) Resume(ctx context.Context, id string) (*model.Subscription, error) {
	var sub *model.Subscription
	err := u.withSub(ctx, id, func(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
		now := u.now()
		if err := s.Transition(model.SubscriptionStatusActive, now); err != nil {
			return err
		}
		plan, err := u.plans.FindVersion(ctx, tx, s.PlanID, s.PlanVersion)
		if err != nil {
			return err
		}
		// a fresh period starts at the resume instant
		s.CurrentPeriodStart = now
		s.CurrentPeriodEnd = plan.PeriodLength(now)
		s.ResumeAt = nil
		sub = s
		return u.subs.Save(ctx, tx, s)
	})
	if err != nil {
		return nil, err
	}
	u.events.Emit(ctx, model.EventSubscriptionResumed, sub)
	return sub, nil
}

func (u *subscriptionUC) ChangePlan(ctx context.Context, id, newPlanID string, immediate bool) (*model.Subscription, error) {
	var sub *model.Subscription
	err := u.withSub(ctx, id, func(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
		if s.Status == model.SubscriptionStatusCancelled {
			return domain.ErrIllegalTransition
		}
		plan, err := u.plans.FindByID(ctx, tx, newPlanID)
		if err != nil {
			return err
		}
		if !plan.Active {
			return domain.ErrInvalidArgument
		}
		now := u.now()
		if immediate {
			prevID, prevVersion := s.PlanID, s.PlanVersion
			s.PreviousPlanID = &prevID
			s.PreviousPlanVersion = prevVersion
			s.PlanChangedAt = &now
			s.PlanID = plan.ID
			s.PlanVersion = plan.Version
		} else {
			s.PendingPlanID = &plan.ID
			s.PendingPlanVersion = plan.Version
		}
		s.UpdatedAt = now
		sub = s
		return u.subs.Save(ctx, tx, s)
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// AdvancePeriod generates the closed period's invoice first (idempotent), so
// a crash between invoicing and rolling the boundaries leaves the system in a
// state the next sweep repairs.
func (u *subscriptionUC) AdvancePeriod(ctx context.Context, id string) (*model.Subscription, *model.Invoice, error) {
	sub, err := u.subs.FindByID(ctx, nil, id)
	if err != nil {
		return nil, nil, err
	}
	now := u.now()
	if sub.Status == model.SubscriptionStatusCancelled || sub.Status == model.SubscriptionStatusPaused {
		return sub, nil, nil
	}
	if now.Before(sub.CurrentPeriodEnd) {
		return sub, nil, nil
	}

	closedStart, closedEnd := sub.CurrentPeriodStart, sub.CurrentPeriodEnd

	// trial periods are never invoiced
	var inv *model.Invoice
	if sub.Status != model.SubscriptionStatusTrialing {
		inv, err = u.invoiceUC.Generate(ctx, sub.ID, closedStart, closedEnd)
		if err != nil {
			return nil, nil, err
		}
	}

	var out *model.Subscription
	var cancelled bool
	err = u.withSub(ctx, id, func(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
		if !s.CurrentPeriodEnd.Equal(closedEnd) {
			// a concurrent caller already advanced; nothing to do
			out = s
			return nil
		}
		now := u.now()
		if s.Status == model.SubscriptionStatusTrialing {
			if err := s.Transition(model.SubscriptionStatusActive, now); err != nil {
				return err
			}
		}
		if s.CancelAtPeriodEnd {
			if err := s.Transition(model.SubscriptionStatusCancelled, now); err != nil {
				return err
			}
			cancelled = true
			out = s
			return u.subs.Save(ctx, tx, s)
		}
		if s.PendingPlanID != nil {
			s.PlanID = *s.PendingPlanID
			s.PlanVersion = s.PendingPlanVersion
			s.PendingPlanID = nil
			s.PendingPlanVersion = 0
		}
		// the change is invoiced now; clear the proration markers
		s.PlanChangedAt = nil
		s.PreviousPlanID = nil
		s.PreviousPlanVersion = 0

		plan, err := u.plans.FindVersion(ctx, tx, s.PlanID, s.PlanVersion)
		if err != nil {
			return err
		}
		s.CurrentPeriodStart = closedEnd
		s.CurrentPeriodEnd = plan.PeriodLength(closedEnd)
		s.UpdatedAt = now
		out = s
		return u.subs.Save(ctx, tx, s)
	})
	if err != nil {
		return nil, nil, err
	}
	if cancelled {
		u.events.Emit(ctx, model.EventSubscriptionCancelled, out)
	}
	return out, inv, nil
}

func (u *subscriptionUC) RunBoundarySweep(ctx context.Context, limit int) (int, error) {
	now := u.now()

	resumable, err := u.subs.ListDueForResume(ctx, nil, now, limit)
	if err != nil {
		return 0, err
	}
	for _, s := range resumable {
		if _, err := u.Resume(ctx, s.ID); err != nil {
			u.log.Error().Err(err).Str("subscription_id", s.ID).Msg("scheduled resume failed")
		}
	}

	due, err := u.subs.ListDueForAdvance(ctx, nil, now, limit)
	if err != nil {
		return 0, err
	}
	var advanced int
	for _, s := range due {
		if _, _, err := u.AdvancePeriod(ctx, s.ID); err != nil {
			u.log.Error().Err(err).Str("subscription_id", s.ID).Msg("period advance failed")
			continue
		}
		advanced++
	}
	return advanced, nil
}

// withSub runs fn on a freshly loaded subscription inside a transaction,
// serialized per subscription via an advisory lock.
func (u *subscriptionUC) withSub(ctx context.Context, id string, fn func(ctx context.Context, tx repository.Tx, s *model.Subscription) error) error {
	return u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if px, ok := tx.(pgx.Tx); ok {
			if _, err := px.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", hashToInt64(id)); err != nil {
				return err
			}
		}
		s, err := u.subs.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		return fn(ctx, tx, s)
	})
}
