package model

import (
	"time"

	"subscription-billing/internal/domain"
)

type SubscriptionStatus string

const (
	SubscriptionStatusTrialing  SubscriptionStatus = "trialing"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusPastDue   SubscriptionStatus = "past_due"
	SubscriptionStatusPaused    SubscriptionStatus = "paused"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// subscriptionTransitions is the single source of truth for legal lifecycle
// moves. Cancelled is terminal.
var subscriptionTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionStatusTrialing:  {SubscriptionStatusActive, SubscriptionStatusPaused, SubscriptionStatusCancelled},
	SubscriptionStatusActive:    {SubscriptionStatusPastDue, SubscriptionStatusPaused, SubscriptionStatusCancelled},
	SubscriptionStatusPastDue:   {SubscriptionStatusActive, SubscriptionStatusCancelled},
	SubscriptionStatusPaused:    {SubscriptionStatusActive, SubscriptionStatusCancelled},
	SubscriptionStatusCancelled: {},
}

func (s SubscriptionStatus) CanTransition(to SubscriptionStatus) bool {
	for _, t := range subscriptionTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// Subscription binds an account to a plan version for repeating periods.
// Exactly one period is current at any time; status transitions are the only
// path to moving the period boundaries.
type Subscription struct {
	ID          string // UUID
	AccountID   string // UUID
	PlanID      string // UUID
	PlanVersion int    // pinned at creation / plan change
	Quantity    int64
	Status      SubscriptionStatus

	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time

	// Pending plan change, applied at the next period boundary.
	PendingPlanID      *string
	PendingPlanVersion int

	// Immediate mid-period plan change bookkeeping for proration. Cleared
	// when the period containing the change is invoiced.
	PlanChangedAt       *time.Time
	PreviousPlanID      *string
	PreviousPlanVersion int

	CancelAtPeriodEnd bool
	TrialEnd          *time.Time
	ResumeAt          *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewSubscription starts a subscription on a plan. With a trial the first
// period runs to the trial end and is never invoiced; otherwise the first
// billing period starts immediately.
func NewSubscription(id, accountID string, plan *Plan, quantity int64, now time.Time) (*Subscription, error) {
	if id == "" || accountID == "" || plan.IsZero() || quantity <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	s := &Subscription{
		ID:          id,
		AccountID:   accountID,
		PlanID:      plan.ID,
		PlanVersion: plan.Version,
		Quantity:    quantity,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if plan.TrialDays > 0 {
		end := now.AddDate(0, 0, plan.TrialDays)
		s.Status = SubscriptionStatusTrialing
		s.TrialEnd = &end
		s.CurrentPeriodStart = now
		s.CurrentPeriodEnd = end
	} else {
		s.Status = SubscriptionStatusActive
		s.CurrentPeriodStart = now
		s.CurrentPeriodEnd = plan.PeriodLength(now)
	}
	return s, nil
}

// Transition moves the subscription to a new status, rejecting moves not in
// the transition table.
func (s *Subscription) Transition(to SubscriptionStatus, now time.Time) error {
	if !s.Status.CanTransition(to) {
		return domain.ErrIllegalTransition
	}
	s.Status = to
	s.UpdatedAt = now
	return nil
}

// InTrial reports whether the subscription is still inside its trial window.
func (s *Subscription) InTrial(now time.Time) bool {
	return s.Status == SubscriptionStatusTrialing && s.TrialEnd != nil && now.Before(*s.TrialEnd)
}
