package model

import (
	"time"

	"subscription-billing/internal/domain"
)

type PricingMode string

const (
	PricingModeFlat      PricingMode = "flat"
	PricingModeMetered   PricingMode = "metered"
	PricingModeTiered    PricingMode = "tiered"
	PricingModeVolume    PricingMode = "volume"
	PricingModeGraduated PricingMode = "graduated"
)

type BillingInterval string

const (
	IntervalMonth BillingInterval = "month"
	IntervalYear  BillingInterval = "year"
)

// Tier is one slice of a usage price ladder. UpTo is the inclusive upper
// quantity bound; nil means unbounded (legal only on the last tier).
type Tier struct {
	UpTo       *int64
	UnitAmount int64 // minor units per unit of usage
}

// Meter is a metered item on a plan: usage recorded under Metric is priced
// with Mode over Tiers at invoice time.
type Meter struct {
	Metric string
	Mode   PricingMode
	Tiers  []Tier
}

// Plan is a purchasable billing plan. Amounts are integer minor units.
// Version is bumped on any pricing change; subscriptions pin the version they
// were created under, so editing a plan never rewrites past invoices.
type Plan struct {
	ID         string // UUID
	Name       string
	Interval   BillingInterval
	BaseAmount int64 // flat per-period charge
	Currency   string
	TrialDays  int
	Meters     []Meter
	Active     bool
	Version    int
	CreatedAt  time.Time
}

func (p *Plan) IsZero() bool { return p == nil || p.ID == "" }

// NewPlan validates and constructs a plan at version 1.
func NewPlan(id, name string, interval BillingInterval, baseAmount int64, currency string, trialDays int, meters []Meter) (*Plan, error) {
	if id == "" || name == "" || currency == "" || baseAmount < 0 || trialDays < 0 {
		return nil, domain.ErrInvalidArgument
	}
	if interval != IntervalMonth && interval != IntervalYear {
		return nil, domain.ErrInvalidArgument
	}
	for _, m := range meters {
		if err := ValidateTiers(m.Mode, m.Tiers); err != nil {
			return nil, err
		}
	}
	return &Plan{
		ID:         id,
		Name:       name,
		Interval:   interval,
		BaseAmount: baseAmount,
		Currency:   currency,
		TrialDays:  trialDays,
		Meters:     meters,
		Active:     true,
		Version:    1,
		CreatedAt:  time.Now(),
	}, nil
}

// ValidateTiers checks a tier ladder for a pricing mode: non-flat modes need
// at least one tier, bounds must be strictly ascending, and only the last
// tier may be unbounded.
func ValidateTiers(mode PricingMode, tiers []Tier) error {
	if mode == PricingModeFlat {
		return nil
	}
	switch mode {
	case PricingModeMetered, PricingModeTiered, PricingModeVolume, PricingModeGraduated:
	default:
		return domain.ErrInvalidArgument
	}
	if len(tiers) == 0 {
		return domain.ErrInvalidTierConfig
	}
	var prev int64
	for i, t := range tiers {
		if t.UnitAmount < 0 {
			return domain.ErrInvalidTierConfig
		}
		if t.UpTo == nil {
			if i != len(tiers)-1 {
				return domain.ErrInvalidTierConfig
			}
			continue
		}
		if *t.UpTo <= 0 || (i > 0 && *t.UpTo <= prev) {
			return domain.ErrInvalidTierConfig
		}
		prev = *t.UpTo
	}
	return nil
}

// PeriodLength returns the end of a billing period starting at from.
func (p *Plan) PeriodLength(from time.Time) time.Time {
	switch p.Interval {
	case IntervalYear:
		return from.AddDate(1, 0, 0)
	default:
		return from.AddDate(0, 1, 0)
	}
}
