package usecase

import (
	"subscription-billing/internal/domain"
	"subscription-billing/internal/domain/model"
)

// PricingResolver turns a pricing mode, a tier ladder, and an aggregated
// quantity into a charge in minor units. It is pure computation.
type PricingResolver struct{}

// Resolve computes the charge for quantity under the given mode.
//
// flat: baseAmount regardless of quantity.
// metered/tiered/graduated: quantity is partitioned across ascending tier
// bounds and each slice is priced at its tier's unit amount.
// volume: the single tier matching the total quantity prices the entire
// quantity.
func (PricingResolver) Resolve(mode model.PricingMode, baseAmount int64, tiers []model.Tier, quantity int64) (int64, error) {
	if quantity < 0 {
		return 0, domain.ErrInvalidArgument
	}
	if mode == model.PricingModeFlat {
		return baseAmount, nil
	}
	if err := model.ValidateTiers(mode, tiers); err != nil {
		return 0, err
	}
	if mode == model.PricingModeVolume {
		return volumePrice(tiers, quantity), nil
	}
	return graduatedPrice(tiers, quantity), nil
}

func graduatedPrice(tiers []model.Tier, quantity int64) int64 {
	var total int64
	var prev int64
	for _, t := range tiers {
		if quantity <= prev {
			break
		}
		upper := quantity
		if t.UpTo != nil && *t.UpTo < upper {
			upper = *t.UpTo
		}
		total += (upper - prev) * t.UnitAmount
		prev = upper
	}
	return total
}

func volumePrice(tiers []model.Tier, quantity int64) int64 {
	for _, t := range tiers {
		if t.UpTo == nil || quantity <= *t.UpTo {
			return quantity * t.UnitAmount
		}
	}
	// quantity beyond the last bounded tier: last tier prices it
	return quantity * tiers[len(tiers)-1].UnitAmount
}
