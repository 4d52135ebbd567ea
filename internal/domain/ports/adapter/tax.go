package adapter

import "context"

// TaxCalculator is an opaque collaborator computing tax (minor units) on a
// taxable subtotal.
type TaxCalculator interface {
	Calculate(ctx context.Context, accountID string, taxable int64, currency string) (int64, error)
}

// FlatRateTax charges a fixed rate in basis points.
type FlatRateTax struct {
	RateBps int64
}

func (t FlatRateTax) Calculate(_ context.Context, _ string, taxable int64, _ string) (int64, error) {
	if taxable <= 0 || t.RateBps <= 0 {
		return 0, nil
	}
	// round half up
	return (taxable*t.RateBps + 5000) / 10000, nil
}

// NoopTax charges no tax.
type NoopTax struct{}

func (NoopTax) Calculate(context.Context, string, int64, string) (int64, error) { return 0, nil }
