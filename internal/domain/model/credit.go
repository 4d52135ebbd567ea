package model

import (
	"time"

	"subscription-billing/internal/domain"
)

// Credit is a positive account balance applied FIFO against invoices.
// Once applied it is bound to exactly one invoice; AppliedAmount records how
// much was actually deducted (the final credit on an invoice may be applied
// only partially, the remainder is forfeited rather than split).
type Credit struct {
	ID            string // UUID
	AccountID     string // UUID
	Amount        int64  // > 0, minor units
	Currency      string
	Reason        string
	ExpiresAt     *time.Time
	AppliedTo     *string // invoice UUID once applied
	AppliedAmount int64
	AppliedAt     *time.Time
	CreatedAt     time.Time
}

func NewCredit(id, accountID string, amount int64, currency, reason string, expiresAt *time.Time, now time.Time) (*Credit, error) {
	if id == "" || accountID == "" || currency == "" || amount <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	return &Credit{
		ID:        id,
		AccountID: accountID,
		Amount:    amount,
		Currency:  currency,
		Reason:    reason,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}, nil
}

// Applicable reports whether the credit can still be spent at now.
func (c *Credit) Applicable(now time.Time) bool {
	if c.AppliedTo != nil {
		return false
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return false
	}
	return true
}
