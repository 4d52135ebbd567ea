package model

import (
	"time"

	"subscription-billing/internal/domain"
)

type DunningState string

const (
	DunningStateActive  DunningState = "active"
	DunningStateWarning DunningState = "warning"
	DunningStateBlocked DunningState = "blocked"
)

// Account is the billable party. DunningState escalates on exhausted payment
// schedules and relaxes once nothing is overdue.
type Account struct {
	ID           string // UUID
	Name         string
	Currency     string
	DunningState DunningState
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func NewAccount(id, name, currency string) (*Account, error) {
	if id == "" || name == "" || currency == "" {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &Account{
		ID:           id,
		Name:         name,
		Currency:     currency,
		DunningState: DunningStateActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Escalate moves the dunning state one notch toward blocked. First exhausted
// schedule yields a warning, the next one blocks the account.
func (a *Account) Escalate(now time.Time) {
	switch a.DunningState {
	case DunningStateActive:
		a.DunningState = DunningStateWarning
	case DunningStateWarning:
		a.DunningState = DunningStateBlocked
	}
	a.UpdatedAt = now
}

// Recover resets the dunning state once the account has no overdue invoices.
func (a *Account) Recover(now time.Time) {
	a.DunningState = DunningStateActive
	a.UpdatedAt = now
}
