package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"subscription-billing/internal/domain"
	"subscription-billing/internal/domain/model"
	"subscription-billing/internal/domain/ports/repository"
)

// Compile-time check
var _ CreditUseCase = (*creditUC)(nil)

type CreditUseCase interface {
	Create(ctx context.Context, accountID string, amount int64, currency, reason string, expiresAt *time.Time) (*model.Credit, error)
	// ApplyToInvoice spends applicable credits FIFO against the invoice's
	// amount_due, appending one credit line per consumed credit. It must be
	// called inside the invoice generation transaction so selection and
	// binding are atomic with invoice finalization.
	ApplyToInvoice(ctx context.Context, tx repository.Tx, inv *model.Invoice, now time.Time) error
}

type creditUC struct {
	credits  repository.CreditRepository
	accounts repository.AccountRepository
	now      Clock
	log      *zerolog.Logger
}

func NewCreditUseCase(credits repository.CreditRepository, accounts repository.AccountRepository, now Clock, logger *zerolog.Logger) *creditUC {
	l := logger.With().Str("component", "CreditUC").Logger()
	return &creditUC{credits: credits, accounts: accounts, now: now, log: &l}
}

func (u *creditUC) Create(ctx context.Context, accountID string, amount int64, currency, reason string, expiresAt *time.Time) (*model.Credit, error) {
	if _, err := u.accounts.FindByID(ctx, nil, accountID); err != nil {
		return nil, err
	}
	c, err := model.NewCredit(uuid.NewString(), accountID, amount, currency, reason, expiresAt, u.now())
	if err != nil {
		return nil, err
	}
	if err := u.credits.Save(ctx, nil, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (u *creditUC) ApplyToInvoice(ctx context.Context, tx repository.Tx, inv *model.Invoice, now time.Time) error {
	if inv.AmountDue <= 0 {
		return nil
	}
	applicable, err := u.credits.ListApplicable(ctx, tx, inv.AccountID, now)
	if err != nil {
		return err
	}
	for _, c := range applicable {
		if inv.AmountDue <= 0 {
			break
		}
		if c.Currency != inv.Currency {
			continue
		}
		applied := c.Amount
		if applied > inv.AmountDue {
			// truncate to the remaining balance; the credit is still bound
			// whole, its amount is never split across invoices
			applied = inv.AmountDue
		}
		if err := u.credits.MarkApplied(ctx, tx, c.ID, inv.ID, applied, now); err != nil {
			return err
		}
		inv.Lines = append(inv.Lines, model.LineItem{
			Type:        model.LineItemCredit,
			Description: fmt.Sprintf("credit %s", c.ID),
			Quantity:    1,
			Amount:      -applied,
		})
		inv.AmountDue -= applied
	}
	if inv.AmountDue < 0 {
		return domain.ErrInvalidArgument
	}
	return nil
}
