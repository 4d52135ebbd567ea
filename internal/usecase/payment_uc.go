package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"subscription-billing/internal/domain"
	"subscription-billing/internal/domain/model"
	"subscription-billing/internal/domain/ports/adapter"
	"subscription-billing/internal/domain/ports/repository"
	"subscription-billing/internal/infra/metrics"
)

// MaxPaymentRetries is the engine-owned retry cap. It is declared exactly
// once; interfaces must not re-declare their own cap.
const MaxPaymentRetries = 4

// dunningOffsets are day offsets of scheduled retries measured from the
// first failure.
var dunningOffsets = [MaxPaymentRetries]int{3, 5, 7, 10}

// Compile-time check
var _ PaymentUseCase = (*paymentUC)(nil)

type PaymentUseCase interface {
	// Attempt drives one charge against an invoice. The idempotency key is
	// unique per attempt; submitting a key already seen returns the existing
	// attempt. Attempts for one invoice never run concurrently.
	Attempt(ctx context.Context, invoiceID, idempotencyKey string) (*model.Payment, error)
	// RunDueRetries executes scheduled retries whose time has arrived, each
	// under a fresh idempotency key. Safe to run concurrently with itself.
	RunDueRetries(ctx context.Context, limit int) (int, error)
	// ReconcileStalePending re-drives attempts stranded in pending, e.g. by a
	// crash between the claim and the recorded outcome. The gateway dedups on
	// the idempotency key, so replaying the stranded key never double-charges.
	ReconcileStalePending(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

type paymentUC struct {
	payments repository.PaymentRepository
	invoices repository.InvoiceRepository
	subs     repository.SubscriptionRepository
	accounts repository.AccountRepository
	gateway  adapter.PaymentGateway
	tm       repository.TransactionManager
	events   EventEmitter
	now      Clock
	log      *zerolog.Logger
}

func NewPaymentUseCase(
	payments repository.PaymentRepository,
	invoices repository.InvoiceRepository,
	subs repository.SubscriptionRepository,
	accounts repository.AccountRepository,
	gateway adapter.PaymentGateway,
	tm repository.TransactionManager,
	events EventEmitter,
	now Clock,
	logger *zerolog.Logger,
) *paymentUC {
	l := logger.With().Str("component", "PaymentUC").Logger()
	return &paymentUC{
		payments: payments, invoices: invoices, subs: subs, accounts: accounts,
		gateway: gateway, tm: tm, events: events, now: now, log: &l,
	}
}

func (u *paymentUC) Attempt(ctx context.Context, invoiceID, idempotencyKey string) (*model.Payment, error) {
	if invoiceID == "" || idempotencyKey == "" {
		return nil, domain.ErrInvalidArgument
	}

	// Phase 1: claim the attempt. The invoice row is locked for the duration
	// of this transaction only; the gateway is never called under a lock.
	var pay *model.Payment
	var inv *model.Invoice
	var dedup, zeroDue bool
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if existing, err := u.payments.FindByIdempotencyKey(ctx, tx, idempotencyKey); err == nil {
			pay = existing
			dedup = true
			return nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		var err error
		inv, err = u.invoices.FindByID(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Settled() {
			return domain.ErrInvoiceFinalized
		}

		now := u.now()
		amount := inv.AmountDue - inv.AmountPaid
		if amount <= 0 {
			amount = 0
			// credits covered everything; settle without touching the gateway
			if err := inv.Transition(model.InvoiceStatusPaid, now); err != nil {
				return err
			}
			if err := u.invoices.Update(ctx, tx, inv); err != nil {
				return err
			}
			zeroDue = true
		}

		var retryCount int
		var firstFailedAt *time.Time
		latest, err := u.payments.FindLatestByInvoice(ctx, tx, invoiceID)
		switch {
		case err == nil:
			if latest.Status == model.PaymentStatusPending {
				return domain.ErrPaymentInFlight
			}
			if latest.Status == model.PaymentStatusFailed {
				retryCount = latest.RetryCount + 1
				firstFailedAt = latest.FirstFailedAt
				if latest.NextRetryAt != nil {
					if err := u.payments.ClearScheduledRetry(ctx, tx, latest.ID); err != nil {
						return err
					}
				}
			}
		case errors.Is(err, domain.ErrNotFound):
		default:
			return err
		}

		pay, err = model.NewPayment(uuid.NewString(), inv, amount, idempotencyKey, now)
		if err != nil {
			return err
		}
		pay.RetryCount = retryCount
		pay.FirstFailedAt = firstFailedAt
		if zeroDue {
			if err := pay.Transition(model.PaymentStatusSucceeded, now); err != nil {
				return err
			}
		}
		if err := u.payments.Save(ctx, tx, pay); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				existing, ferr := u.payments.FindByIdempotencyKey(ctx, tx, idempotencyKey)
				if ferr != nil {
					return ferr
				}
				pay = existing
				dedup = true
				return nil
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if dedup {
		return pay, nil
	}
	if zeroDue {
		metrics.IncPayment(string(model.PaymentStatusSucceeded))
		u.events.Emit(ctx, model.EventPaymentSucceeded, pay)
		u.events.Emit(ctx, model.EventInvoicePaid, inv)
		return pay, nil
	}

	// Phase 2: gateway call, outside any transaction.
	ref, chargeErr := u.gateway.Charge(ctx, inv.AccountID, pay.Amount, pay.Currency, pay.IdempotencyKey, map[string]any{
		"invoice_id": inv.ID,
	})

	// Phase 3: record the outcome atomically with the invoice transition.
	return u.settleAttempt(ctx, pay.ID, ref, chargeErr)
}

func (u *paymentUC) settleAttempt(ctx context.Context, paymentID, ref string, chargeErr error) (*model.Payment, error) {
	var pay *model.Payment
	var pastDue bool
	var inv *model.Invoice
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		var err error
		pay, err = u.payments.FindByID(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		inv, err = u.invoices.FindByID(ctx, tx, pay.InvoiceID)
		if err != nil {
			return err
		}
		now := u.now()

		if chargeErr == nil {
			if err := pay.Transition(model.PaymentStatusSucceeded, now); err != nil {
				return err
			}
			pay.GatewayRef = ref
			if err := u.payments.Update(ctx, tx, pay); err != nil {
				return err
			}
			inv.AmountPaid += pay.Amount
			if err := inv.Transition(model.InvoiceStatusPaid, now); err != nil {
				return err
			}
			if err := u.invoices.Update(ctx, tx, inv); err != nil {
				return err
			}
			return u.recoverStanding(ctx, tx, inv, now)
		}

		if err := pay.Transition(model.PaymentStatusFailed, now); err != nil {
			return err
		}
		pay.LastError = chargeErr.Error()
		if pay.FirstFailedAt == nil {
			pay.FirstFailedAt = &now
		}

		retryable := true
		var ge *adapter.GatewayError
		if errors.As(chargeErr, &ge) {
			retryable = ge.Retryable
		}
		if retryable && pay.RetryCount < MaxPaymentRetries {
			next := pay.FirstFailedAt.AddDate(0, 0, dunningOffsets[pay.RetryCount])
			pay.NextRetryAt = &next
		} else {
			// schedule exhausted: invoice and subscription past_due, account
			// escalates
			if inv.Status != model.InvoiceStatusPastDue {
				if err := inv.Transition(model.InvoiceStatusPastDue, now); err != nil {
					return err
				}
				if err := u.invoices.Update(ctx, tx, inv); err != nil {
					return err
				}
				sub, err := u.subs.FindByID(ctx, tx, inv.SubscriptionID)
				if err != nil {
					return err
				}
				if sub.Status == model.SubscriptionStatusActive {
					if err := sub.Transition(model.SubscriptionStatusPastDue, now); err != nil {
						return err
					}
					if err := u.subs.Save(ctx, tx, sub); err != nil {
						return err
					}
				}
				acct, err := u.accounts.FindByID(ctx, tx, inv.AccountID)
				if err != nil {
					return err
				}
				acct.Escalate(now)
				if err := u.accounts.Save(ctx, tx, acct); err != nil {
					return err
				}
				metrics.IncDunningEscalation(string(acct.DunningState))
				pastDue = true
			}
		}
		return u.payments.Update(ctx, tx, pay)
	})
	if err != nil {
		return nil, err
	}

	if chargeErr == nil {
		metrics.IncPayment(string(model.PaymentStatusSucceeded))
		metrics.AddPaymentRevenue(pay.Currency, pay.Amount)
		u.events.Emit(ctx, model.EventPaymentSucceeded, pay)
		u.events.Emit(ctx, model.EventInvoicePaid, inv)
		u.log.Info().Str("payment_id", pay.ID).Str("invoice_id", pay.InvoiceID).Msg("payment succeeded")
	} else {
		metrics.IncPayment(string(model.PaymentStatusFailed))
		u.events.Emit(ctx, model.EventPaymentFailed, pay)
		if pastDue {
			u.events.Emit(ctx, model.EventInvoicePastDue, inv)
		}
		u.log.Warn().Str("payment_id", pay.ID).Str("invoice_id", pay.InvoiceID).
			Int("retry_count", pay.RetryCount).Msg("payment failed")
	}
	return pay, nil
}

// recoverStanding reverts a past_due subscription and relaxes the account
// dunning state once nothing else is overdue.
func (u *paymentUC) recoverStanding(ctx context.Context, tx repository.Tx, inv *model.Invoice, now time.Time) error {
	n, err := u.invoices.CountUnsettledByAccount(ctx, tx, inv.AccountID, inv.ID)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	sub, err := u.subs.FindByID(ctx, tx, inv.SubscriptionID)
	if err != nil {
		return err
	}
	if sub.Status == model.SubscriptionStatusPastDue {
		if err := sub.Transition(model.SubscriptionStatusActive, now); err != nil {
			return err
		}
		if err := u.subs.Save(ctx, tx, sub); err != nil {
			return err
		}
	}
	acct, err := u.accounts.FindByID(ctx, tx, inv.AccountID)
	if err != nil {
		return err
	}
	if acct.DunningState == model.DunningStateActive {
		return nil
	}
	acct.Recover(now)
	return u.accounts.Save(ctx, tx, acct)
}

func (u *paymentUC) RunDueRetries(ctx context.Context, limit int) (int, error) {
	due, err := u.payments.ListDueRetries(ctx, nil, u.now(), limit)
	if err != nil {
		return 0, err
	}
	var ran int
	for _, p := range due {
		// fresh key per retry, never a replay of the failed one
		if _, err := u.Attempt(ctx, p.InvoiceID, uuid.NewString()); err != nil {
			if errors.Is(err, domain.ErrPaymentInFlight) {
				continue
			}
			if errors.Is(err, domain.ErrInvoiceFinalized) {
				// invoice settled elsewhere; drop the stale schedule
				_ = u.payments.ClearScheduledRetry(ctx, nil, p.ID)
				continue
			}
			u.log.Error().Err(err).Str("invoice_id", p.InvoiceID).Msg("scheduled retry failed to run")
			continue
		}
		ran++
	}
	return ran, nil
}

func (u *paymentUC) ReconcileStalePending(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	stale, err := u.payments.ListStalePending(ctx, nil, u.now().Add(-olderThan), limit)
	if err != nil {
		return 0, err
	}
	var reconciled int
	for _, p := range stale {
		inv, err := u.invoices.FindByID(ctx, nil, p.InvoiceID)
		if err != nil {
			u.log.Error().Err(err).Str("payment_id", p.ID).Msg("stale attempt invoice lookup failed")
			continue
		}
		if inv.Settled() {
			// invoice settled elsewhere; the stranded attempt is moot
			if err := u.cancelAttempt(ctx, p.ID); err != nil {
				u.log.Error().Err(err).Str("payment_id", p.ID).Msg("stale attempt cancel failed")
				continue
			}
			reconciled++
			continue
		}
		// replay the original key: the gateway returns the prior outcome if
		// the charge already went through
		ref, chargeErr := u.gateway.Charge(ctx, inv.AccountID, p.Amount, p.Currency, p.IdempotencyKey, map[string]any{
			"invoice_id": inv.ID,
		})
		if _, err := u.settleAttempt(ctx, p.ID, ref, chargeErr); err != nil {
			u.log.Error().Err(err).Str("payment_id", p.ID).Msg("stale attempt settle failed")
			continue
		}
		u.log.Info().Str("payment_id", p.ID).Str("invoice_id", p.InvoiceID).Msg("stale pending attempt reconciled")
		reconciled++
	}
	return reconciled, nil
}

func (u *paymentUC) cancelAttempt(ctx context.Context, paymentID string) error {
	return u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		p, err := u.payments.FindByID(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if p.Status != model.PaymentStatusPending {
			return nil
		}
		if err := p.Transition(model.PaymentStatusCancelled, u.now()); err != nil {
			return err
		}
		return u.payments.Update(ctx, tx, p)
	})
}
