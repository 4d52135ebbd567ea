//go:build !integration

package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"subscription-billing/internal/domain"
	"subscription-billing/internal/domain/model"
	"subscription-billing/internal/domain/ports/adapter"
)

type paymentDeps struct {
	payments *memPaymentRepo
	invoices *memInvoiceRepo
	subs     *memSubscriptionRepo
	accounts *memAccountRepo
	gateway  *mockGateway
	events   *recorderEmitter
	clock    *fakeClock
	uc       *paymentUC
}

func newPaymentDeps(t *testing.T) *paymentDeps {
	t.Helper()
	d := &paymentDeps{
		payments: newMemPaymentRepo(),
		invoices: newMemInvoiceRepo(),
		subs:     newMemSubscriptionRepo(),
		accounts: newMemAccountRepo(),
		gateway:  &mockGateway{},
		events:   &recorderEmitter{},
		clock:    newFakeClock(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)),
	}
	seedAccount(t, d.accounts, "acct-1")
	if err := d.subs.Save(context.Background(), nil, activeSub("plan-1", 1)); err != nil {
		t.Fatalf("save subscription: %v", err)
	}
	d.uc = NewPaymentUseCase(d.payments, d.invoices, d.subs, d.accounts, d.gateway,
		memTxManager{}, d.events, d.clock.Now, newTestLogger())
	return d
}

func (d *paymentDeps) seedOpenInvoice(t *testing.T, id string, amountDue int64) *model.Invoice {
	t.Helper()
	now := d.clock.Now()
	inv, err := model.NewInvoice(id, "acct-1", "sub-1", "usd", now.AddDate(0, -1, 0), now, now)
	if err != nil {
		t.Fatalf("new invoice: %v", err)
	}
	inv.AmountDue = amountDue
	if err := inv.Transition(model.InvoiceStatusOpen, now); err != nil {
		t.Fatalf("open invoice: %v", err)
	}
	if err := d.invoices.Save(context.Background(), nil, inv); err != nil {
		t.Fatalf("save invoice: %v", err)
	}
	return inv
}

func declined(retryable bool) error {
	return &adapter.GatewayError{Code: "card_declined", Message: "declined", Retryable: retryable}
}

func TestPaymentUseCase_Attempt(t *testing.T) {
	ctx := context.Background()

	t.Run("success settles the invoice", func(t *testing.T) {
		d := newPaymentDeps(t)
		d.seedOpenInvoice(t, "inv-1", 1000)

		pay, err := d.uc.Attempt(ctx, "inv-1", "key-1")
		if err != nil {
			t.Fatalf("attempt: %v", err)
		}
		if pay.Status != model.PaymentStatusSucceeded || pay.GatewayRef == "" {
			t.Fatalf("unexpected payment: %+v", pay)
		}
		inv, _ := d.invoices.FindByID(ctx, nil, "inv-1")
		if inv.Status != model.InvoiceStatusPaid || inv.AmountPaid != 1000 {
			t.Fatalf("invoice not settled: %+v", inv)
		}
		if !d.events.has(model.EventPaymentSucceeded) || !d.events.has(model.EventInvoicePaid) {
			t.Fatal("success events not emitted")
		}
	})

	t.Run("same idempotency key returns the existing attempt", func(t *testing.T) {
		d := newPaymentDeps(t)
		d.seedOpenInvoice(t, "inv-1", 1000)

		first, err := d.uc.Attempt(ctx, "inv-1", "key-1")
		if err != nil {
			t.Fatalf("attempt: %v", err)
		}
		again, err := d.uc.Attempt(ctx, "inv-1", "key-1")
		if err != nil {
			t.Fatalf("repeat attempt: %v", err)
		}
		if first.ID != again.ID {
			t.Fatalf("duplicate payment row: %s vs %s", first.ID, again.ID)
		}
		if len(d.gateway.calls) != 1 {
			t.Fatalf("gateway called %d times, want 1", len(d.gateway.calls))
		}
	})

	t.Run("settled invoice rejects further attempts", func(t *testing.T) {
		d := newPaymentDeps(t)
		d.seedOpenInvoice(t, "inv-1", 1000)
		if _, err := d.uc.Attempt(ctx, "inv-1", "key-1"); err != nil {
			t.Fatalf("attempt: %v", err)
		}
		if _, err := d.uc.Attempt(ctx, "inv-1", "key-2"); !errors.Is(err, domain.ErrInvoiceFinalized) {
			t.Fatalf("want ErrInvoiceFinalized, got %v", err)
		}
	})

	t.Run("fully credited invoice settles without the gateway", func(t *testing.T) {
		d := newPaymentDeps(t)
		d.seedOpenInvoice(t, "inv-1", 0)

		pay, err := d.uc.Attempt(ctx, "inv-1", "key-1")
		if err != nil {
			t.Fatalf("attempt: %v", err)
		}
		if pay.Status != model.PaymentStatusSucceeded || pay.Amount != 0 {
			t.Fatalf("unexpected payment: %+v", pay)
		}
		if len(d.gateway.calls) != 0 {
			t.Fatal("gateway must not be called for a zero balance")
		}
		inv, _ := d.invoices.FindByID(ctx, nil, "inv-1")
		if inv.Status != model.InvoiceStatusPaid {
			t.Fatalf("invoice status = %s, want paid", inv.Status)
		}
		if !d.events.has(model.EventPaymentSucceeded) || !d.events.has(model.EventInvoicePaid) {
			t.Fatal("zero-balance settlement must emit both success events")
		}
	})

	t.Run("retryable failure schedules day 3 from first failure", func(t *testing.T) {
		d := newPaymentDeps(t)
		d.seedOpenInvoice(t, "inv-1", 1000)
		d.gateway.chargeFn = func(string) (string, error) { return "", declined(true) }

		failedAt := d.clock.Now()
		pay, err := d.uc.Attempt(ctx, "inv-1", "key-1")
		if err != nil {
			t.Fatalf("attempt: %v", err)
		}
		if pay.Status != model.PaymentStatusFailed {
			t.Fatalf("status = %s, want failed", pay.Status)
		}
		if pay.NextRetryAt == nil || !pay.NextRetryAt.Equal(failedAt.AddDate(0, 0, 3)) {
			t.Fatalf("next retry = %v, want day 3", pay.NextRetryAt)
		}
		if !d.events.has(model.EventPaymentFailed) {
			t.Fatal("payment.failed not emitted")
		}
	})

	t.Run("non-retryable failure exhausts immediately", func(t *testing.T) {
		d := newPaymentDeps(t)
		d.seedOpenInvoice(t, "inv-1", 1000)
		d.gateway.chargeFn = func(string) (string, error) { return "", declined(false) }

		pay, err := d.uc.Attempt(ctx, "inv-1", "key-1")
		if err != nil {
			t.Fatalf("attempt: %v", err)
		}
		if pay.NextRetryAt != nil {
			t.Fatal("hard decline must not schedule a retry")
		}
		inv, _ := d.invoices.FindByID(ctx, nil, "inv-1")
		if inv.Status != model.InvoiceStatusPastDue {
			t.Fatalf("invoice status = %s, want past_due", inv.Status)
		}
		acct, _ := d.accounts.FindByID(ctx, nil, "acct-1")
		if acct.DunningState != model.DunningStateWarning {
			t.Fatalf("dunning state = %s, want warning", acct.DunningState)
		}
		sub, _ := d.subs.FindByID(ctx, nil, "sub-1")
		if sub.Status != model.SubscriptionStatusPastDue {
			t.Fatalf("subscription status = %s, want past_due", sub.Status)
		}
		if !d.events.has(model.EventInvoicePastDue) {
			t.Fatal("invoice.past_due not emitted")
		}
	})
}

func TestPaymentUseCase_DunningSchedule(t *testing.T) {
	ctx := context.Background()
	d := newPaymentDeps(t)
	d.seedOpenInvoice(t, "inv-1", 1000)
	d.gateway.chargeFn = func(string) (string, error) { return "", declined(true) }

	firstFailure := d.clock.Now()
	if _, err := d.uc.Attempt(ctx, "inv-1", "key-1"); err != nil {
		t.Fatalf("initial attempt: %v", err)
	}

	// the full schedule: retries at days 3, 5, 7, 10 after the first failure
	for i, day := range []int{3, 5, 7, 10} {
		d.clock.Set(firstFailure.AddDate(0, 0, day))
		n, err := d.uc.RunDueRetries(ctx, 10)
		if err != nil {
			t.Fatalf("retry sweep %d: %v", i, err)
		}
		if n != 1 {
			t.Fatalf("sweep %d ran %d retries, want 1", i, n)
		}
	}

	latest, err := d.payments.FindLatestByInvoice(ctx, nil, "inv-1")
	if err != nil {
		t.Fatalf("latest payment: %v", err)
	}
	if latest.RetryCount != MaxPaymentRetries {
		t.Fatalf("retry count = %d, want %d", latest.RetryCount, MaxPaymentRetries)
	}
	if latest.NextRetryAt != nil {
		t.Fatal("exhausted schedule must not leave a pending retry")
	}
	if latest.FirstFailedAt == nil || !latest.FirstFailedAt.Equal(firstFailure) {
		t.Fatalf("first failure anchor lost: %v", latest.FirstFailedAt)
	}

	inv, _ := d.invoices.FindByID(ctx, nil, "inv-1")
	if inv.Status != model.InvoiceStatusPastDue {
		t.Fatalf("invoice status = %s, want past_due", inv.Status)
	}
	acct, _ := d.accounts.FindByID(ctx, nil, "acct-1")
	if acct.DunningState != model.DunningStateWarning {
		t.Fatalf("dunning state = %s, want warning", acct.DunningState)
	}
	sub, _ := d.subs.FindByID(ctx, nil, "sub-1")
	if sub.Status != model.SubscriptionStatusPastDue {
		t.Fatalf("subscription status = %s, want past_due", sub.Status)
	}

	// a later sweep finds nothing to do
	d.clock.Advance(24 * time.Hour)
	n, err := d.uc.RunDueRetries(ctx, 10)
	if err != nil {
		t.Fatalf("final sweep: %v", err)
	}
	if n != 0 {
		t.Fatalf("exhausted invoice retried %d times", n)
	}
}

func TestPaymentUseCase_RetrySuccessCancelsSchedule(t *testing.T) {
	ctx := context.Background()
	d := newPaymentDeps(t)
	d.seedOpenInvoice(t, "inv-1", 1000)

	fail := true
	d.gateway.chargeFn = func(string) (string, error) {
		if fail {
			return "", declined(true)
		}
		return "ref-ok", nil
	}

	firstFailure := d.clock.Now()
	if _, err := d.uc.Attempt(ctx, "inv-1", "key-1"); err != nil {
		t.Fatalf("initial attempt: %v", err)
	}

	fail = false
	d.clock.Set(firstFailure.AddDate(0, 0, 3))
	n, err := d.uc.RunDueRetries(ctx, 10)
	if err != nil {
		t.Fatalf("retry sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("ran %d retries, want 1", n)
	}

	inv, _ := d.invoices.FindByID(ctx, nil, "inv-1")
	if inv.Status != model.InvoiceStatusPaid {
		t.Fatalf("invoice status = %s, want paid", inv.Status)
	}
	latest, _ := d.payments.FindLatestByInvoice(ctx, nil, "inv-1")
	if latest.Status != model.PaymentStatusSucceeded || latest.NextRetryAt != nil {
		t.Fatalf("unexpected latest payment: %+v", latest)
	}
	// account stays relaxed; nothing else is overdue
	acct, _ := d.accounts.FindByID(ctx, nil, "acct-1")
	if acct.DunningState != model.DunningStateActive {
		t.Fatalf("dunning state = %s, want active", acct.DunningState)
	}

	// the stale schedule on the failed attempt was cleared
	d.clock.Set(firstFailure.AddDate(0, 0, 30))
	n, err = d.uc.RunDueRetries(ctx, 10)
	if err != nil {
		t.Fatalf("final sweep: %v", err)
	}
	if n != 0 {
		t.Fatalf("paid invoice retried %d times", n)
	}
}

func TestPaymentUseCase_RecoveryAfterEscalation(t *testing.T) {
	ctx := context.Background()
	d := newPaymentDeps(t)
	d.seedOpenInvoice(t, "inv-1", 1000)
	d.gateway.chargeFn = func(string) (string, error) { return "", declined(false) }

	if _, err := d.uc.Attempt(ctx, "inv-1", "key-1"); err != nil {
		t.Fatalf("attempt: %v", err)
	}
	acct, _ := d.accounts.FindByID(ctx, nil, "acct-1")
	if acct.DunningState != model.DunningStateWarning {
		t.Fatalf("dunning state = %s, want warning", acct.DunningState)
	}
	sub, _ := d.subs.FindByID(ctx, nil, "sub-1")
	if sub.Status != model.SubscriptionStatusPastDue {
		t.Fatalf("subscription status = %s, want past_due", sub.Status)
	}

	// paying the past_due invoice recovers both subscription and account
	d.gateway.chargeFn = nil
	if _, err := d.uc.Attempt(ctx, "inv-1", "key-2"); err != nil {
		t.Fatalf("recovery attempt: %v", err)
	}
	inv, _ := d.invoices.FindByID(ctx, nil, "inv-1")
	if inv.Status != model.InvoiceStatusPaid {
		t.Fatalf("invoice status = %s, want paid", inv.Status)
	}
	sub, _ = d.subs.FindByID(ctx, nil, "sub-1")
	if sub.Status != model.SubscriptionStatusActive {
		t.Fatalf("subscription status = %s, want active", sub.Status)
	}
	acct, _ = d.accounts.FindByID(ctx, nil, "acct-1")
	if acct.DunningState != model.DunningStateActive {
		t.Fatalf("dunning state = %s, want active", acct.DunningState)
	}
}

// seedPendingAttempt plants an attempt stuck in pending, as left behind by a
// crash between the claim and the recorded gateway outcome.
func (d *paymentDeps) seedPendingAttempt(t *testing.T, inv *model.Invoice, id, key string) *model.Payment {
	t.Helper()
	pay, err := model.NewPayment(id, inv, inv.AmountDue-inv.AmountPaid, key, d.clock.Now())
	if err != nil {
		t.Fatalf("new payment: %v", err)
	}
	if err := d.payments.Save(context.Background(), nil, pay); err != nil {
		t.Fatalf("save payment: %v", err)
	}
	return pay
}

func TestPaymentUseCase_ReconcileStalePending(t *testing.T) {
	ctx := context.Background()

	t.Run("replays the stranded key and settles the invoice", func(t *testing.T) {
		d := newPaymentDeps(t)
		inv := d.seedOpenInvoice(t, "inv-1", 1000)
		d.seedPendingAttempt(t, inv, "pay-1", "key-1")

		// until reconciled, the stranded row blocks every fresh attempt
		if _, err := d.uc.Attempt(ctx, "inv-1", "key-2"); !errors.Is(err, domain.ErrPaymentInFlight) {
			t.Fatalf("want ErrPaymentInFlight, got %v", err)
		}

		d.clock.Advance(30 * time.Minute)
		n, err := d.uc.ReconcileStalePending(ctx, 15*time.Minute, 10)
		if err != nil {
			t.Fatalf("reconcile: %v", err)
		}
		if n != 1 {
			t.Fatalf("reconciled %d attempts, want 1", n)
		}
		if len(d.gateway.calls) != 1 || d.gateway.calls[0] != "key-1" {
			t.Fatalf("gateway must see the original key exactly once, got %v", d.gateway.calls)
		}
		pay, _ := d.payments.FindByID(ctx, nil, "pay-1")
		if pay.Status != model.PaymentStatusSucceeded {
			t.Fatalf("payment status = %s, want succeeded", pay.Status)
		}
		inv, _ = d.invoices.FindByID(ctx, nil, "inv-1")
		if inv.Status != model.InvoiceStatusPaid || inv.AmountPaid != 1000 {
			t.Fatalf("invoice not settled: %+v", inv)
		}
	})

	t.Run("failed replay enters the retry schedule", func(t *testing.T) {
		d := newPaymentDeps(t)
		inv := d.seedOpenInvoice(t, "inv-1", 1000)
		d.seedPendingAttempt(t, inv, "pay-1", "key-1")
		d.gateway.chargeFn = func(string) (string, error) { return "", declined(true) }

		d.clock.Advance(30 * time.Minute)
		failedAt := d.clock.Now()
		if _, err := d.uc.ReconcileStalePending(ctx, 15*time.Minute, 10); err != nil {
			t.Fatalf("reconcile: %v", err)
		}
		pay, _ := d.payments.FindByID(ctx, nil, "pay-1")
		if pay.Status != model.PaymentStatusFailed {
			t.Fatalf("payment status = %s, want failed", pay.Status)
		}
		if pay.NextRetryAt == nil || !pay.NextRetryAt.Equal(failedAt.AddDate(0, 0, 3)) {
			t.Fatalf("next retry = %v, want day 3", pay.NextRetryAt)
		}
	})

	t.Run("cancels the attempt when the invoice settled elsewhere", func(t *testing.T) {
		d := newPaymentDeps(t)
		inv := d.seedOpenInvoice(t, "inv-1", 1000)
		d.seedPendingAttempt(t, inv, "pay-1", "key-1")

		if err := inv.Transition(model.InvoiceStatusVoid, d.clock.Now()); err != nil {
			t.Fatalf("void invoice: %v", err)
		}
		if err := d.invoices.Update(ctx, nil, inv); err != nil {
			t.Fatalf("update invoice: %v", err)
		}

		d.clock.Advance(30 * time.Minute)
		n, err := d.uc.ReconcileStalePending(ctx, 15*time.Minute, 10)
		if err != nil {
			t.Fatalf("reconcile: %v", err)
		}
		if n != 1 {
			t.Fatalf("reconciled %d attempts, want 1", n)
		}
		if len(d.gateway.calls) != 0 {
			t.Fatal("gateway must not be called for a settled invoice")
		}
		pay, _ := d.payments.FindByID(ctx, nil, "pay-1")
		if pay.Status != model.PaymentStatusCancelled {
			t.Fatalf("payment status = %s, want cancelled", pay.Status)
		}
	})

	t.Run("leaves fresh pending attempts alone", func(t *testing.T) {
		d := newPaymentDeps(t)
		inv := d.seedOpenInvoice(t, "inv-1", 1000)
		d.seedPendingAttempt(t, inv, "pay-1", "key-1")

		d.clock.Advance(5 * time.Minute)
		n, err := d.uc.ReconcileStalePending(ctx, 15*time.Minute, 10)
		if err != nil {
			t.Fatalf("reconcile: %v", err)
		}
		if n != 0 {
			t.Fatalf("reconciled %d attempts, want 0", n)
		}
		pay, _ := d.payments.FindByID(ctx, nil, "pay-1")
		if pay.Status != model.PaymentStatusPending {
			t.Fatalf("payment status = %s, want pending", pay.Status)
		}
	})
}
