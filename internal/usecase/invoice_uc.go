package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
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

// Compile-time check
var _ InvoiceUseCase = (*invoiceUC)(nil)

type InvoiceUseCase interface {
	// Generate assembles the invoice for one closed (subscription, period)
	// pair. Exactly-once: a second call for the same pair returns the
	// existing invoice, never a duplicate.
	Generate(ctx context.Context, subscriptionID string, periodStart, periodEnd time.Time) (*model.Invoice, error)
	// Void cancels an invoice from draft or open.
	Void(ctx context.Context, invoiceID, reason string) (*model.Invoice, error)
	Get(ctx context.Context, invoiceID string) (*model.Invoice, error)
}

type invoiceUC struct {
	invoices repository.InvoiceRepository
	subs     repository.SubscriptionRepository
	plans    repository.PlanRepository
	usage    repository.UsageRepository
	credits  CreditUseCase
	pricing  PricingResolver
	tax      adapter.TaxCalculator
	tm       repository.TransactionManager
	locker   Locker // optional
	events   EventEmitter
	now      Clock
	log      *zerolog.Logger
}

func NewInvoiceUseCase(
	invoices repository.InvoiceRepository,
	subs repository.SubscriptionRepository,
	plans repository.PlanRepository,
	usage repository.UsageRepository,
	credits CreditUseCase,
	tax adapter.TaxCalculator,
	tm repository.TransactionManager,
	locker Locker,
	events EventEmitter,
	now Clock,
	logger *zerolog.Logger,
) *invoiceUC {
	l := logger.With().Str("component", "InvoiceUC").Logger()
	return &invoiceUC{
		invoices: invoices, subs: subs, plans: plans, usage: usage,
		credits: credits, tax: tax, tm: tm, locker: locker,
		events: events, now: now, log: &l,
	}
}

func (u *invoiceUC) Generate(ctx context.Context, subscriptionID string, periodStart, periodEnd time.Time) (*model.Invoice, error) {
	if subscriptionID == "" || !periodEnd.After(periodStart) {
		return nil, domain.ErrInvalidArgument
	}

	// Best-effort fast path lock; the unique (subscription, period_start)
	// constraint below is the authoritative guard.
	if u.locker != nil {
		key := fmt.Sprintf("invoice:%s:%d", subscriptionID, periodStart.Unix())
		if token, err := u.locker.TryLock(ctx, key, 30*time.Second); err == nil {
			defer func() { _ = u.locker.Unlock(ctx, key, token) }()
		}
	}

	var result *model.Invoice
	var created bool
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		// serialize per subscription
		if px, ok := tx.(pgx.Tx); ok {
			if _, err := px.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", hashToInt64(subscriptionID)); err != nil {
				return err
			}
		}

		existing, err := u.invoices.FindBySubscriptionPeriod(ctx, tx, subscriptionID, periodStart)
		if err == nil {
			result = existing
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		sub, err := u.subs.FindByID(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		plan, err := u.plans.FindVersion(ctx, tx, sub.PlanID, sub.PlanVersion)
		if err != nil {
			return err
		}

		now := u.now()
		inv, err := model.NewInvoice(uuid.NewString(), sub.AccountID, sub.ID, plan.Currency, periodStart, periodEnd, now)
		if err != nil {
			return err
		}

		if err := u.baseLines(ctx, tx, sub, plan, inv); err != nil {
			return err
		}
		if err := u.usageLines(ctx, tx, sub, plan, inv, periodStart, periodEnd); err != nil {
			return err
		}

		subtotal := inv.Subtotal()
		taxAmount, err := u.tax.Calculate(ctx, sub.AccountID, subtotal, inv.Currency)
		if err != nil {
			return err
		}
		inv.Tax = taxAmount
		inv.AmountDue = subtotal + taxAmount

		// credit selection and binding is atomic with finalization
		if err := u.credits.ApplyToInvoice(ctx, tx, inv, now); err != nil {
			return err
		}

		if err := inv.Transition(model.InvoiceStatusOpen, now); err != nil {
			return err
		}
		if err := u.invoices.Save(ctx, tx, inv); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				// lost the race; return the winner
				winner, ferr := u.invoices.FindBySubscriptionPeriod(ctx, tx, subscriptionID, periodStart)
				if ferr != nil {
					return ferr
				}
				result = winner
				return nil
			}
			return err
		}
		result = inv
		created = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if created {
		metrics.IncInvoiceGenerated(result.Currency, result.AmountDue)
		u.events.Emit(ctx, model.EventInvoiceCreated, result)
		u.log.Info().Str("invoice_id", result.ID).Str("subscription_id", subscriptionID).
			Int64("amount_due", result.AmountDue).Msg("invoice generated")
	}
	return result, nil
}

// baseLines appends the subscription charge. A mid-period immediate plan
// change splits the charge into two prorated slices by elapsed days, with the
// rounding remainder assigned to the first line so totals stay exact.
func (u *invoiceUC) baseLines(ctx context.Context, tx repository.Tx, sub *model.Subscription, plan *model.Plan, inv *model.Invoice) error {
	full := plan.BaseAmount * sub.Quantity

	changed := sub.PlanChangedAt != nil && sub.PreviousPlanID != nil &&
		!sub.PlanChangedAt.Before(inv.PeriodStart) && sub.PlanChangedAt.Before(inv.PeriodEnd)
	if !changed {
		inv.Lines = append(inv.Lines, model.LineItem{
			Type:        model.LineItemSubscription,
			Description: fmt.Sprintf("%s (%s)", plan.Name, plan.Interval),
			Quantity:    sub.Quantity,
			Amount:      full,
		})
		return nil
	}

	oldPlan, err := u.plans.FindVersion(ctx, tx, *sub.PreviousPlanID, sub.PreviousPlanVersion)
	if err != nil {
		return err
	}
	oldFull := oldPlan.BaseAmount * sub.Quantity
	first, second := prorateSplit(oldFull, full, inv.PeriodStart, *sub.PlanChangedAt, inv.PeriodEnd)
	inv.Lines = append(inv.Lines,
		model.LineItem{
			Type:        model.LineItemSubscription,
			Description: fmt.Sprintf("%s (prorated)", oldPlan.Name),
			Quantity:    sub.Quantity,
			Amount:      first,
		},
		model.LineItem{
			Type:        model.LineItemSubscription,
			Description: fmt.Sprintf("%s (prorated)", plan.Name),
			Quantity:    sub.Quantity,
			Amount:      second,
		},
	)
	return nil
}

// usageLines appends one line per metered item with recorded usage, in
// ascending metric name order.
func (u *invoiceUC) usageLines(ctx context.Context, tx repository.Tx, sub *model.Subscription, plan *model.Plan, inv *model.Invoice, start, end time.Time) error {
	meters := make([]model.Meter, len(plan.Meters))
	copy(meters, plan.Meters)
	sort.Slice(meters, func(i, j int) bool { return meters[i].Metric < meters[j].Metric })

	for _, m := range meters {
		qty, err := u.usage.SumRange(ctx, tx, sub.ID, m.Metric, start, end)
		if err != nil {
			return err
		}
		if qty <= 0 {
			continue
		}
		amount, err := u.pricing.Resolve(m.Mode, 0, m.Tiers, qty)
		if err != nil {
			return err
		}
		inv.Lines = append(inv.Lines, model.LineItem{
			Type:        model.LineItemUsage,
			Description: m.Metric,
			Metric:      m.Metric,
			Quantity:    qty,
			Amount:      amount,
		})
	}
	return nil
}

// prorateSplit divides a period at changedAt and charges each plan's slice
// proportionally to its elapsed days. The combined total is rounded to the
// nearest minor unit once; the remainder lands on the first line.
func prorateSplit(oldAmount, newAmount int64, start, changedAt, end time.Time) (int64, int64) {
	totalDays := daysBetween(start, end)
	if totalDays <= 0 {
		return oldAmount, 0
	}
	oldDays := daysBetween(start, changedAt)
	if oldDays < 0 {
		oldDays = 0
	}
	if oldDays > totalDays {
		oldDays = totalDays
	}
	newDays := totalDays - oldDays

	total := roundNearest(oldAmount*oldDays+newAmount*newDays, totalDays)
	second := roundNearest(newAmount*newDays, totalDays)
	return total - second, second
}

func daysBetween(a, b time.Time) int64 {
	return int64(b.Sub(a) / (24 * time.Hour))
}

func roundNearest(numerator, denominator int64) int64 {
	return (numerator + denominator/2) / denominator
}

func (u *invoiceUC) Void(ctx context.Context, invoiceID, reason string) (*model.Invoice, error) {
	var result *model.Invoice
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		inv, err := u.invoices.FindByID(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status != model.InvoiceStatusDraft && inv.Status != model.InvoiceStatusOpen {
			return domain.ErrIllegalTransition
		}
		if err := inv.Transition(model.InvoiceStatusVoid, u.now()); err != nil {
			return err
		}
		inv.VoidReason = reason
		if err := u.invoices.Update(ctx, tx, inv); err != nil {
			return err
		}
		result = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.IncInvoiceVoided()
	u.events.Emit(ctx, model.EventInvoiceVoided, result)
	return result, nil
}

func (u *invoiceUC) Get(ctx context.Context, invoiceID string) (*model.Invoice, error) {
	return u.invoices.FindByID(ctx, nil, invoiceID)
}
