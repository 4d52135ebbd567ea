//go:build !integration

package usecase

import (
	"context"
	"testing"
	"time"

	"subscription-billing/internal/domain/model"
)

func TestStatsUseCase_Outstanding(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	invoices := newMemInvoiceRepo()
	uc := NewStatsUseCase(newMemSubscriptionRepo(), invoices, newMemPaymentRepo())

	seed := func(id string, status model.InvoiceStatus, due, paid int64) {
		t.Helper()
		inv, err := model.NewInvoice(id, "acct-1", "sub-"+id, "usd", now.AddDate(0, -1, 0), now, now)
		if err != nil {
			t.Fatalf("new invoice: %v", err)
		}
		inv.AmountDue = due
		inv.AmountPaid = paid
		if status != model.InvoiceStatusDraft {
			if err := inv.Transition(model.InvoiceStatusOpen, now); err != nil {
				t.Fatalf("open invoice: %v", err)
			}
		}
		if status != model.InvoiceStatusDraft && status != model.InvoiceStatusOpen {
			if err := inv.Transition(status, now); err != nil {
				t.Fatalf("transition invoice: %v", err)
			}
		}
		if err := invoices.Save(ctx, nil, inv); err != nil {
			t.Fatalf("save invoice: %v", err)
		}
	}

	seed("inv-1", model.InvoiceStatusOpen, 1000, 0)
	// partially paid: only the remainder is outstanding
	seed("inv-2", model.InvoiceStatusPastDue, 2000, 500)
	// settled and drafts never count
	seed("inv-3", model.InvoiceStatusPaid, 3000, 3000)
	seed("inv-4", model.InvoiceStatusDraft, 400, 0)

	out, err := uc.Outstanding(ctx)
	if err != nil {
		t.Fatalf("outstanding: %v", err)
	}
	if out["usd"] != 2500 {
		t.Fatalf("outstanding usd = %d, want 2500", out["usd"])
	}
}
