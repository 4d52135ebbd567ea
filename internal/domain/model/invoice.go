package model

import (
	"time"

	"subscription-billing/internal/domain"
)

type InvoiceStatus string

const (
	InvoiceStatusDraft   InvoiceStatus = "draft"
	InvoiceStatusOpen    InvoiceStatus = "open"
	InvoiceStatusPaid    InvoiceStatus = "paid"
	InvoiceStatusVoid    InvoiceStatus = "void"
	InvoiceStatusPastDue InvoiceStatus = "past_due"
)

// invoiceTransitions: paid and void are terminal; a past_due invoice can
// still be settled or voided.
var invoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceStatusDraft:   {InvoiceStatusOpen, InvoiceStatusVoid},
	InvoiceStatusOpen:    {InvoiceStatusPaid, InvoiceStatusVoid, InvoiceStatusPastDue},
	InvoiceStatusPastDue: {InvoiceStatusPaid, InvoiceStatusVoid},
	InvoiceStatusPaid:    {},
	InvoiceStatusVoid:    {},
}

func (s InvoiceStatus) CanTransition(to InvoiceStatus) bool {
	for _, t := range invoiceTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

type LineItemType string

const (
	LineItemSubscription LineItemType = "subscription"
	LineItemUsage        LineItemType = "usage"
	LineItemCredit       LineItemType = "credit"
)

// LineItem is one row on an invoice. Credit lines carry negative amounts.
type LineItem struct {
	Type        LineItemType
	Description string
	Metric      string // usage lines only
	Quantity    int64
	Amount      int64 // minor units, signed
}

// Invoice is the immutable billing document for one (subscription, period)
// pair. Once paid no field may change; once void amount_due is informational.
type Invoice struct {
	ID             string // UUID
	AccountID      string // UUID
	SubscriptionID string // UUID
	Status         InvoiceStatus
	PeriodStart    time.Time
	PeriodEnd      time.Time
	Currency       string
	Lines          []LineItem
	Tax            int64
	AmountDue      int64
	AmountPaid     int64
	DueAt          time.Time
	VoidReason     string
	PaidAt         *time.Time
	VoidedAt       *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func NewInvoice(id, accountID, subscriptionID, currency string, periodStart, periodEnd time.Time, now time.Time) (*Invoice, error) {
	if id == "" || accountID == "" || subscriptionID == "" || currency == "" || !periodEnd.After(periodStart) {
		return nil, domain.ErrInvalidArgument
	}
	return &Invoice{
		ID:             id,
		AccountID:      accountID,
		SubscriptionID: subscriptionID,
		Status:         InvoiceStatusDraft,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
		Currency:       currency,
		DueAt:          now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Transition moves the invoice status, rejecting moves not in the table.
// Attempting to leave a terminal status is a contract violation and is
// reported, never silently ignored.
func (i *Invoice) Transition(to InvoiceStatus, now time.Time) error {
	if !i.Status.CanTransition(to) {
		return domain.ErrIllegalTransition
	}
	i.Status = to
	i.UpdatedAt = now
	switch to {
	case InvoiceStatusPaid:
		i.PaidAt = &now
	case InvoiceStatusVoid:
		i.VoidedAt = &now
	}
	return nil
}

// Subtotal sums all non-credit line items.
func (i *Invoice) Subtotal() int64 {
	var sum int64
	for _, l := range i.Lines {
		if l.Type != LineItemCredit {
			sum += l.Amount
		}
	}
	return sum
}

// Settled reports whether nothing is owed anymore.
func (i *Invoice) Settled() bool {
	return i.Status == InvoiceStatusPaid || i.Status == InvoiceStatusVoid
}
