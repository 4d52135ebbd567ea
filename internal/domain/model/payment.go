package model

import (
	"time"

	"subscription-billing/internal/domain"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"   // attempt created, gateway call in flight
	PaymentStatusSucceeded PaymentStatus = "succeeded" // gateway confirmed the charge
	PaymentStatusFailed    PaymentStatus = "failed"    // gateway declined or errored
	PaymentStatusCancelled PaymentStatus = "cancelled" // superseded before the gateway was called
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:   {PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusSucceeded: {},
	PaymentStatusFailed:    {},
	PaymentStatusCancelled: {},
}

func (s PaymentStatus) CanTransition(to PaymentStatus) bool {
	for _, t := range paymentTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// Payment is one charge attempt against an invoice. Every attempt carries its
// own caller-supplied idempotency key; a retried attempt never replays the
// failed key. RetryCount is 0 for the initial attempt and counts scheduled
// retries after it. FirstFailedAt anchors the retry offsets and is carried
// across the attempt chain.
type Payment struct {
	ID             string // UUID
	InvoiceID      string // UUID
	Amount         int64
	Currency       string
	Status         PaymentStatus
	GatewayRef     string // provider transaction reference on success
	IdempotencyKey string // unique per attempt
	RetryCount     int
	FirstFailedAt  *time.Time
	NextRetryAt    *time.Time // set on a failed attempt that has a scheduled follow-up
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func NewPayment(id string, inv *Invoice, amount int64, idempotencyKey string, now time.Time) (*Payment, error) {
	// amount 0 is legal: a fully credited invoice still records an attempt
	if id == "" || inv == nil || inv.ID == "" || idempotencyKey == "" || amount < 0 {
		return nil, domain.ErrInvalidArgument
	}
	return &Payment{
		ID:             id,
		InvoiceID:      inv.ID,
		Amount:         amount,
		Currency:       inv.Currency,
		Status:         PaymentStatusPending,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (p *Payment) Transition(to PaymentStatus, now time.Time) error {
	if !p.Status.CanTransition(to) {
		return domain.ErrIllegalTransition
	}
	p.Status = to
	p.UpdatedAt = now
	return nil
}
