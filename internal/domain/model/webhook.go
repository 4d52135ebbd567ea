package model

import (
	"encoding/json"
	"time"

	"subscription-billing/internal/domain"
)

type WebhookStatus string

const (
	WebhookStatusPending   WebhookStatus = "pending"
	WebhookStatusDelivered WebhookStatus = "delivered"
	WebhookStatusFailed    WebhookStatus = "failed" // terminal after max attempts
)

// Event types emitted by the engine.
const (
	EventInvoiceCreated        = "invoice.created"
	EventInvoicePaid           = "invoice.paid"
	EventInvoiceVoided         = "invoice.voided"
	EventInvoicePastDue        = "invoice.past_due"
	EventPaymentSucceeded      = "payment.succeeded"
	EventPaymentFailed         = "payment.failed"
	EventSubscriptionCreated   = "subscription.created"
	EventSubscriptionPaused    = "subscription.paused"
	EventSubscriptionResumed   = "subscription.resumed"
	EventSubscriptionCancelled = "subscription.cancelled"
)

// WebhookEvent is one notification destined for one integrator endpoint.
// Delivery failure is terminal and non-blocking; it never rolls back the
// billing change that produced the event.
type WebhookEvent struct {
	ID          string // ULID, lexically time-ordered
	Type        string
	Payload     json.RawMessage
	Endpoint    string
	Status      WebhookStatus
	RetryCount  int
	NextRetryAt *time.Time
	LastError   string
	DeliveredAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func NewWebhookEvent(id, eventType string, payload json.RawMessage, endpoint string, now time.Time) (*WebhookEvent, error) {
	if id == "" || eventType == "" || endpoint == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &WebhookEvent{
		ID:          id,
		Type:        eventType,
		Payload:     payload,
		Endpoint:    endpoint,
		Status:      WebhookStatusPending,
		NextRetryAt: &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}
