package usecase

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"subscription-billing/internal/domain"
	"subscription-billing/internal/domain/model"
	"subscription-billing/internal/domain/ports/repository"
	"subscription-billing/internal/infra/metrics"
)

// WebhookSender performs one delivery attempt to an integrator endpoint.
// Implemented over HTTP in infra; any non-nil error counts as a failed
// attempt (non-2xx responses included).
type WebhookSender interface {
	Send(ctx context.Context, endpoint, eventID, eventType string, payload []byte) error
}

// Compile-time checks
var (
	_ WebhookUseCase = (*webhookUC)(nil)
	_ EventEmitter   = (*webhookUC)(nil)
)

type WebhookUseCase interface {
	// Enqueue records one event for one endpoint and attempts delivery
	// immediately. The returned event reflects the first attempt's outcome.
	Enqueue(ctx context.Context, eventType string, payload json.RawMessage, endpoint string) (*model.WebhookEvent, error)
	// Emit fans an engine event out to every configured endpoint. It never
	// returns an error: delivery problems must not reach billing state.
	Emit(ctx context.Context, eventType string, payload any)
	// DeliverDue retries pending events whose backoff has elapsed.
	DeliverDue(ctx context.Context, limit int) (int, error)
	ListFailed(ctx context.Context, limit int) ([]*model.WebhookEvent, error)
}

type webhookUC struct {
	webhooks    repository.WebhookRepository
	sender      WebhookSender
	endpoints   []string
	maxAttempts int
	baseBackoff time.Duration
	now         Clock
	log         *zerolog.Logger
}

func NewWebhookUseCase(webhooks repository.WebhookRepository, sender WebhookSender, endpoints []string, maxAttempts int, baseBackoff time.Duration, now Clock, logger *zerolog.Logger) *webhookUC {
	if maxAttempts <= 0 {
		maxAttempts = 8
	}
	if baseBackoff <= 0 {
		baseBackoff = 30 * time.Second
	}
	l := logger.With().Str("component", "WebhookUC").Logger()
	return &webhookUC{
		webhooks: webhooks, sender: sender, endpoints: endpoints,
		maxAttempts: maxAttempts, baseBackoff: baseBackoff, now: now, log: &l,
	}
}

func (u *webhookUC) Enqueue(ctx context.Context, eventType string, payload json.RawMessage, endpoint string) (*model.WebhookEvent, error) {
	now := u.now()
	e, err := model.NewWebhookEvent(ulid.Make().String(), eventType, payload, endpoint, now)
	if err != nil {
		return nil, err
	}
	if err := u.webhooks.Save(ctx, nil, e); err != nil {
		return nil, err
	}
	u.deliver(ctx, e)
	return e, nil
}

func (u *webhookUC) Emit(ctx context.Context, eventType string, payload any) {
	body, err := json.Marshal(map[string]any{
		"type": eventType,
		"data": payload,
	})
	if err != nil {
		u.log.Error().Err(err).Str("event_type", eventType).Msg("event payload not serializable")
		return
	}
	for _, ep := range u.endpoints {
		if _, err := u.Enqueue(ctx, eventType, body, ep); err != nil {
			u.log.Error().Err(err).Str("event_type", eventType).Str("endpoint", ep).Msg("enqueue failed")
		}
	}
}

// deliver runs one attempt and persists the outcome. A terminally failed
// event keeps its last error for operator inspection.
func (u *webhookUC) deliver(ctx context.Context, e *model.WebhookEvent) {
	if e.Status != model.WebhookStatusPending {
		return
	}
	err := u.sender.Send(ctx, e.Endpoint, e.ID, e.Type, e.Payload)
	now := u.now()
	e.RetryCount++
	e.UpdatedAt = now
	if err == nil {
		e.Status = model.WebhookStatusDelivered
		e.DeliveredAt = &now
		e.NextRetryAt = nil
		e.LastError = ""
		metrics.IncWebhookDelivery("delivered")
	} else {
		e.LastError = err.Error()
		if e.RetryCount >= u.maxAttempts {
			e.Status = model.WebhookStatusFailed
			e.NextRetryAt = nil
			metrics.IncWebhookDelivery("failed")
			u.log.Error().Str("event_id", e.ID).Str("endpoint", e.Endpoint).
				Str("last_error", e.LastError).Msg("webhook delivery exhausted")
		} else {
			next := now.Add(u.baseBackoff << (e.RetryCount - 1))
			e.NextRetryAt = &next
			metrics.IncWebhookDelivery("retried")
		}
	}
	if uerr := u.webhooks.Update(ctx, nil, e); uerr != nil {
		u.log.Error().Err(uerr).Str("event_id", e.ID).Msg("webhook state update failed")
	}
}

func (u *webhookUC) DeliverDue(ctx context.Context, limit int) (int, error) {
	due, err := u.webhooks.ListDue(ctx, nil, u.now(), limit)
	if err != nil {
		return 0, err
	}
	var delivered int
	for _, e := range due {
		u.deliver(ctx, e)
		if e.Status == model.WebhookStatusDelivered {
			delivered++
		}
	}
	return delivered, nil
}

func (u *webhookUC) ListFailed(ctx context.Context, limit int) ([]*model.WebhookEvent, error) {
	if limit <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	return u.webhooks.ListFailed(ctx, nil, limit)
}
