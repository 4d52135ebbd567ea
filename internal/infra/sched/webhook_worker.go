package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"subscription-billing/internal/usecase"
)

// WebhookWorker redelivers pending webhook events whose backoff elapsed.
type WebhookWorker struct {
	interval time.Duration
	batch    int
	whUC     usecase.WebhookUseCase
	log      *zerolog.Logger
}

func NewWebhookWorker(interval time.Duration, batch int, whUC usecase.WebhookUseCase, logger *zerolog.Logger) *WebhookWorker {
	l := logger.With().Str("component", "WebhookWorker").Logger()
	return &WebhookWorker{interval: interval, batch: batch, whUC: whUC, log: &l}
}

func (w *WebhookWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("starting webhook worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("stopping webhook worker")
			return ctx.Err()
		case <-ticker.C:
			n, err := w.whUC.DeliverDue(ctx, w.batch)
			if err != nil {
				w.log.Error().Err(err).Msg("webhook sweep error")
			}
			if n > 0 {
				w.log.Info().Int("count", n).Msg("webhook deliveries attempted")
			}
		}
	}
}
