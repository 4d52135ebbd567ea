package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"subscription-billing/internal/infra/metrics"
	"subscription-billing/internal/usecase"
)

// BoundaryWorker periodically advances subscriptions whose billing period
// has closed and resumes paused ones whose resume time arrived.
type BoundaryWorker struct {
	interval time.Duration
	batch    int
	subUC    usecase.SubscriptionUseCase
	log      *zerolog.Logger
}

func NewBoundaryWorker(interval time.Duration, batch int, subUC usecase.SubscriptionUseCase, logger *zerolog.Logger) *BoundaryWorker {
	l := logger.With().Str("component", "BoundaryWorker").Logger()
	return &BoundaryWorker{interval: interval, batch: batch, subUC: subUC, log: &l}
}

func (w *BoundaryWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("starting boundary worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("stopping boundary worker")
			return ctx.Err()
		case <-ticker.C:
			n, err := w.subUC.RunBoundarySweep(ctx, w.batch)
			if err != nil {
				w.log.Error().Err(err).Msg("boundary sweep error")
			}
			if n > 0 {
				metrics.AddSubscriptionsAdvanced(n)
				w.log.Info().Int("count", n).Msg("subscriptions advanced")
			}
		}
	}
}
