package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"subscription-billing/internal/usecase"
)

// stalePendingAfter is how long an attempt may sit in pending before the
// worker treats it as stranded and re-drives it.
const stalePendingAfter = 15 * time.Minute

// DunningWorker executes scheduled payment retries whose time has arrived
// and re-drives attempts stranded in pending by a crash.
type DunningWorker struct {
	interval time.Duration
	batch    int
	payUC    usecase.PaymentUseCase
	log      *zerolog.Logger
}

func NewDunningWorker(interval time.Duration, batch int, payUC usecase.PaymentUseCase, logger *zerolog.Logger) *DunningWorker {
	l := logger.With().Str("component", "DunningWorker").Logger()
	return &DunningWorker{interval: interval, batch: batch, payUC: payUC, log: &l}
}

func (w *DunningWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("starting dunning worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("stopping dunning worker")
			return ctx.Err()
		case <-ticker.C:
			n, err := w.payUC.RunDueRetries(ctx, w.batch)
			if err != nil {
				w.log.Error().Err(err).Msg("dunning sweep error")
			}
			if n > 0 {
				w.log.Info().Int("count", n).Msg("payment retries executed")
			}
			n, err = w.payUC.ReconcileStalePending(ctx, stalePendingAfter, w.batch)
			if err != nil {
				w.log.Error().Err(err).Msg("stale pending sweep error")
			}
			if n > 0 {
				w.log.Info().Int("count", n).Msg("stale pending attempts reconciled")
			}
		}
	}
}
