package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"plan-purchase-service/internal/domain/ports/repository"
	"plan-purchase-service/internal/infra/metrics"
)

// ExpiryWorker periodically moves active purchases past their expiry date to
// expired.
type ExpiryWorker struct {
	purchases repository.PurchaseRepository
	interval  time.Duration
	log       *zerolog.Logger
}

func NewExpiryWorker(purchases repository.PurchaseRepository, interval time.Duration, logger *zerolog.Logger) *ExpiryWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	l := logger.With().Str("component", "ExpiryWorker").Logger()
	return &ExpiryWorker{purchases: purchases, interval: interval, log: &l}
}

func (w *ExpiryWorker) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting expiry worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping expiry worker")
			return ctx.Err()
		case <-ticker.C:
			n, err := w.purchases.ExpireDue(ctx, repository.NoTX, time.Now())
			if err != nil {
				w.log.Error().Err(err).Msg("expiry worker error")
			}
			if n > 0 {
				metrics.IncPurchasesExpired(n)
				w.log.Info().Int("count", n).Msg("expired purchases finished")
			}
		}
	}
}
