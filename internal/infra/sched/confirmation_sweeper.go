package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"plan-purchase-service/internal/domain/model"
	"plan-purchase-service/internal/domain/ports/repository"
	"plan-purchase-service/internal/usecase"
)

// ConfirmationSweeper fails pending purchases whose confirmation never
// arrived. It covers dropped callbacks, abandoned checkouts and crashes
// mid-confirm. Bank purchases are exempt: transfers legitimately take days
// and are finalized by an administrator.
type ConfirmationSweeper struct {
	purchases  repository.PurchaseRepository
	reconcile  usecase.ReconcileUseCase
	interval   time.Duration
	staleAfter time.Duration
	log        *zerolog.Logger
}

func NewConfirmationSweeper(purchases repository.PurchaseRepository, reconcile usecase.ReconcileUseCase, interval, staleAfter time.Duration, logger *zerolog.Logger) *ConfirmationSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}
	l := logger.With().Str("component", "ConfirmationSweeper").Logger()
	return &ConfirmationSweeper{
		purchases:  purchases,
		reconcile:  reconcile,
		interval:   interval,
		staleAfter: staleAfter,
		log:        &l,
	}
}

func (w *ConfirmationSweeper) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting confirmation sweeper")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping confirmation sweeper")
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *ConfirmationSweeper) tick(ctx context.Context) {
	cutoff := time.Now().Add(-w.staleAfter)
	pending, err := w.purchases.ListPendingOlderThan(ctx, repository.NoTX, cutoff, 200)
	if err != nil {
		w.log.Error().Err(err).Msg("list pending purchases failed")
		return
	}
	for _, p := range pending {
		if p.Gateway == model.GatewayBank {
			continue
		}
		ev := model.Evidence{
			PurchaseID: p.ID,
			Outcome:    model.EvidenceFailure,
			Reason:     "confirmation timeout",
		}
		if _, err := w.reconcile.Apply(ctx, p.ID, ev, model.SourceGatewayCallback); err != nil {
			// A late confirmation may have raced the sweep; the next tick will
			// skip the purchase either way.
			w.log.Warn().Err(err).Str("purchase_id", p.ID).Msg("timeout sweep skipped purchase")
			continue
		}
		w.log.Info().Str("purchase_id", p.ID).Str("gateway", string(p.Gateway)).Msg("pending purchase timed out")
	}
}
