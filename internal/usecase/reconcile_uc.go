package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"plan-purchase-service/internal/domain"
	"plan-purchase-service/internal/domain/model"
	"plan-purchase-service/internal/domain/ports/repository"
	"plan-purchase-service/internal/infra/metrics"
)

// Compile-time check
var _ ReconcileUseCase = (*reconcileUC)(nil)

// ReconcileUseCase applies confirmation evidence to purchases under the
// idempotency and precedence rules. It is the only writer of purchase status
// after checkout.
type ReconcileUseCase interface {
	Apply(ctx context.Context, purchaseID string, ev model.Evidence, source model.EvidenceSource) (*model.Purchase, error)
}

type reconcileUC struct {
	purchases repository.PurchaseRepository
	tm        repository.TransactionManager
	log       *zerolog.Logger
}

func NewReconcileUseCase(purchases repository.PurchaseRepository, tm repository.TransactionManager, logger *zerolog.Logger) *reconcileUC {
	l := logger.With().Str("component", "ReconcileUC").Logger()
	return &reconcileUC{purchases: purchases, tm: tm, log: &l}
}

func (uc *reconcileUC) Apply(ctx context.Context, purchaseID string, ev model.Evidence, source model.EvidenceSource) (*model.Purchase, error) {
	ev.PurchaseID = purchaseID
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	switch source {
	case model.SourceClient, model.SourceGatewayCallback:
	case model.SourceAdminOverride:
		if ev.Actor == "" {
			return nil, domain.ErrInvalidArgument
		}
	default:
		return nil, domain.ErrInvalidArgument
	}

	var out *model.Purchase
	err := uc.tm.WithTx(ctx, func(ctx context.Context, qx repository.Tx) error {
		p, err := uc.purchases.FindByID(ctx, qx, purchaseID)
		if err != nil {
			return err
		}

		switch p.Status {
		case model.PurchaseStatusPending:
			out, err = uc.applyToPending(ctx, qx, p, ev, source)
			return err

		case model.PurchaseStatusActive:
			out, err = uc.applyToActive(ctx, qx, p, ev, source)
			return err

		case model.PurchaseStatusDraft:
			// Authorization never completed; there is no transaction to
			// confirm. Surfaced for manual reconciliation, nothing mutated.
			uc.logConflict(p, ev, source)
			return domain.ErrConflictingTransition

		default:
			// Terminal states: duplicate evidence that agrees with the state
			// is a safe no-op (client retry after a dropped response);
			// anything else conflicts.
			if ev.Outcome == model.EvidenceFailure && p.Status == model.PurchaseStatusFailed {
				metrics.IncStaleEvidence()
				out = p
				return nil
			}
			uc.logConflict(p, ev, source)
			return domain.ErrConflictingTransition
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (uc *reconcileUC) applyToPending(ctx context.Context, qx repository.Tx, p *model.Purchase, ev model.Evidence, source model.EvidenceSource) (*model.Purchase, error) {
	now := time.Now()

	// Evidence that names an intent must name the intent recorded at
	// checkout. A callback built around someone else's purchase id carries
	// the wrong intent and must not settle this purchase either way.
	if ev.IntentID != "" && (p.IntentID == nil || *p.IntentID != ev.IntentID) {
		uc.logConflict(p, ev, source)
		return nil, domain.ErrConflictingTransition
	}

	if ev.Outcome == model.EvidenceFailure {
		reason := ev.Reason
		if reason == "" {
			reason = "payment failed"
		}
		ok, err := uc.purchases.FailIfPending(ctx, qx, p.ID, reason)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Lost the race; re-read and let the caller see the winner.
			return nil, domain.ErrConflictingTransition
		}
		// A failed switch leaves the original purchase active and unaffected,
		// apart from dropping the pending-switch marker.
		old, err := uc.purchases.FindActiveByUserAndFeature(ctx, qx, p.UserID, p.FeatureKey)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		if old != nil && old.SwitchPending {
			if err := uc.purchases.ClearSwitchPending(ctx, qx, old.ID); err != nil {
				return nil, err
			}
		}
		p.Status = model.PurchaseStatusFailed
		p.FailureReason = &reason
		p.FailureAt = &now
		metrics.IncConfirmation(string(source), string(ev.Outcome))
		metrics.IncTransition(string(model.PurchaseStatusFailed))
		uc.log.Info().Str("purchase_id", p.ID).Str("source", string(source)).Str("reason", reason).Msg("purchase failed")
		return p, nil
	}

	// Success evidence. Replayed gateway events with an already-consumed
	// transaction id must not double-activate.
	if other, err := uc.purchases.FindByTransactionID(ctx, qx, ev.TransactionID); err == nil && other != nil && other.ID != p.ID {
		uc.logConflict(p, ev, source)
		return nil, domain.ErrConflictingTransition
	}

	amount := ev.Amount
	if amount == 0 {
		amount = p.Snapshot.PriceCents
	}
	expiry := p.Snapshot.ExpiryFrom(now)

	// The superseded purchase must be looked up before the activation write,
	// otherwise the freshly activated purchase would match the query itself.
	old, err := uc.purchases.FindActiveByUserAndFeature(ctx, qx, p.UserID, p.FeatureKey)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	ok, err := uc.purchases.ActivateIfPending(ctx, qx, p.ID, ev.TransactionID, amount, expiry)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Compare-and-set lost: re-read and apply precedence against the
		// state that won instead of overwriting blindly.
		cur, err := uc.purchases.FindByID(ctx, qx, p.ID)
		if err != nil {
			return nil, err
		}
		return uc.applyToActive(ctx, qx, cur, ev, source)
	}

	// Retire the superseded purchase in the same transaction so that exactly
	// one purchase is active per (user, feature) at commit time.
	if old != nil && old.ID != p.ID {
		if _, err := uc.purchases.MarkSwitchedIfActive(ctx, qx, old.ID); err != nil {
			return nil, err
		}
		if old.SwitchPending {
			if err := uc.purchases.ClearSwitchPending(ctx, qx, old.ID); err != nil {
				return nil, err
			}
		}
		metrics.IncTransition(string(model.PurchaseStatusSwitched))
	}

	p.Status = model.PurchaseStatusActive
	p.TransactionID = &ev.TransactionID
	p.AmountPaid = &amount
	p.ExpiryDate = expiry
	metrics.IncConfirmation(string(source), string(ev.Outcome))
	metrics.IncTransition(string(model.PurchaseStatusActive))
	metrics.AddRevenue(string(p.Gateway), amount)
	uc.log.Info().
		Str("purchase_id", p.ID).
		Str("transaction_id", ev.TransactionID).
		Str("source", string(source)).
		Int64("amount", amount).
		Msg("purchase activated")
	return p, nil
}

func (uc *reconcileUC) applyToActive(ctx context.Context, qx repository.Tx, p *model.Purchase, ev model.Evidence, source model.EvidenceSource) (*model.Purchase, error) {
	if p.HasTransaction(ev.TransactionID) {
		if ev.Outcome == model.EvidenceSuccess {
			// Same transaction confirmed twice (client retry plus the later
			// gateway callback): at-most-once activation, nothing changes.
			metrics.IncStaleEvidence()
			uc.log.Debug().Str("purchase_id", p.ID).Str("transaction_id", ev.TransactionID).Msg("stale success evidence ignored")
			return p, nil
		}
		if source == model.SourceGatewayCallback {
			// The gateway is authoritative: an optimistic client-sourced
			// activation is rolled back to failed.
			reason := ev.Reason
			if reason == "" {
				reason = "gateway reported failure after optimistic confirmation"
			}
			ok, err := uc.purchases.OverrideActiveToFailed(ctx, qx, p.ID, ev.TransactionID, reason)
			if err != nil {
				return nil, err
			}
			if !ok {
				uc.logConflict(p, ev, source)
				return nil, domain.ErrConflictingTransition
			}
			now := time.Now()
			p.Status = model.PurchaseStatusFailed
			p.FailureReason = &reason
			p.FailureAt = &now
			metrics.IncConfirmation(string(source), string(ev.Outcome))
			metrics.IncTransition(string(model.PurchaseStatusFailed))
			uc.log.Warn().Str("purchase_id", p.ID).Str("transaction_id", ev.TransactionID).Msg("gateway callback overrode client confirmation")
			return p, nil
		}
	}

	// Active with a different transaction id: precedence rules cannot
	// silently resolve this; keep the record untouched and surface it.
	uc.logConflict(p, ev, source)
	return nil, domain.ErrConflictingTransition
}

// logConflict records the full evidence payload for manual reconciliation.
func (uc *reconcileUC) logConflict(p *model.Purchase, ev model.Evidence, source model.EvidenceSource) {
	metrics.IncConflict()
	evt := uc.log.Error().
		Str("purchase_id", p.ID).
		Str("status", string(p.Status)).
		Str("source", string(source)).
		Str("evidence_transaction_id", ev.TransactionID).
		Str("evidence_outcome", string(ev.Outcome)).
		Int64("evidence_amount", ev.Amount)
	if p.TransactionID != nil {
		evt = evt.Str("transaction_id", *p.TransactionID)
	}
	if ev.Actor != "" {
		evt = evt.Str("actor", ev.Actor)
	}
	evt.Msg("conflicting transition")
}
