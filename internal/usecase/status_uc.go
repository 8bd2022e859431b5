package usecase

import (
	"context"

	"github.com/rs/zerolog"

	"plan-purchase-service/internal/domain"
	"plan-purchase-service/internal/domain/model"
	"plan-purchase-service/internal/domain/ports/repository"
	"plan-purchase-service/internal/infra/metrics"
)

// Compile-time check
var _ StatusUseCase = (*statusUC)(nil)

// DisplayStatus is what the confirmation view shows. Internal status values
// and error codes never leak here.
type DisplayStatus string

const (
	DisplayProcessing DisplayStatus = "processing"
	DisplayConfirmed  DisplayStatus = "confirmed"
	DisplayError      DisplayStatus = "error"
	DisplayUnknown    DisplayStatus = "unknown"
)

// PollState is one observation of a purchase by the confirmation view. While
// the purchase is still processing the state carries a retry hint; past the
// refresh cutoff it degrades to "unknown" instead of polling forever.
type PollState struct {
	PurchaseID    string
	Status        DisplayStatus
	PlanName      string
	FeatureKey    string
	AmountPaid    *int64
	TransactionID *string
	ExpiryDate    *string // RFC3339, nil for non-expiring purchases
	Reason        string  // human-readable only

	RefreshCount      int
	RetryAfterSeconds int // 0 means stop polling
}

type StatusUseCase interface {
	Poll(ctx context.Context, userID, purchaseID string, refreshCount int) (*PollState, error)
	ListByUser(ctx context.Context, userID string) ([]*model.Purchase, error)
}

type statusUC struct {
	purchases    repository.PurchaseRepository
	pollInterval int // seconds between reloads
	maxRefreshes int
	log          *zerolog.Logger
}

func NewStatusUseCase(purchases repository.PurchaseRepository, pollIntervalSeconds, maxRefreshes int, logger *zerolog.Logger) *statusUC {
	if pollIntervalSeconds <= 0 {
		pollIntervalSeconds = 7
	}
	if maxRefreshes <= 0 {
		maxRefreshes = 8
	}
	l := logger.With().Str("component", "StatusUC").Logger()
	return &statusUC{purchases: purchases, pollInterval: pollIntervalSeconds, maxRefreshes: maxRefreshes, log: &l}
}

func (uc *statusUC) Poll(ctx context.Context, userID, purchaseID string, refreshCount int) (*PollState, error) {
	p, err := uc.purchases.FindByID(ctx, repository.NoTX, purchaseID)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, domain.ErrUnauthorized
	}

	st := &PollState{
		PurchaseID:    p.ID,
		PlanName:      p.Snapshot.Name,
		FeatureKey:    p.FeatureKey,
		AmountPaid:    p.AmountPaid,
		TransactionID: p.TransactionID,
		RefreshCount:  refreshCount,
	}
	if p.ExpiryDate != nil {
		s := p.ExpiryDate.Format("2006-01-02T15:04:05Z07:00")
		st.ExpiryDate = &s
	}

	switch p.Status {
	case model.PurchaseStatusActive:
		st.Status = DisplayConfirmed
	case model.PurchaseStatusDraft, model.PurchaseStatusPending:
		if refreshCount >= uc.maxRefreshes {
			// The view stops reloading and points the user at the dashboard.
			st.Status = DisplayUnknown
			st.Reason = "We could not confirm your payment yet. Check your dashboard for the final status."
			metrics.IncPollCutoff()
			uc.log.Info().Str("purchase_id", p.ID).Int("refresh_count", refreshCount).Msg("poll cutoff reached")
			break
		}
		st.Status = DisplayProcessing
		st.RefreshCount = refreshCount + 1
		st.RetryAfterSeconds = uc.pollInterval
	default:
		st.Status = DisplayError
		if p.FailureReason != nil {
			st.Reason = *p.FailureReason
		} else {
			st.Reason = "This purchase is no longer active."
		}
	}
	return st, nil
}

func (uc *statusUC) ListByUser(ctx context.Context, userID string) ([]*model.Purchase, error) {
	if userID == "" {
		return nil, domain.ErrInvalidArgument
	}
	return uc.purchases.ListByUser(ctx, repository.NoTX, userID)
}
