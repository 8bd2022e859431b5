package repository

import (
	"context"
	"time"

	"plan-purchase-service/internal/domain/model"
)

// PurchaseRepository is the port for the purchase store. Status writes go
// through compare-and-set methods guarded by the expected current status; a
// false return is not an error but a signal to re-read and apply precedence.
type PurchaseRepository interface {
	Create(ctx context.Context, qx Tx, p *model.Purchase) error
	FindByID(ctx context.Context, qx Tx, id string) (*model.Purchase, error)
	FindByTransactionID(ctx context.Context, qx Tx, transactionID string) (*model.Purchase, error)
	FindActiveByUserAndFeature(ctx context.Context, qx Tx, userID, featureKey string) (*model.Purchase, error)
	ListByUser(ctx context.Context, qx Tx, userID string) ([]*model.Purchase, error)
	ListPendingOlderThan(ctx context.Context, qx Tx, olderThan time.Time, limit int) ([]*model.Purchase, error)

	// MarkPendingIfDraft moves draft -> pending_payment and records the
	// gateway intent id.
	MarkPendingIfDraft(ctx context.Context, qx Tx, id string, intentID *string) (bool, error)
	// ActivateIfPending moves pending_payment -> active and finalizes the
	// financial fields in one statement.
	ActivateIfPending(ctx context.Context, qx Tx, id, transactionID string, amountPaid int64, expiresAt *time.Time) (bool, error)
	// FailIfPending moves pending_payment -> failed with a reason.
	FailIfPending(ctx context.Context, qx Tx, id, reason string) (bool, error)
	// OverrideActiveToFailed applies the gateway-callback precedence rule:
	// active -> failed for the same transaction id.
	OverrideActiveToFailed(ctx context.Context, qx Tx, id, transactionID, reason string) (bool, error)
	// MarkSwitchedIfActive retires a superseded purchase: active -> switched.
	MarkSwitchedIfActive(ctx context.Context, qx Tx, id string) (bool, error)
	// CancelIfActive moves active -> cancelled.
	CancelIfActive(ctx context.Context, qx Tx, id string) (bool, error)

	SetSwitchPending(ctx context.Context, qx Tx, id, pendingPlanID string) error
	ClearSwitchPending(ctx context.Context, qx Tx, id string) error

	// ExpireDue moves every active purchase past its expiry to expired and
	// returns how many rows changed.
	ExpireDue(ctx context.Context, qx Tx, now time.Time) (int, error)
}
