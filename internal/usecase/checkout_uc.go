package usecase

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"plan-purchase-service/internal/domain"
	"plan-purchase-service/internal/domain/model"
	"plan-purchase-service/internal/domain/ports/adapter"
	"plan-purchase-service/internal/domain/ports/repository"
	"plan-purchase-service/internal/infra/metrics"
)

// Compile-time check
var _ CheckoutUseCase = (*checkoutUC)(nil)

type CheckoutType string

const (
	CheckoutNew    CheckoutType = "new"
	CheckoutSwitch CheckoutType = "switch"
)

// CheckoutSession is what Begin hands back to the caller: the draft-turned-
// pending purchase plus whatever the gateway needs to finish authorization.
type CheckoutSession struct {
	Purchase *model.Purchase
	Handle   *adapter.AuthorizationHandle
}

type CheckoutUseCase interface {
	// Begin creates a purchase for the plan and drives the gateway-specific
	// authorization handshake up to pending_payment. Free plans come back
	// already active.
	Begin(ctx context.Context, userID, planID string, gateway model.Gateway, kind CheckoutType, existingPurchaseID string) (*CheckoutSession, error)
	// Cancel moves an active purchase to cancelled after an ownership check.
	Cancel(ctx context.Context, userID, purchaseID string) error
}

// Locker serializes switch checkouts per (user, feature). Satisfied by the
// redis locker.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

type checkoutUC struct {
	purchases repository.PurchaseRepository
	catalog   repository.PlanCatalog
	resolver  adapter.GatewayResolver
	reconcile ReconcileUseCase
	tm        repository.TransactionManager
	locker    Locker

	authTimeout time.Duration
	authRetries int
	log         *zerolog.Logger
}

func NewCheckoutUseCase(
	purchases repository.PurchaseRepository,
	catalog repository.PlanCatalog,
	resolver adapter.GatewayResolver,
	reconcile ReconcileUseCase,
	tm repository.TransactionManager,
	locker Locker,
	authTimeout time.Duration,
	authRetries int,
	logger *zerolog.Logger,
) *checkoutUC {
	if authTimeout <= 0 {
		authTimeout = 15 * time.Second
	}
	if authRetries < 0 {
		authRetries = 2
	}
	l := logger.With().Str("component", "CheckoutUC").Logger()
	return &checkoutUC{
		purchases:   purchases,
		catalog:     catalog,
		resolver:    resolver,
		reconcile:   reconcile,
		tm:          tm,
		locker:      locker,
		authTimeout: authTimeout,
		authRetries: authRetries,
		log:         &l,
	}
}

func switchLockKey(userID, featureKey string) string {
	return "checkout:switch:" + userID + ":" + featureKey
}

func (uc *checkoutUC) Begin(ctx context.Context, userID, planID string, gateway model.Gateway, kind CheckoutType, existingPurchaseID string) (*CheckoutSession, error) {
	if userID == "" || planID == "" {
		return nil, domain.ErrInvalidArgument
	}

	plan, err := uc.catalog.FindByID(ctx, planID)
	if err != nil {
		return nil, err
	}

	// Zero-amount plans take the free path regardless of the requested
	// gateway; there is nothing to authorize.
	if plan.IsFree() {
		gateway = model.GatewayFree
	}

	gw, err := uc.resolver.Resolve(ctx, gateway)
	if err != nil {
		return nil, err
	}

	var old *model.Purchase
	if kind == CheckoutSwitch {
		// Two concurrent switch attempts must not both pass the "must be
		// active" precondition against the same soon-to-be-retired purchase.
		token, err := uc.locker.TryLock(ctx, switchLockKey(userID, plan.FeatureKey), 30*time.Second)
		if err != nil {
			return nil, domain.ErrCheckoutLocked
		}
		defer func() { _ = uc.locker.Unlock(ctx, switchLockKey(userID, plan.FeatureKey), token) }()

		old, err = uc.validateSwitch(ctx, userID, existingPurchaseID, plan)
		if err != nil {
			return nil, err
		}
	} else {
		existing, err := uc.purchases.FindActiveByUserAndFeature(ctx, repository.NoTX, userID, plan.FeatureKey)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			// A store failure is not a license to skip the exclusivity check.
			return nil, err
		}
		if existing != nil {
			// Exclusive features allow one active purchase; replacing it is a
			// switch checkout, not a new one.
			return nil, domain.ErrInvalidSwitch
		}
	}

	p, err := model.NewPurchase(newPurchaseID(), userID, plan, gateway)
	if err != nil {
		return nil, err
	}
	if err := uc.purchases.Create(ctx, repository.NoTX, p); err != nil {
		return nil, err
	}
	metrics.IncCheckout(string(gateway), string(kind))

	handle, err := uc.createAuthorization(ctx, gw, p, plan.PriceCents)
	if err != nil {
		// The purchase stays in draft; it is invisible to the user and
		// eligible for the cleanup sweep.
		uc.log.Warn().Err(err).Str("purchase_id", p.ID).Str("gateway", string(gateway)).Msg("authorization creation failed")
		return nil, err
	}

	if handle.IntentID != "" {
		p.IntentID = &handle.IntentID
	}

	// Advancing the draft and flagging the replaced purchase commit together;
	// a bank switch must not end up pending with the old purchase unflagged.
	var advanced bool
	err = uc.tm.WithTx(ctx, func(ctx context.Context, qx repository.Tx) error {
		ok, err := uc.purchases.MarkPendingIfDraft(ctx, qx, p.ID, p.IntentID)
		if err != nil {
			return err
		}
		advanced = ok
		if !ok {
			return nil
		}
		if kind == CheckoutSwitch && gateway == model.GatewayBank {
			// Bank switches finalize only on administrator approval; flag the
			// old purchase so the pending switch is visible.
			return uc.purchases.SetSwitchPending(ctx, qx, old.ID, plan.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !advanced {
		// Someone else already advanced this purchase; re-read and hand back
		// whatever state it reached.
		cur, err := uc.purchases.FindByID(ctx, repository.NoTX, p.ID)
		if err != nil {
			return nil, err
		}
		return &CheckoutSession{Purchase: cur, Handle: handle}, nil
	}
	p.Status = model.PurchaseStatusPending

	if handle.Kind == adapter.KindImmediate {
		// Free flow: apply success evidence in the same operation, no
		// external round trip.
		ev := model.Evidence{
			PurchaseID:    p.ID,
			TransactionID: "free-" + p.ID,
			Outcome:       model.EvidenceSuccess,
			Amount:        0,
		}
		activated, err := uc.reconcile.Apply(ctx, p.ID, ev, model.SourceGatewayCallback)
		if err != nil {
			return nil, err
		}
		return &CheckoutSession{Purchase: activated, Handle: handle}, nil
	}

	return &CheckoutSession{Purchase: p, Handle: handle}, nil
}

// validateSwitch enforces the switch preconditions and returns the purchase
// being replaced.
func (uc *checkoutUC) validateSwitch(ctx context.Context, userID, existingPurchaseID string, target *model.Plan) (*model.Purchase, error) {
	if existingPurchaseID == "" {
		return nil, domain.ErrInvalidSwitch
	}
	old, err := uc.purchases.FindByID(ctx, repository.NoTX, existingPurchaseID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrInvalidSwitch
		}
		return nil, err
	}
	if old.UserID != userID ||
		old.Status != model.PurchaseStatusActive ||
		old.FeatureKey != target.FeatureKey ||
		old.PlanID == target.ID {
		return nil, domain.ErrInvalidSwitch
	}
	return old, nil
}

// createAuthorization calls the gateway with a bounded timeout and retries
// transport errors a small fixed number of times. Declines and configuration
// errors are never retried, and confirmation is never retried here at all: a
// blind retry could mint a duplicate authorization.
func (uc *checkoutUC) createAuthorization(ctx context.Context, gw adapter.PaymentGateway, p *model.Purchase, amount int64) (*adapter.AuthorizationHandle, error) {
	var lastErr error
	for attempt := 0; attempt <= uc.authRetries; attempt++ {
		if attempt > 0 {
			// Jittered linear backoff between attempts.
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt)*200*time.Millisecond + time.Duration(rand.Intn(100))*time.Millisecond):
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, uc.authTimeout)
		handle, err := gw.CreateAuthorization(callCtx, p, amount)
		cancel()
		if err == nil {
			return handle, nil
		}
		if errors.Is(err, domain.ErrGatewayDeclined) || errors.Is(err, domain.ErrGatewayUnavailable) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("authorization creation: %w", lastErr)
}

func (uc *checkoutUC) Cancel(ctx context.Context, userID, purchaseID string) error {
	p, err := uc.purchases.FindByID(ctx, repository.NoTX, purchaseID)
	if err != nil {
		return err
	}
	if p.UserID != userID {
		return domain.ErrUnauthorized
	}
	if p.Status != model.PurchaseStatusActive {
		return domain.ErrInvalidTransition
	}
	ok, err := uc.purchases.CancelIfActive(ctx, repository.NoTX, purchaseID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrConflictingTransition
	}
	metrics.IncTransition(string(model.PurchaseStatusCancelled))
	return nil
}

// newPurchaseID mints a lexically sortable id so the purchase table reads as
// an append-only audit trail.
func newPurchaseID() string {
	return ulid.Make().String()
}
