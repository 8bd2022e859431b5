package model

import (
	"time"

	"plan-purchase-service/internal/domain"
)

type Gateway string

const (
	GatewayStripe Gateway = "stripe"
	GatewayPayPal Gateway = "paypal"
	GatewayBank   Gateway = "bank"
	GatewayFree   Gateway = "free"
)

func ParseGateway(s string) (Gateway, error) {
	switch Gateway(s) {
	case GatewayStripe, GatewayPayPal, GatewayBank, GatewayFree:
		return Gateway(s), nil
	}
	return "", domain.ErrInvalidArgument
}

type PurchaseStatus string

const (
	PurchaseStatusDraft     PurchaseStatus = "draft"           // intent created, no authorization yet
	PurchaseStatusPending   PurchaseStatus = "pending_payment" // authorization initiated, awaiting confirmation
	PurchaseStatusActive    PurchaseStatus = "active"
	PurchaseStatusFailed    PurchaseStatus = "failed"
	PurchaseStatusCancelled PurchaseStatus = "cancelled"
	PurchaseStatusExpired   PurchaseStatus = "expired"
	PurchaseStatusSwitched  PurchaseStatus = "switched"
)

// purchaseTransitions is the closed edge set of the purchase lifecycle.
// A switch never re-authorizes an existing purchase: the old record moves to
// "switched" and a fresh record runs draft -> pending_payment -> active,
// keeping the audit trail append-only.
//
// active -> failed exists solely for the gateway-callback precedence rule: an
// authoritative failure callback may override an optimistic client-sourced
// activation for the same transaction.
var purchaseTransitions = map[PurchaseStatus][]PurchaseStatus{
	PurchaseStatusDraft:     {PurchaseStatusPending},
	PurchaseStatusPending:   {PurchaseStatusActive, PurchaseStatusFailed},
	PurchaseStatusActive:    {PurchaseStatusCancelled, PurchaseStatusExpired, PurchaseStatusSwitched, PurchaseStatusFailed},
	PurchaseStatusFailed:    {},
	PurchaseStatusCancelled: {},
	PurchaseStatusExpired:   {},
	PurchaseStatusSwitched:  {},
}

func (s PurchaseStatus) CanTransitionTo(target PurchaseStatus) bool {
	for _, t := range purchaseTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

func (s PurchaseStatus) IsTerminal() bool {
	switch s {
	case PurchaseStatusFailed, PurchaseStatusCancelled, PurchaseStatusExpired, PurchaseStatusSwitched:
		return true
	}
	return false
}

// Purchase is the durable record of one commercial transaction for one
// user/plan/feature. Purchases are never deleted, only transitioned.
type Purchase struct {
	ID         string // ULID, assigned once
	UserID     string
	PlanID     string
	FeatureKey string
	Snapshot   PlanSnapshot // written at creation, never mutated

	Gateway       Gateway
	AmountPaid    *int64  // minor units; nil until finalized
	TransactionID *string // gateway-assigned; unique once non-nil
	IntentID      *string // gateway-specific correlation token

	Status        PurchaseStatus
	PurchaseDate  time.Time
	ExpiryDate    *time.Time // nil for one-time plans and until activation
	FailureReason *string
	FailureAt     *time.Time

	SwitchPending       bool
	PendingSwitchPlanID *string
	AutoRenew           bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewPurchase creates a draft purchase with an immutable plan snapshot.
func NewPurchase(id, userID string, plan *Plan, gateway Gateway) (*Purchase, error) {
	if id == "" || userID == "" || plan.IsZero() {
		return nil, domain.ErrInvalidArgument
	}
	if _, err := ParseGateway(string(gateway)); err != nil {
		return nil, err
	}
	now := time.Now()
	return &Purchase{
		ID:           id,
		UserID:       userID,
		PlanID:       plan.ID,
		FeatureKey:   plan.FeatureKey,
		Snapshot:     plan.Snapshot(),
		Gateway:      gateway,
		Status:       PurchaseStatusDraft,
		PurchaseDate: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Transition moves the purchase along a permitted edge or fails with
// ErrInvalidTransition. Persistence-level compare-and-set still guards the
// write; this is the in-memory guard.
func (p *Purchase) Transition(target PurchaseStatus) error {
	if !p.Status.CanTransitionTo(target) {
		return domain.ErrInvalidTransition
	}
	p.Status = target
	p.UpdatedAt = time.Now()
	return nil
}

// HasTransaction reports whether the purchase already carries the given
// gateway transaction id.
func (p *Purchase) HasTransaction(transactionID string) bool {
	return p.TransactionID != nil && transactionID != "" && *p.TransactionID == transactionID
}
