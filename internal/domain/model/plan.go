package model

import (
	"time"

	"plan-purchase-service/internal/domain"
)

// Plan represents the commercial terms for a product feature. It is owned by
// the catalog collaborator; this service only reads it to build snapshots.
type Plan struct {
	ID           string
	Name         string
	FeatureKey   string
	PriceCents   int64 // minor units; 0 means free
	DurationDays int   // ignored when OneTime is set
	OneTime      bool  // lifetime/one-off plans never expire
	RequestLimit int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (p *Plan) IsZero() bool { return p == nil || p.ID == "" }

func (p *Plan) IsFree() bool { return p.PriceCents == 0 }

// NewPlan validates and constructs a plan.
func NewPlan(id, name, featureKey string, priceCents int64, durationDays int, oneTime bool, requestLimit int64) (*Plan, error) {
	if id == "" || name == "" || featureKey == "" || priceCents < 0 || requestLimit < 0 {
		return nil, domain.ErrInvalidArgument
	}
	if !oneTime && durationDays <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &Plan{
		ID:           id,
		Name:         name,
		FeatureKey:   featureKey,
		PriceCents:   priceCents,
		DurationDays: durationDays,
		OneTime:      oneTime,
		RequestLimit: requestLimit,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// PlanSnapshot is the immutable copy of plan terms taken at purchase time.
// All later price and limit computations for a purchase use the snapshot,
// never the live plan.
type PlanSnapshot struct {
	PlanID       string `json:"plan_id"`
	Name         string `json:"name"`
	FeatureKey   string `json:"feature_key"`
	PriceCents   int64  `json:"price_cents"`
	DurationDays int    `json:"duration_days"`
	OneTime      bool   `json:"one_time"`
	RequestLimit int64  `json:"request_limit"`
}

// Snapshot copies the plan terms by value.
func (p *Plan) Snapshot() PlanSnapshot {
	return PlanSnapshot{
		PlanID:       p.ID,
		Name:         p.Name,
		FeatureKey:   p.FeatureKey,
		PriceCents:   p.PriceCents,
		DurationDays: p.DurationDays,
		OneTime:      p.OneTime,
		RequestLimit: p.RequestLimit,
	}
}

// ExpiryFrom computes the expiry for a purchase activated at the given time.
// One-time plans never expire.
func (s PlanSnapshot) ExpiryFrom(activatedAt time.Time) *time.Time {
	if s.OneTime {
		return nil
	}
	exp := activatedAt.Add(time.Duration(s.DurationDays) * 24 * time.Hour)
	return &exp
}
