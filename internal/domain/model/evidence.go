package model

import "plan-purchase-service/internal/domain"

type EvidenceOutcome string

const (
	EvidenceSuccess EvidenceOutcome = "success"
	EvidenceFailure EvidenceOutcome = "failure"
)

type EvidenceSource string

const (
	SourceClient          EvidenceSource = "client"           // synchronous client confirmation call
	SourceGatewayCallback EvidenceSource = "gateway_callback" // asynchronous, authoritative
	SourceAdminOverride   EvidenceSource = "admin_override"   // manual finalization / correction
)

// Evidence is the normalized success/failure signal presented to the
// reconciler, regardless of which gateway or channel produced it.
type Evidence struct {
	PurchaseID    string
	TransactionID string
	IntentID      string // gateway correlation token; when set, must match the purchase's stored intent
	Outcome       EvidenceOutcome
	Amount        int64
	Reason        string // human-readable failure reason
	Actor         string // admin identity for admin_override evidence
}

func (e *Evidence) Validate() error {
	if e == nil || e.PurchaseID == "" {
		return domain.ErrInvalidArgument
	}
	switch e.Outcome {
	case EvidenceSuccess, EvidenceFailure:
	default:
		return domain.ErrInvalidArgument
	}
	if e.Outcome == EvidenceSuccess && e.TransactionID == "" {
		return domain.ErrInvalidArgument
	}
	return nil
}

// GatewaySettings is the per-gateway configuration owned by the
// administration collaborator. The core only reads the enabled flag and the
// settings map at checkout time.
type GatewaySettings struct {
	Gateway  Gateway
	Enabled  bool
	Settings map[string]string
}

func (s *GatewaySettings) Get(key string) string {
	if s == nil || s.Settings == nil {
		return ""
	}
	return s.Settings[key]
}
