package adapter

import (
	"context"
	"net/url"

	"plan-purchase-service/internal/domain/model"
)

type AuthorizationKind string

const (
	// KindClientConfirm means the caller finishes a client-side confirmation
	// handshake against the gateway (card-intent flows).
	KindClientConfirm AuthorizationKind = "client_confirm"
	// KindRedirect means the caller is sent to an external approval page.
	KindRedirect AuthorizationKind = "redirect"
	// KindInstructions means the caller receives static transfer instructions
	// and confirmation happens out of band.
	KindInstructions AuthorizationKind = "instructions"
	// KindImmediate means no external authorization is needed.
	KindImmediate AuthorizationKind = "immediate"
)

// AuthorizationHandle is what a caller needs to complete the gateway-specific
// authorization path started by CreateAuthorization.
type AuthorizationHandle struct {
	Kind         AuthorizationKind
	IntentID     string // gateway correlation token, when the gateway assigns one
	ClientSecret string // card-intent flows only
	RedirectURL  string // redirect flows only
	Instructions string // manual flows only
}

// CallbackPayload carries a raw gateway callback into ExtractEvidence without
// the adapter knowing the transport. Signature is the transport-level
// authenticity proof (the Stripe-Signature header); adapters that verify
// callbacks cryptographically reject payloads without a valid one.
type CallbackPayload struct {
	Query     url.Values
	Body      []byte
	Signature string
}

// PaymentGateway is the port over the four closed gateway variants. Selection
// is an exhaustive switch in the resolver, so adding a gateway is a
// compile-time-checked change rather than a runtime lookup.
type PaymentGateway interface {
	Name() model.Gateway

	// CreateAuthorization initiates a charge or intent for the purchase.
	// Transport errors are retryable by the orchestrator; declines are not.
	CreateAuthorization(ctx context.Context, p *model.Purchase, amount int64) (*AuthorizationHandle, error)

	// ExtractEvidence normalizes a gateway-specific success/failure signal
	// into the common evidence shape. It must be safe to call concurrently
	// for the same transaction; idempotency is the reconciler's job.
	ExtractEvidence(ctx context.Context, payload CallbackPayload) (*model.Evidence, error)
}

// GatewayResolver yields a ready adapter for an enabled gateway, or
// domain.ErrGatewayUnavailable when the gateway is disabled or misconfigured.
// Settings are read at checkout time, not cached at startup.
type GatewayResolver interface {
	Resolve(ctx context.Context, g model.Gateway) (PaymentGateway, error)
}
