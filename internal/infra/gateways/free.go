package gateways

import (
	"context"
	"fmt"

	"plan-purchase-service/internal/domain"
	"plan-purchase-service/internal/domain/model"
	"plan-purchase-service/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*FreeGateway)(nil)

// FreeGateway is the zero-amount variant: nothing to authorize, the checkout
// orchestrator applies success evidence in the same operation.
type FreeGateway struct{}

func NewFreeGateway() *FreeGateway { return &FreeGateway{} }

func (g *FreeGateway) Name() model.Gateway { return model.GatewayFree }

func (g *FreeGateway) CreateAuthorization(ctx context.Context, p *model.Purchase, amount int64) (*adapter.AuthorizationHandle, error) {
	if amount != 0 {
		return nil, fmt.Errorf("%w: free gateway cannot charge %d", domain.ErrInvalidArgument, amount)
	}
	return &adapter.AuthorizationHandle{Kind: adapter.KindImmediate}, nil
}

func (g *FreeGateway) ExtractEvidence(ctx context.Context, payload adapter.CallbackPayload) (*model.Evidence, error) {
	return nil, fmt.Errorf("%w: free purchases have no callback channel", domain.ErrInvalidArgument)
}
