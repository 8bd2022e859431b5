package gateways

import (
	"context"
	"fmt"

	"plan-purchase-service/internal/domain"
	"plan-purchase-service/internal/domain/model"
	"plan-purchase-service/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*BankGateway)(nil)

// BankGateway implements the manual-transfer variant. Checkout hands back
// static transfer instructions; there is no callback channel, the purchase is
// finalized by an administrator override once the transfer is verified.
type BankGateway struct {
	accountHolder string
	iban          string
	bankName      string
}

func NewBankGateway(accountHolder, iban, bankName string) *BankGateway {
	return &BankGateway{
		accountHolder: accountHolder,
		iban:          iban,
		bankName:      bankName,
	}
}

func (g *BankGateway) Name() model.Gateway { return model.GatewayBank }

func (g *BankGateway) CreateAuthorization(ctx context.Context, p *model.Purchase, amount int64) (*adapter.AuthorizationHandle, error) {
	instructions := fmt.Sprintf(
		"Transfer %d.%02d to %s, IBAN %s (%s). Use reference %s. Your purchase activates once the transfer is verified.",
		amount/100, amount%100, g.accountHolder, g.iban, g.bankName, p.ID,
	)
	return &adapter.AuthorizationHandle{
		Kind:         adapter.KindInstructions,
		Instructions: instructions,
	}, nil
}

// ExtractEvidence always fails: bank transfers have no automated signal, so
// no payload can be trusted as evidence.
func (g *BankGateway) ExtractEvidence(ctx context.Context, payload adapter.CallbackPayload) (*model.Evidence, error) {
	return nil, fmt.Errorf("%w: bank transfers are confirmed manually", domain.ErrInvalidArgument)
}
