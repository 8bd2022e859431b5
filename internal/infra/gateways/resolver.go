package gateways

import (
	"context"
	"fmt"
	"strings"

	"plan-purchase-service/internal/domain"
	"plan-purchase-service/internal/domain/model"
	"plan-purchase-service/internal/domain/ports/adapter"
	"plan-purchase-service/internal/domain/ports/repository"
)

var _ adapter.GatewayResolver = (*Resolver)(nil)

// Resolver builds a ready adapter per request from stored gateway settings.
// The variant set is closed; the switch below is exhaustive and adding a
// gateway means touching it, the model enum, and nothing else.
type Resolver struct {
	settings repository.GatewaySettingsRepository
	baseURL  string // public base URL for gateway return links
	dev      bool
}

func NewResolver(settings repository.GatewaySettingsRepository, baseURL string, dev bool) *Resolver {
	return &Resolver{
		settings: settings,
		baseURL:  strings.TrimRight(baseURL, "/"),
		dev:      dev,
	}
}

func (r *Resolver) Resolve(ctx context.Context, g model.Gateway) (adapter.PaymentGateway, error) {
	// Free needs no stored settings and is always available.
	if g == model.GatewayFree {
		return NewFreeGateway(), nil
	}

	s, err := r.settings.Find(ctx, g)
	if err != nil {
		return nil, fmt.Errorf("%w: %s not configured", domain.ErrGatewayUnavailable, g)
	}
	if !s.Enabled {
		return nil, fmt.Errorf("%w: %s is disabled", domain.ErrGatewayUnavailable, g)
	}

	switch g {
	case model.GatewayStripe:
		key := s.Get("secret_key")
		if key == "" {
			return nil, fmt.Errorf("%w: stripe secret key missing", domain.ErrGatewayUnavailable)
		}
		whsec := s.Get("secret_webhook_secret")
		if whsec == "" {
			return nil, fmt.Errorf("%w: stripe webhook secret missing", domain.ErrGatewayUnavailable)
		}
		return NewStripeGateway(key, whsec, s.Get("currency")), nil

	case model.GatewayPayPal:
		clientID, secret := s.Get("client_id"), s.Get("secret_client_secret")
		if clientID == "" || secret == "" {
			return nil, fmt.Errorf("%w: paypal credentials missing", domain.ErrGatewayUnavailable)
		}
		returnURL := r.baseURL + "/api/v1/callbacks/paypal"
		return NewPayPalGateway(clientID, secret, s.Get("currency"), returnURL, r.dev), nil

	case model.GatewayBank:
		iban := s.Get("iban")
		if iban == "" {
			return nil, fmt.Errorf("%w: bank account details missing", domain.ErrGatewayUnavailable)
		}
		return NewBankGateway(s.Get("account_holder"), iban, s.Get("bank_name")), nil

	case model.GatewayFree:
		return NewFreeGateway(), nil
	}
	return nil, fmt.Errorf("%w: unknown gateway %q", domain.ErrInvalidArgument, g)
}
