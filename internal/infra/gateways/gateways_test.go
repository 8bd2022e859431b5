//go:build !integration

package gateways

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"plan-purchase-service/internal/domain"
	"plan-purchase-service/internal/domain/model"
	"plan-purchase-service/internal/domain/ports/adapter"
)

type memSettingsRepo struct {
	store map[model.Gateway]*model.GatewaySettings
}

func (m *memSettingsRepo) Find(ctx context.Context, g model.Gateway) (*model.GatewaySettings, error) {
	s, ok := m.store[g]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s, nil
}

func (m *memSettingsRepo) ListEnabled(ctx context.Context) (map[model.Gateway]*model.GatewaySettings, error) {
	out := make(map[model.Gateway]*model.GatewaySettings)
	for g, s := range m.store {
		if s.Enabled {
			out[g] = s
		}
	}
	return out, nil
}

func TestResolver(t *testing.T) {
	ctx := context.Background()
	repo := &memSettingsRepo{store: map[model.Gateway]*model.GatewaySettings{
		model.GatewayStripe: {Gateway: model.GatewayStripe, Enabled: true, Settings: map[string]string{"secret_key": "sk_test", "secret_webhook_secret": "whsec_test"}},
		model.GatewayPayPal: {Gateway: model.GatewayPayPal, Enabled: false, Settings: map[string]string{"client_id": "c", "secret_client_secret": "s"}},
		model.GatewayBank:   {Gateway: model.GatewayBank, Enabled: true, Settings: map[string]string{"iban": "DE89", "account_holder": "Example Corp", "bank_name": "Example Bank"}},
	}}
	r := NewResolver(repo, "https://pay.example.com", true)

	t.Run("resolves every enabled configured gateway", func(t *testing.T) {
		for _, g := range []model.Gateway{model.GatewayStripe, model.GatewayBank, model.GatewayFree} {
			gw, err := r.Resolve(ctx, g)
			if err != nil {
				t.Fatalf("%s: %v", g, err)
			}
			if gw.Name() != g {
				t.Errorf("expected %s, got %s", g, gw.Name())
			}
		}
	})

	t.Run("disabled gateway is unavailable", func(t *testing.T) {
		if _, err := r.Resolve(ctx, model.GatewayPayPal); !errors.Is(err, domain.ErrGatewayUnavailable) {
			t.Fatalf("expected ErrGatewayUnavailable, got: %v", err)
		}
	})

	t.Run("unconfigured gateway is unavailable", func(t *testing.T) {
		empty := NewResolver(&memSettingsRepo{store: map[model.Gateway]*model.GatewaySettings{}}, "", false)
		if _, err := empty.Resolve(ctx, model.GatewayStripe); !errors.Is(err, domain.ErrGatewayUnavailable) {
			t.Fatalf("expected ErrGatewayUnavailable, got: %v", err)
		}
	})

	t.Run("missing credentials make a gateway unavailable", func(t *testing.T) {
		repo := &memSettingsRepo{store: map[model.Gateway]*model.GatewaySettings{
			model.GatewayStripe: {Gateway: model.GatewayStripe, Enabled: true, Settings: map[string]string{}},
		}}
		if _, err := NewResolver(repo, "", false).Resolve(ctx, model.GatewayStripe); !errors.Is(err, domain.ErrGatewayUnavailable) {
			t.Fatalf("expected ErrGatewayUnavailable, got: %v", err)
		}
	})

	t.Run("stripe without a webhook secret is unavailable", func(t *testing.T) {
		repo := &memSettingsRepo{store: map[model.Gateway]*model.GatewaySettings{
			model.GatewayStripe: {Gateway: model.GatewayStripe, Enabled: true, Settings: map[string]string{"secret_key": "sk_test"}},
		}}
		if _, err := NewResolver(repo, "", false).Resolve(ctx, model.GatewayStripe); !errors.Is(err, domain.ErrGatewayUnavailable) {
			t.Fatalf("expected ErrGatewayUnavailable, got: %v", err)
		}
	})

	t.Run("free needs no settings row", func(t *testing.T) {
		empty := NewResolver(&memSettingsRepo{store: map[model.Gateway]*model.GatewaySettings{}}, "", false)
		if _, err := empty.Resolve(ctx, model.GatewayFree); err != nil {
			t.Fatalf("expected free to resolve, got: %v", err)
		}
	})
}

// signStripePayload builds a Stripe-Signature header the way the gateway
// signs deliveries: HMAC-SHA256 over "<timestamp>.<body>".
func signStripePayload(secret string, ts time.Time, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), body)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeExtractEvidence(t *testing.T) {
	ctx := context.Background()
	const whsec = "whsec_test"
	g := NewStripeGateway("sk_test", whsec, "usd")

	t.Run("signed success event", func(t *testing.T) {
		body := []byte(`{"type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","amount_received":1900,"status":"succeeded","metadata":{"purchase_id":"p-1"}}}}`)
		ev, err := g.ExtractEvidence(ctx, adapter.CallbackPayload{Body: body, Signature: signStripePayload(whsec, time.Now(), body)})
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if ev.Outcome != model.EvidenceSuccess || ev.PurchaseID != "p-1" || ev.TransactionID != "pi_1" || ev.Amount != 1900 {
			t.Errorf("unexpected evidence: %+v", ev)
		}
		if ev.IntentID != "pi_1" {
			t.Errorf("expected the intent id on the evidence, got %q", ev.IntentID)
		}
	})

	t.Run("signed failure event carries the reason", func(t *testing.T) {
		body := []byte(`{"type":"payment_intent.payment_failed","data":{"object":{"id":"pi_1","metadata":{"purchase_id":"p-1"},"last_payment_error":{"message":"insufficient funds"}}}}`)
		ev, err := g.ExtractEvidence(ctx, adapter.CallbackPayload{Body: body, Signature: signStripePayload(whsec, time.Now(), body)})
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if ev.Outcome != model.EvidenceFailure || ev.Reason != "insufficient funds" || ev.IntentID != "pi_1" {
			t.Errorf("unexpected evidence: %+v", ev)
		}
	})

	t.Run("unsigned event is rejected", func(t *testing.T) {
		body := []byte(`{"type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","metadata":{"purchase_id":"p-1"}}}}`)
		if _, err := g.ExtractEvidence(ctx, adapter.CallbackPayload{Body: body}); !errors.Is(err, domain.ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got: %v", err)
		}
	})

	t.Run("event signed with the wrong secret is rejected", func(t *testing.T) {
		body := []byte(`{"type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","metadata":{"purchase_id":"p-1"}}}}`)
		sig := signStripePayload("whsec_other", time.Now(), body)
		if _, err := g.ExtractEvidence(ctx, adapter.CallbackPayload{Body: body, Signature: sig}); !errors.Is(err, domain.ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got: %v", err)
		}
	})

	t.Run("stale signature is rejected", func(t *testing.T) {
		body := []byte(`{"type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","metadata":{"purchase_id":"p-1"}}}}`)
		sig := signStripePayload(whsec, time.Now().Add(-time.Hour), body)
		if _, err := g.ExtractEvidence(ctx, adapter.CallbackPayload{Body: body, Signature: sig}); !errors.Is(err, domain.ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got: %v", err)
		}
	})

	t.Run("tampered body fails the signature check", func(t *testing.T) {
		body := []byte(`{"type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","metadata":{"purchase_id":"p-1"}}}}`)
		sig := signStripePayload(whsec, time.Now(), body)
		forged := []byte(strings.Replace(string(body), "p-1", "p-2", 1))
		if _, err := g.ExtractEvidence(ctx, adapter.CallbackPayload{Body: forged, Signature: sig}); !errors.Is(err, domain.ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got: %v", err)
		}
	})

	t.Run("unhandled event types are rejected", func(t *testing.T) {
		body := []byte(`{"type":"customer.created","data":{"object":{"id":"pi_1","metadata":{"purchase_id":"p-1"}}}}`)
		sig := signStripePayload(whsec, time.Now(), body)
		if _, err := g.ExtractEvidence(ctx, adapter.CallbackPayload{Body: body, Signature: sig}); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got: %v", err)
		}
	})

	t.Run("empty payload is rejected", func(t *testing.T) {
		if _, err := g.ExtractEvidence(ctx, adapter.CallbackPayload{}); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got: %v", err)
		}
	})
}

func TestBankGateway(t *testing.T) {
	ctx := context.Background()
	g := NewBankGateway("Example Corp", "DE89370400440532013000", "Example Bank")

	p := &model.Purchase{ID: "01ARZ3NDEKTSV4RRFFQ69G5FAV"}
	handle, err := g.CreateAuthorization(ctx, p, 1900)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if handle.Kind != adapter.KindInstructions {
		t.Errorf("expected instructions handle, got %s", handle.Kind)
	}
	if !strings.Contains(handle.Instructions, p.ID) {
		t.Error("expected the purchase id as transfer reference")
	}
	if !strings.Contains(handle.Instructions, "19.00") {
		t.Errorf("expected the formatted amount, got %q", handle.Instructions)
	}

	if _, err := g.ExtractEvidence(ctx, adapter.CallbackPayload{Query: url.Values{}}); err == nil {
		t.Fatal("expected bank callbacks to be rejected")
	}
}

func TestFreeGateway(t *testing.T) {
	ctx := context.Background()
	g := NewFreeGateway()

	handle, err := g.CreateAuthorization(ctx, &model.Purchase{ID: "p-1"}, 0)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if handle.Kind != adapter.KindImmediate {
		t.Errorf("expected immediate handle, got %s", handle.Kind)
	}

	if _, err := g.CreateAuthorization(ctx, &model.Purchase{ID: "p-1"}, 100); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for a non-zero amount, got: %v", err)
	}
}

func TestAmountValue(t *testing.T) {
	cases := map[int64]string{
		0:     "0.00",
		5:     "0.05",
		1900:  "19.00",
		19999: "199.99",
	}
	for cents, want := range cases {
		if got := amountValue(cents); got != want {
			t.Errorf("amountValue(%d) = %q, want %q", cents, got, want)
		}
	}
}
