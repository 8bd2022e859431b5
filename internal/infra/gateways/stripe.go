package gateways

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"plan-purchase-service/internal/domain"
	"plan-purchase-service/internal/domain/model"
	"plan-purchase-service/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*StripeGateway)(nil)

// signatureTolerance bounds how old a signed webhook timestamp may be.
const signatureTolerance = 5 * time.Minute

// StripeGateway implements the card-intent variant: a payment intent is
// created server-side and confirmed by the client with the returned secret.
type StripeGateway struct {
	secretKey     string
	webhookSecret string
	currency      string
	baseURL       string
	client        *http.Client
}

func NewStripeGateway(secretKey, webhookSecret, currency string) *StripeGateway {
	if currency == "" {
		currency = "usd"
	}
	return &StripeGateway{
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		currency:      currency,
		baseURL:       "https://api.stripe.com",
		client:        &http.Client{},
	}
}

func (g *StripeGateway) Name() model.Gateway { return model.GatewayStripe }

type stripeIntentResponse struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
	Error        *struct {
		Type        string `json:"type"`
		Code        string `json:"code"`
		DeclineCode string `json:"decline_code"`
		Message     string `json:"message"`
	} `json:"error"`
}

func (g *StripeGateway) CreateAuthorization(ctx context.Context, p *model.Purchase, amount int64) (*adapter.AuthorizationHandle, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amount, 10))
	form.Set("currency", g.currency)
	form.Set("metadata[purchase_id]", p.ID)
	form.Set("automatic_payment_methods[enabled]", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/payment_intents", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var out stripeIntentResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w, body: %s", err, string(body))
	}

	if out.Error != nil {
		if out.Error.Type == "card_error" {
			return nil, fmt.Errorf("%w: %s", domain.ErrGatewayDeclined, out.Error.Message)
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, fmt.Errorf("%w: %s", domain.ErrGatewayUnavailable, out.Error.Message)
		}
		return nil, fmt.Errorf("stripe error: %s (%s)", out.Error.Message, out.Error.Code)
	}
	if out.ID == "" || out.ClientSecret == "" {
		return nil, fmt.Errorf("stripe: incomplete intent response, body: %s", string(body))
	}

	return &adapter.AuthorizationHandle{
		Kind:         adapter.KindClientConfirm,
		IntentID:     out.ID,
		ClientSecret: out.ClientSecret,
	}, nil
}

// stripeEvent is the webhook envelope.
type stripeEvent struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID             string `json:"id"`
			AmountReceived int64  `json:"amount_received"`
			Status         string `json:"status"`
			Metadata       struct {
				PurchaseID string `json:"purchase_id"`
			} `json:"metadata"`
			LastPaymentError *struct {
				Message string `json:"message"`
			} `json:"last_payment_error"`
		} `json:"object"`
	} `json:"data"`
}

// verifySignature checks a Stripe-Signature header against the webhook
// secret. The header carries a timestamp and one or more v1 entries, each an
// HMAC-SHA256 over "<timestamp>.<body>". An unsigned or stale payload is
// rejected outright.
func (g *StripeGateway) verifySignature(header string, body []byte, now time.Time) error {
	if g.webhookSecret == "" || header == "" {
		return domain.ErrUnauthorized
	}

	var ts int64
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return domain.ErrUnauthorized
			}
			ts = n
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts == 0 || len(sigs) == 0 {
		return domain.ErrUnauthorized
	}
	if d := now.Sub(time.Unix(ts, 0)); d > signatureTolerance || d < -signatureTolerance {
		return domain.ErrUnauthorized
	}

	mac := hmac.New(sha256.New, []byte(g.webhookSecret))
	fmt.Fprintf(mac, "%d.%s", ts, body)
	want := mac.Sum(nil)
	for _, s := range sigs {
		got, err := hex.DecodeString(s)
		if err != nil {
			continue
		}
		if hmac.Equal(got, want) {
			return nil
		}
	}
	return domain.ErrUnauthorized
}

// ExtractEvidence accepts only signed webhook events. Synchronous client
// confirmations do not pass through here; they arrive on the token-guarded
// confirmation endpoint instead.
func (g *StripeGateway) ExtractEvidence(ctx context.Context, payload adapter.CallbackPayload) (*model.Evidence, error) {
	if len(payload.Body) == 0 {
		return nil, domain.ErrInvalidArgument
	}
	if err := g.verifySignature(payload.Signature, payload.Body, time.Now()); err != nil {
		return nil, fmt.Errorf("%w: webhook signature rejected", err)
	}

	var ev stripeEvent
	if err := json.Unmarshal(payload.Body, &ev); err != nil {
		return nil, fmt.Errorf("%w: malformed event", domain.ErrInvalidArgument)
	}
	obj := ev.Data.Object
	if obj.ID == "" || obj.Metadata.PurchaseID == "" {
		return nil, domain.ErrInvalidArgument
	}
	switch ev.Type {
	case "payment_intent.succeeded":
		return &model.Evidence{
			PurchaseID:    obj.Metadata.PurchaseID,
			TransactionID: obj.ID,
			IntentID:      obj.ID,
			Outcome:       model.EvidenceSuccess,
			Amount:        obj.AmountReceived,
		}, nil
	case "payment_intent.payment_failed", "payment_intent.canceled":
		reason := "payment failed"
		if obj.LastPaymentError != nil && obj.LastPaymentError.Message != "" {
			reason = obj.LastPaymentError.Message
		}
		return &model.Evidence{
			PurchaseID:    obj.Metadata.PurchaseID,
			TransactionID: obj.ID,
			IntentID:      obj.ID,
			Outcome:       model.EvidenceFailure,
			Reason:        reason,
		}, nil
	}
	return nil, fmt.Errorf("%w: unhandled event type %s", domain.ErrInvalidArgument, ev.Type)
}
