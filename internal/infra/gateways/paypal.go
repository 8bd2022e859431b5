package gateways

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"plan-purchase-service/internal/domain"
	"plan-purchase-service/internal/domain/model"
	"plan-purchase-service/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*PayPalGateway)(nil)

// PayPalGateway implements the redirect variant: an order is created
// server-side, the user approves it on the gateway's page, and the
// return callback captures it.
type PayPalGateway struct {
	clientID  string
	secret    string
	currency  string
	returnURL string
	baseURL   string
	client    *http.Client
}

func NewPayPalGateway(clientID, secret, currency, returnURL string, sandbox bool) *PayPalGateway {
	if currency == "" {
		currency = "USD"
	}
	baseURL := "https://api-m.paypal.com"
	if sandbox {
		baseURL = "https://api-m.sandbox.paypal.com"
	}
	return &PayPalGateway{
		clientID:  clientID,
		secret:    secret,
		currency:  currency,
		returnURL: returnURL,
		baseURL:   baseURL,
		client:    &http.Client{},
	}
}

func (g *PayPalGateway) Name() model.Gateway { return model.GatewayPayPal }

func (g *PayPalGateway) accessToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/oauth2/token", strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(g.clientID, g.secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return "", fmt.Errorf("%w: invalid paypal credentials", domain.ErrGatewayUnavailable)
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.AccessToken == "" {
		return "", fmt.Errorf("%w: token response unreadable", domain.ErrGatewayUnavailable)
	}
	return out.AccessToken, nil
}

// amountValue renders minor units as the decimal string PayPal expects.
func amountValue(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

func (g *PayPalGateway) CreateAuthorization(ctx context.Context, p *model.Purchase, amount int64) (*adapter.AuthorizationHandle, error) {
	token, err := g.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	returnURL := g.returnURL
	if returnURL != "" {
		sep := "?"
		if strings.Contains(returnURL, "?") {
			sep = "&"
		}
		returnURL += sep + "purchase_id=" + url.QueryEscape(p.ID)
	}

	reqBody := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{{
			"reference_id": p.ID,
			"amount": map[string]string{
				"currency_code": g.currency,
				"value":         amountValue(amount),
			},
		}},
		"application_context": map[string]string{
			"return_url":  returnURL,
			"user_action": "PAY_NOW",
		},
	}
	raw, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v2/checkout/orders", strings.NewReader(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Links  []struct {
			Href string `json:"href"`
			Rel  string `json:"rel"`
		} `json:"links"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w, body: %s", err, string(body))
	}
	if out.ID == "" {
		return nil, fmt.Errorf("paypal: order creation failed, body: %s", string(body))
	}

	approve := ""
	for _, l := range out.Links {
		if l.Rel == "approve" {
			approve = l.Href
			break
		}
	}
	if approve == "" {
		return nil, fmt.Errorf("paypal: no approve link in order %s", out.ID)
	}

	return &adapter.AuthorizationHandle{
		Kind:        adapter.KindRedirect,
		IntentID:    out.ID,
		RedirectURL: approve,
	}, nil
}

// ExtractEvidence captures the approved order named by the return callback.
// Capture is idempotent on PayPal's side for an already-captured order, and
// the reconciler's idempotency rule covers replays on ours.
func (g *PayPalGateway) ExtractEvidence(ctx context.Context, payload adapter.CallbackPayload) (*model.Evidence, error) {
	orderID := payload.Query.Get("token")
	purchaseID := payload.Query.Get("purchase_id")
	if orderID == "" || purchaseID == "" {
		return nil, domain.ErrInvalidArgument
	}

	token, err := g.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v2/checkout/orders/"+url.PathEscape(orderID)+"/capture", strings.NewReader("{}"))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var out struct {
		ID            string `json:"id"`
		Status        string `json:"status"`
		PurchaseUnits []struct {
			ReferenceID string `json:"reference_id"`
			Payments    struct {
				Captures []struct {
					ID     string `json:"id"`
					Status string `json:"status"`
				} `json:"captures"`
			} `json:"payments"`
		} `json:"purchase_units"`
		Details []struct {
			Issue string `json:"issue"`
		} `json:"details"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w, body: %s", err, string(body))
	}

	if out.Status != "COMPLETED" {
		reason := "paypal capture not completed"
		if len(out.Details) > 0 && out.Details[0].Issue != "" {
			reason = "paypal: " + out.Details[0].Issue
		}
		return &model.Evidence{
			PurchaseID:    purchaseID,
			TransactionID: orderID,
			IntentID:      orderID,
			Outcome:       model.EvidenceFailure,
			Reason:        reason,
		}, nil
	}

	transactionID := orderID
	if len(out.PurchaseUnits) > 0 && len(out.PurchaseUnits[0].Payments.Captures) > 0 {
		transactionID = out.PurchaseUnits[0].Payments.Captures[0].ID
	}
	return &model.Evidence{
		PurchaseID:    purchaseID,
		TransactionID: transactionID,
		IntentID:      orderID,
		Outcome:       model.EvidenceSuccess,
	}, nil
}
