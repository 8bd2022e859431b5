package web

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"plan-purchase-service/internal/domain"
	"plan-purchase-service/internal/domain/model"
	"plan-purchase-service/internal/domain/ports/adapter"
	"plan-purchase-service/internal/infra/logging"
	"plan-purchase-service/internal/usecase"
)

// purchaseView is the external representation of a purchase. Internal
// correlation tokens never leave the service.
type purchaseView struct {
	ID            string  `json:"id"`
	PlanID        string  `json:"plan_id"`
	PlanName      string  `json:"plan_name"`
	FeatureKey    string  `json:"feature_key"`
	Gateway       string  `json:"gateway"`
	Status        string  `json:"status"`
	PriceCents    int64   `json:"price_cents"`
	AmountPaid    *int64  `json:"amount_paid,omitempty"`
	TransactionID *string `json:"transaction_id,omitempty"`
	PurchaseDate  string  `json:"purchase_date"`
	ExpiryDate    *string `json:"expiry_date,omitempty"`
	FailureReason *string `json:"failure_reason,omitempty"`
	SwitchPending bool    `json:"switch_pending,omitempty"`
}

func toPurchaseView(p *model.Purchase) purchaseView {
	v := purchaseView{
		ID:            p.ID,
		PlanID:        p.PlanID,
		PlanName:      p.Snapshot.Name,
		FeatureKey:    p.FeatureKey,
		Gateway:       string(p.Gateway),
		Status:        string(p.Status),
		PriceCents:    p.Snapshot.PriceCents,
		AmountPaid:    p.AmountPaid,
		TransactionID: p.TransactionID,
		PurchaseDate:  p.PurchaseDate.Format(time.RFC3339),
		FailureReason: p.FailureReason,
		SwitchPending: p.SwitchPending,
	}
	if p.ExpiryDate != nil {
		s := p.ExpiryDate.Format(time.RFC3339)
		v.ExpiryDate = &s
	}
	return v
}

type authorizationView struct {
	Kind         string `json:"kind"`
	ClientSecret string `json:"client_secret,omitempty"`
	RedirectURL  string `json:"redirect_url,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

type checkoutRequest struct {
	PlanID             string `json:"plan_id"`
	Gateway            string `json:"gateway"`
	Type               string `json:"type"` // "new" (default) or "switch"
	ExistingPurchaseID string `json:"existing_purchase_id"`
}

type checkoutResponse struct {
	Purchase      purchaseView      `json:"purchase"`
	Authorization authorizationView `json:"authorization"`
	ConfirmToken  string            `json:"confirm_token,omitempty"`
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := logging.WithUserID(r.Context(), userID(r))
	uid := userID(r)
	if uid == "" {
		writeError(w, domain.ErrUnauthorized)
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrInvalidArgument)
		return
	}
	gateway, err := model.ParseGateway(req.Gateway)
	if err != nil {
		writeError(w, err)
		return
	}
	kind := usecase.CheckoutNew
	switch req.Type {
	case "", "new":
	case "switch":
		kind = usecase.CheckoutSwitch
	default:
		writeError(w, domain.ErrInvalidArgument)
		return
	}

	session, err := s.checkoutUC.Begin(ctx, uid, req.PlanID, gateway, kind, req.ExistingPurchaseID)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := checkoutResponse{
		Purchase: toPurchaseView(session.Purchase),
		Authorization: authorizationView{
			Kind:         string(session.Handle.Kind),
			ClientSecret: session.Handle.ClientSecret,
			RedirectURL:  session.Handle.RedirectURL,
			Instructions: session.Handle.Instructions,
		},
	}
	// Only flows with a client confirmation step carry a token; bank transfers
	// finalize through admin override and free plans are already active.
	switch session.Handle.Kind {
	case adapter.KindClientConfirm, adapter.KindRedirect:
		token, err := s.tokens.Mint(uid, session.Purchase.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		resp.ConfirmToken = token
	}

	writeJSON(w, http.StatusCreated, resp)
}

type confirmRequest struct {
	Token         string `json:"token"`
	TransactionID string `json:"transaction_id"`
	Outcome       string `json:"outcome"` // "success" or "failure"
	Reason        string `json:"reason"`
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := logging.WithUserID(r.Context(), userID(r))
	purchaseID := chi.URLParam(r, "id")

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrInvalidArgument)
		return
	}
	if _, err := s.tokens.Redeem(ctx, req.Token, purchaseID); err != nil {
		writeError(w, err)
		return
	}

	ev := model.Evidence{
		PurchaseID:    purchaseID,
		TransactionID: req.TransactionID,
		Outcome:       model.EvidenceOutcome(req.Outcome),
		Reason:        req.Reason,
	}
	p, err := s.reconcileUC.Apply(ctx, purchaseID, ev, model.SourceClient)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPurchaseView(p))
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	ctx := logging.WithUserID(r.Context(), userID(r))
	purchaseID := chi.URLParam(r, "id")
	refresh, _ := strconv.Atoi(r.URL.Query().Get("refresh"))
	if refresh < 0 {
		refresh = 0
	}

	st, err := s.statusUC.Poll(ctx, userID(r), purchaseID, refresh)
	if err != nil {
		writeError(w, err)
		return
	}
	if st.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(st.RetryAfterSeconds))
	}
	writeJSON(w, http.StatusOK, struct {
		PurchaseID        string  `json:"purchase_id"`
		Status            string  `json:"status"`
		PlanName          string  `json:"plan_name"`
		FeatureKey        string  `json:"feature_key"`
		AmountPaid        *int64  `json:"amount_paid,omitempty"`
		TransactionID     *string `json:"transaction_id,omitempty"`
		ExpiryDate        *string `json:"expiry_date,omitempty"`
		Reason            string  `json:"reason,omitempty"`
		RefreshCount      int     `json:"refresh_count"`
		RetryAfterSeconds int     `json:"retry_after_seconds,omitempty"`
	}{
		PurchaseID:        st.PurchaseID,
		Status:            string(st.Status),
		PlanName:          st.PlanName,
		FeatureKey:        st.FeatureKey,
		AmountPaid:        st.AmountPaid,
		TransactionID:     st.TransactionID,
		ExpiryDate:        st.ExpiryDate,
		Reason:            st.Reason,
		RefreshCount:      st.RefreshCount,
		RetryAfterSeconds: st.RetryAfterSeconds,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := logging.WithUserID(r.Context(), userID(r))
	purchaseID := chi.URLParam(r, "id")
	if err := s.checkoutUC.Cancel(ctx, userID(r), purchaseID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListPurchases(w http.ResponseWriter, r *http.Request) {
	ctx := logging.WithUserID(r.Context(), userID(r))
	purchases, err := s.statusUC.ListByUser(ctx, userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]purchaseView, 0, len(purchases))
	for _, p := range purchases {
		views = append(views, toPurchaseView(p))
	}
	writeJSON(w, http.StatusOK, struct {
		Data []purchaseView `json:"data"`
	}{Data: views})
}

// handleCallbackReturn serves the user landing back from a redirect gateway.
// The evidence is applied before rendering so the page reflects the final
// state, not an optimistic guess.
func (s *Server) handleCallbackReturn(w http.ResponseWriter, r *http.Request) {
	ev, err := s.extractCallbackEvidence(r, nil)
	if err != nil {
		renderReturnPage(w, http.StatusBadRequest, false, "We could not read the payment result. Check your dashboard for the final status.")
		return
	}
	p, err := s.reconcileUC.Apply(r.Context(), ev.PurchaseID, *ev, model.SourceGatewayCallback)
	if err != nil {
		renderReturnPage(w, http.StatusOK, false, "Your payment is being reviewed. Check your dashboard for the final status.")
		return
	}
	if p.Status == model.PurchaseStatusActive {
		renderReturnPage(w, http.StatusOK, true, "Your payment was confirmed and your plan is now active.")
		return
	}
	msg := "Your payment was not completed."
	if p.FailureReason != nil {
		msg = *p.FailureReason
	}
	renderReturnPage(w, http.StatusOK, false, msg)
}

// handleCallbackWebhook serves server-to-server gateway notifications.
func (s *Server) handleCallbackWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, domain.ErrInvalidArgument)
		return
	}
	ev, err := s.extractCallbackEvidence(r, body)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.reconcileUC.Apply(r.Context(), ev.PurchaseID, *ev, model.SourceGatewayCallback); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Received bool `json:"received"`
	}{Received: true})
}

func (s *Server) extractCallbackEvidence(r *http.Request, body []byte) (*model.Evidence, error) {
	gateway, err := model.ParseGateway(chi.URLParam(r, "gateway"))
	if err != nil {
		return nil, err
	}
	gw, err := s.resolver.Resolve(r.Context(), gateway)
	if err != nil {
		return nil, err
	}
	return gw.ExtractEvidence(r.Context(), adapter.CallbackPayload{
		Query:     r.URL.Query(),
		Body:      body,
		Signature: r.Header.Get("Stripe-Signature"),
	})
}

type overrideRequest struct {
	Outcome       string `json:"outcome"`
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
	Reason        string `json:"reason"`
}

// handleOverride is the manual finalization path: bank transfers and stuck
// reconciliations. The acting admin is recorded on the evidence.
func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	purchaseID := chi.URLParam(r, "id")

	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrInvalidArgument)
		return
	}
	ev := model.Evidence{
		PurchaseID:    purchaseID,
		TransactionID: req.TransactionID,
		Outcome:       model.EvidenceOutcome(req.Outcome),
		Amount:        req.Amount,
		Reason:        req.Reason,
		Actor:         r.Header.Get("X-Admin-Subject"),
	}
	p, err := s.reconcileUC.Apply(r.Context(), purchaseID, ev, model.SourceAdminOverride)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPurchaseView(p))
}
