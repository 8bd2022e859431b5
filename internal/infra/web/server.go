package web

import (
	"encoding/json"
	"errors"
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"plan-purchase-service/internal/domain"
	"plan-purchase-service/internal/domain/ports/adapter"
	"plan-purchase-service/internal/usecase"
)

// Server wires the purchase API: checkout, confirmation, status polling,
// gateway callbacks and the admin override surface.
type Server struct {
	checkoutUC  usecase.CheckoutUseCase
	reconcileUC usecase.ReconcileUseCase
	statusUC    usecase.StatusUseCase
	resolver    adapter.GatewayResolver
	tokens      *CheckoutTokenManager
	admin       *AdminAuth
	log         *zerolog.Logger
}

func NewServer(
	checkoutUC usecase.CheckoutUseCase,
	reconcileUC usecase.ReconcileUseCase,
	statusUC usecase.StatusUseCase,
	resolver adapter.GatewayResolver,
	tokens *CheckoutTokenManager,
	admin *AdminAuth,
	logger *zerolog.Logger,
) *Server {
	l := logger.With().Str("component", "WebServer").Logger()
	return &Server{
		checkoutUC:  checkoutUC,
		reconcileUC: reconcileUC,
		statusUC:    statusUC,
		resolver:    resolver,
		tokens:      tokens,
		admin:       admin,
		log:         &l,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), RequestLog(s.log), Recover(s.log))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/checkout", s.handleCheckout)
		r.Get("/purchases", s.handleListPurchases)
		r.Route("/purchases/{id}", func(r chi.Router) {
			r.Get("/", s.handlePoll)
			r.Post("/confirm", s.handleConfirm)
			r.Post("/cancel", s.handleCancel)
		})
		r.Get("/callbacks/{gateway}", s.handleCallbackReturn)
		r.Post("/callbacks/{gateway}", s.handleCallbackWebhook)
		r.Post("/admin/purchases/{id}/override", s.requireAdmin(s.handleOverride))
	})
	return r
}

// requireAdmin guards the manual-finalization surface with an admin session
// token.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.admin.ParseFromRequest(r)
		if err != nil {
			writeError(w, domain.ErrUnauthorized)
			return
		}
		r.Header.Set("X-Admin-Subject", claims.Subject)
		next(w, r)
	}
}

// userID is the caller identity forwarded by the edge proxy after
// authentication. An empty value fails every ownership check downstream.
func userID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps domain errors onto HTTP statuses without leaking internal
// detail for server-side failures.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, domain.ErrInvalidArgument):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request"})
	case errors.Is(err, domain.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
	case errors.Is(err, domain.ErrInvalidSwitch):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "switch preconditions not met"})
	case errors.Is(err, domain.ErrCheckoutLocked):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "another checkout is in progress"})
	case errors.Is(err, domain.ErrConflictingTransition), errors.Is(err, domain.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "conflicting purchase state"})
	case errors.Is(err, domain.ErrGatewayDeclined):
		writeJSON(w, http.StatusPaymentRequired, errorResponse{Error: "payment declined"})
	case errors.Is(err, domain.ErrGatewayUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "payment gateway unavailable"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

// returnPage is shown to users landing back from a redirect gateway.
var returnPage = template.Must(template.New("return").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8" />
<meta name="viewport" content="width=device-width,initial-scale=1" />
<title>Payment {{if .OK}}Confirmed{{else}}Result{{end}}</title>
<style>
body{font-family:system-ui,Arial,sans-serif;margin:2rem;}
.card{max-width:560px;border:1px solid #ddd;border-radius:12px;padding:24px;}
.ok{color:#057a55} .fail{color:#b00020}
</style>
</head>
<body>
<div class="card">
  <h2 class="{{if .OK}}ok{{else}}fail{{end}}">{{if .OK}}Payment Confirmed{{else}}Payment Result{{end}}</h2>
  <p>{{.Msg}}</p>
</div>
</body>
</html>`))

func renderReturnPage(w http.ResponseWriter, code int, ok bool, msg string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	_ = returnPage.Execute(w, struct {
		OK  bool
		Msg string
	}{OK: ok, Msg: msg})
}
