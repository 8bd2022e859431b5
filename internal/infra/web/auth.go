package web

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"plan-purchase-service/internal/domain"
)

// ===== Checkout confirmation tokens =====

// TokenConsumer marks a token id as used. The first consumer wins; replays
// inside the token TTL fail. Satisfied by the redis token store.
type TokenConsumer interface {
	Consume(ctx context.Context, jti string, ttl time.Duration) error
}

// CheckoutClaims bind a confirmation token to one purchase for one user.
type CheckoutClaims struct {
	UserID     string `json:"uid"`
	PurchaseID string `json:"pid"`
	jwt.RegisteredClaims
}

// CheckoutTokenManager mints and verifies the single-use token that
// authorizes the client confirmation call for a purchase. The token is the
// only carrier of confirmation permission; there is no session state.
type CheckoutTokenManager struct {
	secret   []byte
	ttl      time.Duration
	consumer TokenConsumer
}

func NewCheckoutTokenManager(secret string, ttl time.Duration, consumer TokenConsumer) *CheckoutTokenManager {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CheckoutTokenManager{secret: []byte(secret), ttl: ttl, consumer: consumer}
}

func (m *CheckoutTokenManager) Mint(userID, purchaseID string) (string, error) {
	now := time.Now()
	claims := CheckoutClaims{
		UserID:     userID,
		PurchaseID: purchaseID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			Subject:   purchaseID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Redeem verifies the token against the purchase and burns its id so a second
// confirmation attempt with the same token fails closed.
func (m *CheckoutTokenManager) Redeem(ctx context.Context, token, purchaseID string) (*CheckoutClaims, error) {
	claims := &CheckoutClaims{}
	tkn, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	})
	if err != nil || !tkn.Valid {
		return nil, domain.ErrUnauthorized
	}
	if claims.PurchaseID != purchaseID || claims.ID == "" {
		return nil, domain.ErrUnauthorized
	}
	// Keep the replay marker alive as long as the token itself could be.
	if err := m.consumer.Consume(ctx, claims.ID, m.ttl); err != nil {
		return nil, err
	}
	return claims, nil
}

// ===== Admin session tokens =====

type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type AdminAuth struct {
	secret []byte
	ttl    time.Duration
}

func NewAdminAuth(secret string, ttl time.Duration) *AdminAuth {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &AdminAuth{secret: []byte(secret), ttl: ttl}
}

func (a *AdminAuth) Mint(subject string) (string, error) {
	now := time.Now()
	claims := AdminClaims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			Subject:   subject,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *AdminAuth) ParseFromRequest(r *http.Request) (*AdminClaims, error) {
	hdr := r.Header.Get("Authorization")
	if hdr == "" || !strings.HasPrefix(strings.ToLower(hdr), "bearer ") {
		return nil, domain.ErrUnauthorized
	}
	claims := &AdminClaims{}
	tkn, err := jwt.ParseWithClaims(strings.TrimSpace(hdr[7:]), claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	})
	if err != nil || !tkn.Valid || claims.Role != "admin" {
		return nil, domain.ErrUnauthorized
	}
	return claims, nil
}
