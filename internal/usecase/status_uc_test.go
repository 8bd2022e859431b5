//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"plan-purchase-service/internal/domain"
	"plan-purchase-service/internal/domain/model"
	"plan-purchase-service/internal/usecase"
)

func TestStatusPoll(t *testing.T) {
	ctx := context.Background()

	newUC := func(purchases *MemPurchaseRepo) usecase.StatusUseCase {
		return usecase.NewStatusUseCase(purchases, 5, 3, newTestLogger())
	}

	t.Run("pending purchase shows processing with a retry hint", func(t *testing.T) {
		purchases := NewMemPurchaseRepo()
		purchases.Put(pendingPurchase("p-1", "user-1"))

		st, err := newUC(purchases).Poll(ctx, "user-1", "p-1", 0)
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if st.Status != usecase.DisplayProcessing {
			t.Errorf("expected processing, got %s", st.Status)
		}
		if st.RetryAfterSeconds != 5 {
			t.Errorf("expected retry after 5s, got %d", st.RetryAfterSeconds)
		}
		if st.RefreshCount != 1 {
			t.Errorf("expected refresh count to advance to 1, got %d", st.RefreshCount)
		}
	})

	t.Run("polling degrades to unknown at the refresh cutoff", func(t *testing.T) {
		purchases := NewMemPurchaseRepo()
		purchases.Put(pendingPurchase("p-1", "user-1"))
		uc := newUC(purchases)

		// Walk the refresh counter the way the view would.
		refresh := 0
		for i := 0; i < 3; i++ {
			st, err := uc.Poll(ctx, "user-1", "p-1", refresh)
			if err != nil {
				t.Fatalf("poll %d: %v", i, err)
			}
			if st.Status != usecase.DisplayProcessing {
				t.Fatalf("poll %d: expected processing, got %s", i, st.Status)
			}
			refresh = st.RefreshCount
		}

		st, err := uc.Poll(ctx, "user-1", "p-1", refresh)
		if err != nil {
			t.Fatalf("expected no error at the cutoff, got: %v", err)
		}
		if st.Status != usecase.DisplayUnknown {
			t.Errorf("expected unknown at the cutoff, got %s", st.Status)
		}
		if st.RetryAfterSeconds != 0 {
			t.Errorf("expected no retry hint past the cutoff, got %d", st.RetryAfterSeconds)
		}
		if st.Reason == "" {
			t.Error("expected a dashboard pointer in the reason")
		}
	})

	t.Run("active purchase shows confirmed regardless of refresh count", func(t *testing.T) {
		purchases := NewMemPurchaseRepo()
		p := pendingPurchase("p-1", "user-1")
		tx := "tx-1"
		amount := int64(1900)
		exp := time.Now().Add(30 * 24 * time.Hour)
		p.Status = model.PurchaseStatusActive
		p.TransactionID = &tx
		p.AmountPaid = &amount
		p.ExpiryDate = &exp
		purchases.Put(p)

		st, err := newUC(purchases).Poll(ctx, "user-1", "p-1", 99)
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if st.Status != usecase.DisplayConfirmed {
			t.Errorf("expected confirmed, got %s", st.Status)
		}
		if st.TransactionID == nil || *st.TransactionID != "tx-1" {
			t.Error("expected the transaction id on the confirmed view")
		}
		if st.ExpiryDate == nil {
			t.Error("expected an expiry date on the confirmed view")
		}
	})

	t.Run("failed purchase shows a human-readable error", func(t *testing.T) {
		purchases := NewMemPurchaseRepo()
		p := pendingPurchase("p-1", "user-1")
		reason := "card declined"
		p.Status = model.PurchaseStatusFailed
		p.FailureReason = &reason
		purchases.Put(p)

		st, err := newUC(purchases).Poll(ctx, "user-1", "p-1", 0)
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if st.Status != usecase.DisplayError {
			t.Errorf("expected error, got %s", st.Status)
		}
		if st.Reason != "card declined" {
			t.Errorf("expected the failure reason, got %q", st.Reason)
		}
	})

	t.Run("polling someone else's purchase is rejected", func(t *testing.T) {
		purchases := NewMemPurchaseRepo()
		purchases.Put(pendingPurchase("p-1", "user-1"))

		if _, err := newUC(purchases).Poll(ctx, "user-2", "p-1", 0); !errors.Is(err, domain.ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got: %v", err)
		}
	})
}

func TestStatusListByUser(t *testing.T) {
	ctx := context.Background()
	purchases := NewMemPurchaseRepo()
	purchases.Put(pendingPurchase("p-1", "user-1"))
	purchases.Put(pendingPurchase("p-2", "user-1"))
	purchases.Put(pendingPurchase("p-3", "user-2"))

	uc := usecase.NewStatusUseCase(purchases, 5, 3, newTestLogger())
	list, err := uc.ListByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("expected 2 purchases, got %d", len(list))
	}

	if _, err := uc.ListByUser(ctx, ""); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for empty user, got: %v", err)
	}
}
