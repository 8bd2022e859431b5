//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"plan-purchase-service/internal/domain"
	"plan-purchase-service/internal/domain/model"
	"plan-purchase-service/internal/domain/ports/repository"
	"plan-purchase-service/internal/usecase"
)

func newReconcileDeps() (*MemPurchaseRepo, usecase.ReconcileUseCase) {
	purchases := NewMemPurchaseRepo()
	uc := usecase.NewReconcileUseCase(purchases, &MockTxManager{}, newTestLogger())
	return purchases, uc
}

func pendingPurchase(id, userID string) *model.Purchase {
	p, _ := model.NewPurchase(id, userID, paidPlan("plan-1", "reports"), model.GatewayStripe)
	p.Status = model.PurchaseStatusPending
	return p
}

func successEvidence(purchaseID, txID string) model.Evidence {
	return model.Evidence{PurchaseID: purchaseID, TransactionID: txID, Outcome: model.EvidenceSuccess}
}

func TestReconcileApply_Pending(t *testing.T) {
	ctx := context.Background()

	t.Run("success evidence activates a pending purchase", func(t *testing.T) {
		purchases, uc := newReconcileDeps()
		purchases.Put(pendingPurchase("p-1", "user-1"))

		p, err := uc.Apply(ctx, "p-1", successEvidence("p-1", "tx-1"), model.SourceGatewayCallback)
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if p.Status != model.PurchaseStatusActive {
			t.Errorf("expected active, got %s", p.Status)
		}
		if p.TransactionID == nil || *p.TransactionID != "tx-1" {
			t.Error("expected transaction id to be recorded")
		}
		// No explicit amount on the evidence: the snapshot price is charged.
		if p.AmountPaid == nil || *p.AmountPaid != 1900 {
			t.Errorf("expected amount 1900 from the snapshot, got %v", p.AmountPaid)
		}
		if p.ExpiryDate == nil {
			t.Error("expected an expiry for a duration plan")
		}
	})

	t.Run("evidence amount wins over the snapshot when present", func(t *testing.T) {
		purchases, uc := newReconcileDeps()
		purchases.Put(pendingPurchase("p-1", "user-1"))

		ev := successEvidence("p-1", "tx-1")
		ev.Amount = 1500
		p, err := uc.Apply(ctx, "p-1", ev, model.SourceGatewayCallback)
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if *p.AmountPaid != 1500 {
			t.Errorf("expected amount 1500, got %d", *p.AmountPaid)
		}
	})

	t.Run("failure evidence fails a pending purchase with a reason", func(t *testing.T) {
		purchases, uc := newReconcileDeps()
		purchases.Put(pendingPurchase("p-1", "user-1"))

		ev := model.Evidence{PurchaseID: "p-1", Outcome: model.EvidenceFailure, Reason: "card declined"}
		p, err := uc.Apply(ctx, "p-1", ev, model.SourceGatewayCallback)
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if p.Status != model.PurchaseStatusFailed {
			t.Errorf("expected failed, got %s", p.Status)
		}
		if p.FailureReason == nil || *p.FailureReason != "card declined" {
			t.Error("expected the failure reason to be recorded")
		}
	})

	t.Run("transaction id consumed by another purchase conflicts", func(t *testing.T) {
		purchases, uc := newReconcileDeps()
		other := pendingPurchase("p-0", "user-2")
		tx := "tx-1"
		other.Status = model.PurchaseStatusActive
		other.TransactionID = &tx
		purchases.Put(other)
		purchases.Put(pendingPurchase("p-1", "user-1"))

		_, err := uc.Apply(ctx, "p-1", successEvidence("p-1", "tx-1"), model.SourceGatewayCallback)
		if !errors.Is(err, domain.ErrConflictingTransition) {
			t.Fatalf("expected ErrConflictingTransition, got: %v", err)
		}
		if purchases.Get("p-1").Status != model.PurchaseStatusPending {
			t.Error("expected the purchase to stay pending")
		}
	})

	t.Run("activation retires the superseded purchase atomically", func(t *testing.T) {
		purchases, uc := newReconcileDeps()
		old, _ := model.NewPurchase("p-old", "user-1", paidPlan("plan-0", "reports"), model.GatewayStripe)
		old.Status = model.PurchaseStatusActive
		old.SwitchPending = true
		purchases.Put(old)
		purchases.Put(pendingPurchase("p-new", "user-1"))

		p, err := uc.Apply(ctx, "p-new", successEvidence("p-new", "tx-9"), model.SourceGatewayCallback)
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if p.Status != model.PurchaseStatusActive {
			t.Errorf("expected the new purchase active, got %s", p.Status)
		}
		retired := purchases.Get("p-old")
		if retired.Status != model.PurchaseStatusSwitched {
			t.Errorf("expected the old purchase switched, got %s", retired.Status)
		}
		if retired.SwitchPending {
			t.Error("expected switch_pending to be cleared")
		}
	})

	t.Run("failed switch leaves the original purchase active", func(t *testing.T) {
		purchases, uc := newReconcileDeps()
		old, _ := model.NewPurchase("p-old", "user-1", paidPlan("plan-0", "reports"), model.GatewayStripe)
		old.Status = model.PurchaseStatusActive
		old.SwitchPending = true
		purchases.Put(old)
		purchases.Put(pendingPurchase("p-new", "user-1"))

		ev := model.Evidence{PurchaseID: "p-new", Outcome: model.EvidenceFailure, Reason: "insufficient funds"}
		if _, err := uc.Apply(ctx, "p-new", ev, model.SourceGatewayCallback); err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		kept := purchases.Get("p-old")
		if kept.Status != model.PurchaseStatusActive {
			t.Errorf("expected the old purchase to stay active, got %s", kept.Status)
		}
		if kept.SwitchPending {
			t.Error("expected switch_pending to be cleared after the failed switch")
		}
	})

	t.Run("lost activation race falls through to precedence", func(t *testing.T) {
		purchases, uc := newReconcileDeps()
		purchases.Put(pendingPurchase("p-1", "user-1"))
		purchases.ActivateIfPendingFunc = func(ctx context.Context, qx repository.Tx, id, txID string, amount int64, exp *time.Time) (bool, error) {
			// Another writer won: flip the stored purchase to active with the
			// same transaction and report the CAS miss.
			cur := purchases.Get(id)
			cur.Status = model.PurchaseStatusActive
			cur.TransactionID = &txID
			purchases.Put(cur)
			return false, nil
		}

		p, err := uc.Apply(ctx, "p-1", successEvidence("p-1", "tx-1"), model.SourceClient)
		if err != nil {
			t.Fatalf("expected the race to resolve as a no-op, got: %v", err)
		}
		if p.Status != model.PurchaseStatusActive {
			t.Errorf("expected active, got %s", p.Status)
		}
	})
}

func TestReconcileApply_IntentBinding(t *testing.T) {
	ctx := context.Background()

	t.Run("forged callback with a foreign intent cannot activate", func(t *testing.T) {
		purchases, uc := newReconcileDeps()
		p := pendingPurchase("p-victim", "user-1")
		intent := "pi_real"
		p.IntentID = &intent
		purchases.Put(p)

		// A caller who only knows the purchase id cannot know the intent the
		// gateway minted for it.
		ev := successEvidence("p-victim", "pi_forged")
		ev.IntentID = "pi_forged"
		if _, err := uc.Apply(ctx, "p-victim", ev, model.SourceGatewayCallback); !errors.Is(err, domain.ErrConflictingTransition) {
			t.Fatalf("expected ErrConflictingTransition, got: %v", err)
		}
		if purchases.Get("p-victim").Status != model.PurchaseStatusPending {
			t.Error("expected the purchase to stay pending")
		}
	})

	t.Run("forged callback with a foreign intent cannot fail the purchase", func(t *testing.T) {
		purchases, uc := newReconcileDeps()
		p := pendingPurchase("p-victim", "user-1")
		intent := "order_real"
		p.IntentID = &intent
		purchases.Put(p)

		ev := model.Evidence{PurchaseID: "p-victim", TransactionID: "order_forged", IntentID: "order_forged", Outcome: model.EvidenceFailure, Reason: "capture failed"}
		if _, err := uc.Apply(ctx, "p-victim", ev, model.SourceGatewayCallback); !errors.Is(err, domain.ErrConflictingTransition) {
			t.Fatalf("expected ErrConflictingTransition, got: %v", err)
		}
		if purchases.Get("p-victim").Status != model.PurchaseStatusPending {
			t.Error("expected the purchase to stay pending")
		}
	})

	t.Run("evidence naming the recorded intent activates", func(t *testing.T) {
		purchases, uc := newReconcileDeps()
		p := pendingPurchase("p-1", "user-1")
		intent := "pi_real"
		p.IntentID = &intent
		purchases.Put(p)

		ev := successEvidence("p-1", "pi_real")
		ev.IntentID = "pi_real"
		got, err := uc.Apply(ctx, "p-1", ev, model.SourceGatewayCallback)
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if got.Status != model.PurchaseStatusActive {
			t.Errorf("expected active, got %s", got.Status)
		}
	})

	t.Run("evidence without an intent still applies", func(t *testing.T) {
		// Bank confirmations and the cleanup sweep have no gateway intent to
		// name; they settle on the purchase id alone.
		purchases, uc := newReconcileDeps()
		p := pendingPurchase("p-1", "user-1")
		intent := "pi_real"
		p.IntentID = &intent
		purchases.Put(p)

		got, err := uc.Apply(ctx, "p-1", successEvidence("p-1", "wire-1"), model.SourceGatewayCallback)
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if got.Status != model.PurchaseStatusActive {
			t.Errorf("expected active, got %s", got.Status)
		}
	})
}

func TestReconcileApply_Idempotency(t *testing.T) {
	ctx := context.Background()

	t.Run("same success evidence applied twice activates once", func(t *testing.T) {
		purchases, uc := newReconcileDeps()
		purchases.Put(pendingPurchase("p-1", "user-1"))

		first, err := uc.Apply(ctx, "p-1", successEvidence("p-1", "tx-1"), model.SourceClient)
		if err != nil {
			t.Fatalf("first apply: %v", err)
		}
		second, err := uc.Apply(ctx, "p-1", successEvidence("p-1", "tx-1"), model.SourceGatewayCallback)
		if err != nil {
			t.Fatalf("second apply should be a no-op success, got: %v", err)
		}
		if second.Status != model.PurchaseStatusActive {
			t.Errorf("expected active, got %s", second.Status)
		}
		if *second.TransactionID != *first.TransactionID {
			t.Error("expected the same transaction id")
		}
	})

	t.Run("failure evidence replayed on a failed purchase is a no-op", func(t *testing.T) {
		purchases, uc := newReconcileDeps()
		purchases.Put(pendingPurchase("p-1", "user-1"))

		ev := model.Evidence{PurchaseID: "p-1", Outcome: model.EvidenceFailure, Reason: "declined"}
		if _, err := uc.Apply(ctx, "p-1", ev, model.SourceGatewayCallback); err != nil {
			t.Fatalf("first apply: %v", err)
		}
		if _, err := uc.Apply(ctx, "p-1", ev, model.SourceGatewayCallback); err != nil {
			t.Fatalf("replay should be a no-op, got: %v", err)
		}
	})
}

func TestReconcileApply_Precedence(t *testing.T) {
	ctx := context.Background()

	t.Run("gateway failure callback overrides an optimistic client activation", func(t *testing.T) {
		purchases, uc := newReconcileDeps()
		purchases.Put(pendingPurchase("p-1", "user-1"))

		if _, err := uc.Apply(ctx, "p-1", successEvidence("p-1", "tx-1"), model.SourceClient); err != nil {
			t.Fatalf("client confirmation: %v", err)
		}

		ev := model.Evidence{PurchaseID: "p-1", TransactionID: "tx-1", Outcome: model.EvidenceFailure, Reason: "chargeback"}
		p, err := uc.Apply(ctx, "p-1", ev, model.SourceGatewayCallback)
		if err != nil {
			t.Fatalf("expected the override to succeed, got: %v", err)
		}
		if p.Status != model.PurchaseStatusFailed {
			t.Errorf("expected failed, got %s", p.Status)
		}
		if p.FailureReason == nil || *p.FailureReason != "chargeback" {
			t.Error("expected the gateway failure reason to be recorded")
		}
	})

	t.Run("client failure evidence cannot override an activation", func(t *testing.T) {
		purchases, uc := newReconcileDeps()
		purchases.Put(pendingPurchase("p-1", "user-1"))

		if _, err := uc.Apply(ctx, "p-1", successEvidence("p-1", "tx-1"), model.SourceGatewayCallback); err != nil {
			t.Fatalf("activation: %v", err)
		}

		ev := model.Evidence{PurchaseID: "p-1", TransactionID: "tx-1", Outcome: model.EvidenceFailure}
		if _, err := uc.Apply(ctx, "p-1", ev, model.SourceClient); !errors.Is(err, domain.ErrConflictingTransition) {
			t.Fatalf("expected ErrConflictingTransition, got: %v", err)
		}
		if purchases.Get("p-1").Status != model.PurchaseStatusActive {
			t.Error("expected the purchase to stay active")
		}
	})

	t.Run("evidence for a different transaction on an active purchase conflicts", func(t *testing.T) {
		purchases, uc := newReconcileDeps()
		purchases.Put(pendingPurchase("p-1", "user-1"))

		if _, err := uc.Apply(ctx, "p-1", successEvidence("p-1", "tx-1"), model.SourceGatewayCallback); err != nil {
			t.Fatalf("activation: %v", err)
		}
		if _, err := uc.Apply(ctx, "p-1", successEvidence("p-1", "tx-2"), model.SourceGatewayCallback); !errors.Is(err, domain.ErrConflictingTransition) {
			t.Fatalf("expected ErrConflictingTransition, got: %v", err)
		}
	})
}

func TestReconcileApply_AdminOverride(t *testing.T) {
	ctx := context.Background()

	t.Run("admin finalizes a pending bank transfer", func(t *testing.T) {
		purchases, uc := newReconcileDeps()
		p, _ := model.NewPurchase("p-1", "user-1", paidPlan("plan-1", "reports"), model.GatewayBank)
		p.Status = model.PurchaseStatusPending
		purchases.Put(p)

		ev := model.Evidence{PurchaseID: "p-1", TransactionID: "wire-123", Outcome: model.EvidenceSuccess, Actor: "admin@example.com"}
		got, err := uc.Apply(ctx, "p-1", ev, model.SourceAdminOverride)
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if got.Status != model.PurchaseStatusActive {
			t.Errorf("expected active, got %s", got.Status)
		}
	})

	t.Run("admin evidence without an actor is rejected", func(t *testing.T) {
		purchases, uc := newReconcileDeps()
		purchases.Put(pendingPurchase("p-1", "user-1"))

		ev := successEvidence("p-1", "tx-1")
		if _, err := uc.Apply(ctx, "p-1", ev, model.SourceAdminOverride); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got: %v", err)
		}
	})
}

func TestReconcileApply_EdgeStates(t *testing.T) {
	ctx := context.Background()

	t.Run("evidence for a draft purchase conflicts", func(t *testing.T) {
		purchases, uc := newReconcileDeps()
		p, _ := model.NewPurchase("p-1", "user-1", paidPlan("plan-1", "reports"), model.GatewayStripe)
		purchases.Put(p)

		if _, err := uc.Apply(ctx, "p-1", successEvidence("p-1", "tx-1"), model.SourceGatewayCallback); !errors.Is(err, domain.ErrConflictingTransition) {
			t.Fatalf("expected ErrConflictingTransition, got: %v", err)
		}
	})

	t.Run("success evidence without a transaction id is rejected", func(t *testing.T) {
		purchases, uc := newReconcileDeps()
		purchases.Put(pendingPurchase("p-1", "user-1"))

		ev := model.Evidence{PurchaseID: "p-1", Outcome: model.EvidenceSuccess}
		if _, err := uc.Apply(ctx, "p-1", ev, model.SourceGatewayCallback); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got: %v", err)
		}
	})

	t.Run("unknown purchase id surfaces not found", func(t *testing.T) {
		_, uc := newReconcileDeps()
		if _, err := uc.Apply(ctx, "missing", successEvidence("missing", "tx-1"), model.SourceGatewayCallback); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got: %v", err)
		}
	})
}
