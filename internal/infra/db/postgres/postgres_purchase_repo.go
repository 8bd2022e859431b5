package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"plan-purchase-service/internal/domain"
	"plan-purchase-service/internal/domain/model"
	"plan-purchase-service/internal/domain/ports/repository"
)

var _ repository.PurchaseRepository = (*purchaseRepo)(nil)

type purchaseRepo struct{ pool *pgxpool.Pool }

func NewPurchaseRepo(pool *pgxpool.Pool) *purchaseRepo {
	return &purchaseRepo{pool: pool}
}

const purchaseColumns = `id, user_id, plan_id, feature_key, snapshot, gateway, amount_paid, transaction_id, intent_id, status, purchase_date, expiry_date, failure_reason, failure_at, switch_pending, pending_switch_plan_id, auto_renew, created_at, updated_at`

func (r *purchaseRepo) Create(ctx context.Context, qx repository.Tx, p *model.Purchase) error {
	snap, err := json.Marshal(p.Snapshot)
	if err != nil {
		return domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO purchases (` + purchaseColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19);`
	_, err = execSQL(ctx, r.pool, qx, q,
		p.ID, p.UserID, p.PlanID, p.FeatureKey, snap, p.Gateway, p.AmountPaid, p.TransactionID, p.IntentID,
		p.Status, p.PurchaseDate, p.ExpiryDate, p.FailureReason, p.FailureAt,
		p.SwitchPending, p.PendingSwitchPlanID, p.AutoRenew, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func scanPurchase(row pgx.Row) (*model.Purchase, error) {
	p := &model.Purchase{}
	var snap []byte
	if err := row.Scan(&p.ID, &p.UserID, &p.PlanID, &p.FeatureKey, &snap, &p.Gateway, &p.AmountPaid, &p.TransactionID, &p.IntentID,
		&p.Status, &p.PurchaseDate, &p.ExpiryDate, &p.FailureReason, &p.FailureAt,
		&p.SwitchPending, &p.PendingSwitchPlanID, &p.AutoRenew, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	if err := json.Unmarshal(snap, &p.Snapshot); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return p, nil
}

func (r *purchaseRepo) FindByID(ctx context.Context, qx repository.Tx, id string) (*model.Purchase, error) {
	q := `SELECT ` + purchaseColumns + ` FROM purchases WHERE id=$1`
	if _, ok := qx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	row, err := pickRow(ctx, r.pool, qx, q, id)
	if err != nil {
		return nil, err
	}
	return scanPurchase(row)
}

func (r *purchaseRepo) FindByTransactionID(ctx context.Context, qx repository.Tx, transactionID string) (*model.Purchase, error) {
	const q = `SELECT ` + purchaseColumns + ` FROM purchases WHERE transaction_id=$1 LIMIT 1;`
	row, err := pickRow(ctx, r.pool, qx, q, transactionID)
	if err != nil {
		return nil, err
	}
	return scanPurchase(row)
}

func (r *purchaseRepo) FindActiveByUserAndFeature(ctx context.Context, qx repository.Tx, userID, featureKey string) (*model.Purchase, error) {
	q := `SELECT ` + purchaseColumns + ` FROM purchases WHERE user_id=$1 AND feature_key=$2 AND status='active' LIMIT 1`
	if _, ok := qx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	row, err := pickRow(ctx, r.pool, qx, q, userID, featureKey)
	if err != nil {
		return nil, err
	}
	return scanPurchase(row)
}

func (r *purchaseRepo) ListByUser(ctx context.Context, qx repository.Tx, userID string) ([]*model.Purchase, error) {
	const q = `SELECT ` + purchaseColumns + ` FROM purchases WHERE user_id=$1 ORDER BY created_at DESC;`
	return r.list(ctx, qx, q, userID)
}

func (r *purchaseRepo) ListPendingOlderThan(ctx context.Context, qx repository.Tx, olderThan time.Time, limit int) ([]*model.Purchase, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + purchaseColumns + ` FROM purchases WHERE status='pending_payment' AND created_at < $1 ORDER BY created_at ASC LIMIT $2;`
	return r.list(ctx, qx, q, olderThan, limit)
}

func (r *purchaseRepo) list(ctx context.Context, qx repository.Tx, q string, args ...interface{}) ([]*model.Purchase, error) {
	rows, err := queryRows(ctx, r.pool, qx, q, args...)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return nil, err
		}
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []*model.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkPendingIfDraft atomically moves draft -> pending_payment.
func (r *purchaseRepo) MarkPendingIfDraft(ctx context.Context, qx repository.Tx, id string, intentID *string) (bool, error) {
	const q = `
UPDATE purchases
   SET status='pending_payment',
       intent_id=COALESCE($2, intent_id),
       updated_at=NOW()
 WHERE id=$1
   AND status='draft';`
	return r.casExec(ctx, qx, q, id, intentID)
}

// ActivateIfPending atomically moves pending_payment -> active and writes the
// financial fields in the same statement. The partial unique index on
// transaction_id makes a replayed transaction id fail the insert-side update.
func (r *purchaseRepo) ActivateIfPending(ctx context.Context, qx repository.Tx, id, transactionID string, amountPaid int64, expiresAt *time.Time) (bool, error) {
	const q = `
UPDATE purchases
   SET status='active',
       transaction_id=$2,
       amount_paid=$3,
       expiry_date=$4,
       updated_at=NOW()
 WHERE id=$1
   AND status='pending_payment';`
	cmd, err := execSQL(ctx, r.pool, qx, q, id, transactionID, amountPaid, expiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return false, domain.ErrConflictingTransition
		}
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *purchaseRepo) FailIfPending(ctx context.Context, qx repository.Tx, id, reason string) (bool, error) {
	const q = `
UPDATE purchases
   SET status='failed',
       failure_reason=$2,
       failure_at=NOW(),
       updated_at=NOW()
 WHERE id=$1
   AND status='pending_payment';`
	return r.casExec(ctx, qx, q, id, reason)
}

func (r *purchaseRepo) OverrideActiveToFailed(ctx context.Context, qx repository.Tx, id, transactionID, reason string) (bool, error) {
	const q = `
UPDATE purchases
   SET status='failed',
       failure_reason=$3,
       failure_at=NOW(),
       updated_at=NOW()
 WHERE id=$1
   AND status='active'
   AND transaction_id=$2;`
	return r.casExec(ctx, qx, q, id, transactionID, reason)
}

func (r *purchaseRepo) MarkSwitchedIfActive(ctx context.Context, qx repository.Tx, id string) (bool, error) {
	const q = `UPDATE purchases SET status='switched', updated_at=NOW() WHERE id=$1 AND status='active';`
	return r.casExec(ctx, qx, q, id)
}

func (r *purchaseRepo) CancelIfActive(ctx context.Context, qx repository.Tx, id string) (bool, error) {
	const q = `UPDATE purchases SET status='cancelled', updated_at=NOW() WHERE id=$1 AND status='active';`
	return r.casExec(ctx, qx, q, id)
}

func (r *purchaseRepo) SetSwitchPending(ctx context.Context, qx repository.Tx, id, pendingPlanID string) error {
	const q = `UPDATE purchases SET switch_pending=TRUE, pending_switch_plan_id=$2, updated_at=NOW() WHERE id=$1;`
	_, err := execSQL(ctx, r.pool, qx, q, id, pendingPlanID)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *purchaseRepo) ClearSwitchPending(ctx context.Context, qx repository.Tx, id string) error {
	const q = `UPDATE purchases SET switch_pending=FALSE, pending_switch_plan_id=NULL, updated_at=NOW() WHERE id=$1;`
	_, err := execSQL(ctx, r.pool, qx, q, id)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *purchaseRepo) ExpireDue(ctx context.Context, qx repository.Tx, now time.Time) (int, error) {
	const q = `UPDATE purchases SET status='expired', updated_at=NOW() WHERE status='active' AND expiry_date IS NOT NULL AND expiry_date < $1;`
	cmd, err := execSQL(ctx, r.pool, qx, q, now)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return 0, err
		}
		return 0, domain.ErrOperationFailed
	}
	return int(cmd.RowsAffected()), nil
}

// casExec runs a guarded UPDATE and reports whether any row matched.
func (r *purchaseRepo) casExec(ctx context.Context, qx repository.Tx, q string, args ...interface{}) (bool, error) {
	cmd, err := execSQL(ctx, r.pool, qx, q, args...)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}
