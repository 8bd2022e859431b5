package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"plan-purchase-service/internal/domain"
	"plan-purchase-service/internal/domain/model"
	"plan-purchase-service/internal/domain/ports/repository"
)

var _ repository.PlanCatalog = (*planRepo)(nil)

// planRepo reads the catalog tables. Plan CRUD belongs to the catalog
// collaborator; Save exists for seeding and tests only.
type planRepo struct{ pool *pgxpool.Pool }

func NewPlanRepo(pool *pgxpool.Pool) *planRepo {
	return &planRepo{pool: pool}
}

const planColumns = `id, name, feature_key, price_cents, duration_days, one_time, request_limit, created_at, updated_at`

func (r *planRepo) FindByID(ctx context.Context, id string) (*model.Plan, error) {
	const q = `SELECT ` + planColumns + ` FROM plans WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, nil, q, id)
	if err != nil {
		return nil, err
	}
	return scanPlan(row)
}

func (r *planRepo) ListAll(ctx context.Context) ([]*model.Plan, error) {
	const q = `SELECT ` + planColumns + ` FROM plans ORDER BY feature_key, price_cents;`
	rows, err := queryRows(ctx, r.pool, nil, q)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []*model.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *planRepo) Save(ctx context.Context, p *model.Plan) error {
	const q = `
INSERT INTO plans (` + planColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO UPDATE SET
  name=$2, feature_key=$3, price_cents=$4, duration_days=$5, one_time=$6, request_limit=$7, updated_at=$9;`
	_, err := execSQL(ctx, r.pool, nil, q, p.ID, p.Name, p.FeatureKey, p.PriceCents, p.DurationDays, p.OneTime, p.RequestLimit, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return domain.ErrOperationFailed
	}
	return nil
}

func scanPlan(row pgx.Row) (*model.Plan, error) {
	p := &model.Plan{}
	if err := row.Scan(&p.ID, &p.Name, &p.FeatureKey, &p.PriceCents, &p.DurationDays, &p.OneTime, &p.RequestLimit, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return p, nil
}
