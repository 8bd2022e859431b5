package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"plan-purchase-service/internal/domain"
	"plan-purchase-service/internal/domain/model"
	"plan-purchase-service/internal/domain/ports/repository"
	"plan-purchase-service/internal/infra/security"
)

var _ repository.GatewaySettingsRepository = (*gatewaySettingsRepo)(nil)

// gatewaySettingsRepo reads per-gateway configuration. Secret values (keys
// prefixed "secret_") are sealed at rest and unsealed on read.
type gatewaySettingsRepo struct {
	pool   *pgxpool.Pool
	sealer *security.CredentialSealer
}

func NewGatewaySettingsRepo(pool *pgxpool.Pool, sealer *security.CredentialSealer) *gatewaySettingsRepo {
	return &gatewaySettingsRepo{pool: pool, sealer: sealer}
}

func (r *gatewaySettingsRepo) Find(ctx context.Context, g model.Gateway) (*model.GatewaySettings, error) {
	const q = `SELECT gateway, enabled, settings FROM gateway_settings WHERE gateway=$1;`
	row, err := pickRow(ctx, r.pool, nil, q, string(g))
	if err != nil {
		return nil, err
	}
	return r.scan(row)
}

func (r *gatewaySettingsRepo) ListEnabled(ctx context.Context) (map[model.Gateway]*model.GatewaySettings, error) {
	const q = `SELECT gateway, enabled, settings FROM gateway_settings WHERE enabled;`
	rows, err := queryRows(ctx, r.pool, nil, q)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	out := make(map[model.Gateway]*model.GatewaySettings)
	for rows.Next() {
		s, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out[s.Gateway] = s
	}
	return out, rows.Err()
}

// Save is used by seeding and administration tooling.
func (r *gatewaySettingsRepo) Save(ctx context.Context, s *model.GatewaySettings) error {
	sealed := make(map[string]string, len(s.Settings))
	for k, v := range s.Settings {
		if strings.HasPrefix(k, "secret_") && r.sealer != nil {
			sv, err := r.sealer.Seal(v)
			if err != nil {
				return err
			}
			sealed[k] = sv
			continue
		}
		sealed[k] = v
	}
	raw, err := json.Marshal(sealed)
	if err != nil {
		return domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO gateway_settings (gateway, enabled, settings, updated_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (gateway) DO UPDATE SET enabled=$2, settings=$3, updated_at=$4;`
	if _, err := execSQL(ctx, r.pool, nil, q, string(s.Gateway), s.Enabled, raw, time.Now()); err != nil {
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *gatewaySettingsRepo) scan(row pgx.Row) (*model.GatewaySettings, error) {
	var (
		gw      string
		enabled bool
		raw     []byte
	)
	if err := row.Scan(&gw, &enabled, &raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	settings := map[string]string{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &settings); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
	}
	for k, v := range settings {
		if strings.HasPrefix(k, "secret_") && r.sealer != nil {
			pv, err := r.sealer.Unseal(v)
			if err != nil {
				return nil, domain.ErrReadDatabaseRow
			}
			settings[k] = pv
		}
	}
	g, err := model.ParseGateway(gw)
	if err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return &model.GatewaySettings{Gateway: g, Enabled: enabled, Settings: settings}, nil
}
