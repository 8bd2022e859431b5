package repository

import (
	"context"

	"plan-purchase-service/internal/domain/model"
)

// PlanCatalog is the read port onto the catalog collaborator.
type PlanCatalog interface {
	FindByID(ctx context.Context, id string) (*model.Plan, error)
	ListAll(ctx context.Context) ([]*model.Plan, error)
}

// GatewaySettingsRepository reads per-gateway configuration owned by the
// administration collaborator.
type GatewaySettingsRepository interface {
	Find(ctx context.Context, g model.Gateway) (*model.GatewaySettings, error)
	ListEnabled(ctx context.Context) (map[model.Gateway]*model.GatewaySettings, error)
}
