// Seeds a development database with a small plan catalog and gateway
// settings. Not for production use.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"plan-purchase-service/internal/config"
	"plan-purchase-service/internal/domain/model"
	pg "plan-purchase-service/internal/infra/db/postgres"
	"plan-purchase-service/internal/infra/security"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 2)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	sealKey := cfg.Security.CredentialsKey
	if len(sealKey) != 32 {
		sealKey = "0123456789abcdef0123456789abcdef"
	}
	sealer, err := security.NewCredentialSealer(sealKey)
	if err != nil {
		log.Fatalf("sealer: %v", err)
	}

	plans := []struct {
		id, name, feature string
		price             int64
		days              int
		oneTime           bool
		limit             int64
	}{
		{"plan-reports-free", "Reports Free", "reports", 0, 30, false, 100},
		{"plan-reports-monthly", "Reports Monthly", "reports", 1900, 30, false, 5000},
		{"plan-reports-yearly", "Reports Yearly", "reports", 19000, 365, false, 100000},
		{"plan-exports-lifetime", "Exports Lifetime", "exports", 4900, 0, true, 0},
	}
	planRepo := pg.NewPlanRepo(pool)
	for _, p := range plans {
		plan, err := model.NewPlan(p.id, p.name, p.feature, p.price, p.days, p.oneTime, p.limit)
		if err != nil {
			log.Fatalf("plan %s: %v", p.id, err)
		}
		if err := planRepo.Save(ctx, plan); err != nil {
			log.Fatalf("save plan %s: %v", p.id, err)
		}
		log.Printf("seeded plan %s", p.id)
	}

	settingsRepo := pg.NewGatewaySettingsRepo(pool, sealer)
	settings := []*model.GatewaySettings{
		{Gateway: model.GatewayStripe, Enabled: true, Settings: map[string]string{
			"secret_key":            "sk_test_placeholder",
			"secret_webhook_secret": "whsec_placeholder",
			"currency":              "usd",
		}},
		{Gateway: model.GatewayPayPal, Enabled: true, Settings: map[string]string{
			"client_id":            "paypal-client-placeholder",
			"secret_client_secret": "paypal-secret-placeholder",
			"currency":             "USD",
		}},
		{Gateway: model.GatewayBank, Enabled: true, Settings: map[string]string{
			"account_holder": "Example Corp",
			"iban":           "DE89370400440532013000",
			"bank_name":      "Example Bank",
		}},
		{Gateway: model.GatewayFree, Enabled: true, Settings: map[string]string{}},
	}
	for _, s := range settings {
		if err := settingsRepo.Save(ctx, s); err != nil {
			log.Fatalf("save settings %s: %v", s.Gateway, err)
		}
		log.Printf("seeded gateway settings %s", s.Gateway)
	}
}
