package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"plan-purchase-service/internal/config"
	pg "plan-purchase-service/internal/infra/db/postgres"
	"plan-purchase-service/internal/infra/gateways"
	"plan-purchase-service/internal/infra/logging"
	"plan-purchase-service/internal/infra/metrics"
	red "plan-purchase-service/internal/infra/redis"
	"plan-purchase-service/internal/infra/sched"
	"plan-purchase-service/internal/infra/security"
	"plan-purchase-service/internal/infra/web"
	"plan-purchase-service/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, sandbox gateways)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("developer mode enabled")
	}
	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.PoolSize)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connect failed")
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connect failed")
	}
	defer redisClient.Close()
	locker := red.NewLocker(redisClient)
	tokenStore := red.NewTokenStore(redisClient)

	// ---- Credential sealing ----
	sealKey := cfg.Security.CredentialsKey
	if len(sealKey) != 32 {
		logger.Warn().Msg("security.credentials_key not set or not 32 bytes; falling back to dev key (INSECURE)")
		sealKey = "0123456789abcdef0123456789abcdef"
	}
	sealer, err := security.NewCredentialSealer(sealKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("credential sealer init failed")
	}

	// ---- Repositories ----
	purchaseRepo := pg.NewPurchaseRepo(pool)
	planRepo := pg.NewPlanRepo(pool)
	settingsRepo := pg.NewGatewaySettingsRepo(pool, sealer)
	tm := pg.NewTxManager(pool)

	// ---- Gateways ----
	resolver := gateways.NewResolver(settingsRepo, cfg.Server.BaseURL, cfg.Runtime.Dev)

	// ---- Use cases ----
	reconcileUC := usecase.NewReconcileUseCase(purchaseRepo, tm, logger)
	checkoutUC := usecase.NewCheckoutUseCase(
		purchaseRepo, planRepo, resolver, reconcileUC, tm, locker,
		cfg.Checkout.AuthorizationTimeout, cfg.Checkout.AuthorizationRetries, logger,
	)
	statusUC := usecase.NewStatusUseCase(purchaseRepo, cfg.Checkout.PollIntervalSeconds, cfg.Checkout.PollMaxRefreshes, logger)

	// ---- HTTP server ----
	tokens := web.NewCheckoutTokenManager(cfg.Security.TokenSecret, cfg.Security.TokenTTL, tokenStore)
	adminAuth := web.NewAdminAuth(cfg.Security.AdminSecret, 0)
	srv := web.NewServer(checkoutUC, reconcileUC, statusUC, resolver, tokens, adminAuth, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	// ---- Background workers ----
	sweeper := sched.NewConfirmationSweeper(purchaseRepo, reconcileUC, cfg.Scheduler.SweepInterval, cfg.Checkout.ConfirmationTimeout, logger)
	go func() { _ = sweeper.Run(ctx) }()

	expiry := sched.NewExpiryWorker(purchaseRepo, cfg.Scheduler.ExpiryInterval, logger)
	go func() { _ = expiry.Run(ctx) }()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")
	cancel()
	_ = server.Shutdown(context.Background())
}
