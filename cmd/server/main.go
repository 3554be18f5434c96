package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"

	"github.com/digkill/genledger/internal/api"
	"github.com/digkill/genledger/internal/auth"
	"github.com/digkill/genledger/internal/config"
	"github.com/digkill/genledger/internal/database"
	"github.com/digkill/genledger/internal/kie"
	"github.com/digkill/genledger/internal/n8n"
	"github.com/digkill/genledger/internal/provider"
	"github.com/digkill/genledger/internal/repository"
	"github.com/digkill/genledger/internal/service"
	"github.com/digkill/genledger/internal/storage"
	"github.com/digkill/genledger/internal/telegram"
	"github.com/digkill/genledger/internal/yookassa"
	"github.com/digkill/genledger/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel)

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	kieClient := kie.NewClient(cfg, logr)
	n8nClient := n8n.NewClient(cfg.RequestTimeout)
	yooClient := yookassa.NewClient(cfg.YooKassaShopID, cfg.YooKassaSecretKey)
	notifier, err := telegram.NewNotifier(cfg, logr)
	if err != nil {
		log.Fatalf("telegram notifier: %v", err)
	}

	var uploader service.MediaUploader
	if cfg.StorageConfigured() {
		u, err := storage.NewUploader(storage.ConfigFrom(cfg))
		if err != nil {
			log.Fatalf("storage uploader: %v", err)
		}
		uploader = u
	} else {
		logr.Warn("s3 storage not configured: inline reference images will be rejected")
	}

	var throttle service.PollThrottle = service.NewLocalThrottle(cfg.PollThrottle)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis ping: %v", err)
		}
		throttle = service.NewRedisThrottle(rdb, cfg.PollThrottle)
	}

	tokens := auth.NewTokens(cfg.JWTSecret, 0)
	signer := auth.NewCallbackSigner(cfg.BaseURL, cfg.CallbackSigningKey)
	registry := provider.DefaultRegistry()

	accountRepo := repository.NewAccountRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	eventRepo := repository.NewEventRepository(db)
	generationRepo := repository.NewGenerationRepository(db)
	workflowRepo := repository.NewWorkflowRepository(db)
	promoRepo := repository.NewPromoRepository(db)
	planRepo := repository.NewPlanRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)

	ledgerService := service.NewLedgerService(ledgerRepo, logr)
	gate := service.NewEventGate(eventRepo)
	planService := service.NewPlanService(cfg.PaymentCurrency, planRepo)
	generationService := service.NewGenerationService(service.GenerationConfig{
		DispatchTimeout: cfg.DispatchTimeout,
		TTL:             cfg.GenerationTTL,
	}, logr, ledgerService, generationRepo, kieClient, registry, signer, uploader)
	reconcileService := service.NewReconcileService(service.ReconcileConfig{
		PollBatchSize:      cfg.PollBatchSize,
		RefundLateFailures: cfg.RefundLateFailures,
	}, logr, generationRepo, ledgerService, kieClient, registry, throttle)
	workflowService := service.NewWorkflowService(service.WorkflowConfig{
		CallbackURL:        cfg.BaseURL + "/api/n8n/callback",
		Secret:             cfg.N8NCallbackSecret,
		RefundLateFailures: cfg.RefundLateFailures,
	}, logr, workflowRepo, ledgerService, n8nClient, registry, notifier, gate)
	promoService := service.NewPromoService(logr, promoRepo, ledgerService)
	paymentService := service.NewPaymentService(logr, paymentRepo, planService, ledgerService, yooClient, gate, cfg.YooKassaReturnURL)
	accountService := service.NewAccountService(logr, accountRepo, ledgerService, tokens)
	alertService := service.NewAlertService(logr, kieClient, notifier, gate, cfg.ProviderCreditThreshold)

	if err := planService.EnsureDefaultPlans(ctx); err != nil {
		log.Fatalf("ensure default plans: %v", err)
	}

	if cfg.AlertCheckInterval > 0 {
		go alertService.Run(ctx, cfg.AlertCheckInterval)
	}

	server := api.NewServer(api.Options{
		Addr:          cfg.HTTPListenAddr,
		AdminUsername: cfg.AdminUsername,
		AdminPassword: cfg.AdminPassword,
		N8NSecret:     cfg.N8NCallbackSecret,
		CORSOrigins:   cfg.CORSAllowedOrigins,
	}, logr, api.Services{
		Generations: generationService,
		Reconciler:  reconcileService,
		Ledger:      ledgerService,
		Promos:      promoService,
		Plans:       planService,
		Payments:    paymentService,
		Workflows:   workflowService,
		Accounts:    accountService,
		Credits:     alertService,
		Tokens:      tokens,
		Callbacks:   signer,
	})

	if err := server.Run(ctx); err != nil {
		logr.Error("http server stopped", "err", err)
	}
}
