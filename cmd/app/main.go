package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"subscription-billing/internal/config"
	"subscription-billing/internal/domain/ports/adapter"
	"subscription-billing/internal/infra/db/postgres"
	"subscription-billing/internal/infra/gateway"
	"subscription-billing/internal/infra/logging"
	"subscription-billing/internal/infra/metrics"
	red "subscription-billing/internal/infra/redis"
	"subscription-billing/internal/infra/sched"
	"subscription-billing/internal/infra/web"
	"subscription-billing/internal/infra/webhook"
	"subscription-billing/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		log.Warn().Msg("dev mode enabled")
	}

	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := postgres.Connect(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connect")
	}
	defer pool.Close()

	// ---- Redis (optional fast-path lock for invoice generation) ----
	var locker usecase.Locker
	if cfg.Redis.URL != "" {
		redisClient, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connect")
		}
		defer redisClient.Close()
		locker = red.NewLocker(redisClient)
	}

	// ---- Repositories ----
	accountRepo := postgres.NewAccountRepo(pool)
	planRepo := postgres.NewPlanRepo(pool)
	subRepo := postgres.NewSubscriptionRepo(pool)
	usageRepo := postgres.NewUsageRepo(pool)
	creditRepo := postgres.NewCreditRepo(pool)
	invoiceRepo := postgres.NewInvoiceRepo(pool)
	paymentRepo := postgres.NewPaymentRepo(pool)
	webhookRepo := postgres.NewWebhookRepo(pool)
	tm := postgres.NewTxManager(pool)

	// ---- Payment gateway ----
	var pgw adapter.PaymentGateway
	switch cfg.Gateway.Provider {
	case "stripe":
		pgw = gateway.NewStripeGateway(cfg.Gateway.Stripe.APIKey)
	default:
		pgw = gateway.NewNoopGateway()
	}
	log.Info().Str("provider", pgw.Name()).Msg("payment gateway configured")

	// ---- Use cases ----
	clock := time.Now
	sender := webhook.NewHTTPSender(cfg.Webhook.SigningSecret, cfg.Webhook.Timeout)
	webhookUC := usecase.NewWebhookUseCase(webhookRepo, sender, cfg.Webhook.Endpoints,
		cfg.Webhook.MaxAttempts, cfg.Webhook.BaseBackoff, clock, log)

	var tax adapter.TaxCalculator = adapter.NoopTax{}
	if cfg.Billing.TaxRateBps > 0 {
		tax = adapter.FlatRateTax{RateBps: cfg.Billing.TaxRateBps}
	}

	accountUC := usecase.NewAccountUseCase(accountRepo, log)
	planUC := usecase.NewPlanUseCase(planRepo, log)
	usageUC := usecase.NewUsageUseCase(usageRepo, subRepo, clock, log)
	creditUC := usecase.NewCreditUseCase(creditRepo, accountRepo, clock, log)
	invoiceUC := usecase.NewInvoiceUseCase(invoiceRepo, subRepo, planRepo, usageRepo,
		creditUC, tax, tm, locker, webhookUC, clock, log)
	paymentUC := usecase.NewPaymentUseCase(paymentRepo, invoiceRepo, subRepo, accountRepo,
		pgw, tm, webhookUC, clock, log)
	subUC := usecase.NewSubscriptionUseCase(subRepo, planRepo, accountRepo,
		invoiceUC, tm, webhookUC, clock, log)
	statsUC := usecase.NewStatsUseCase(subRepo, invoiceRepo, paymentRepo)

	// ---- Background workers ----
	batch := cfg.Billing.SweepBatchSize
	boundaryWorker := sched.NewBoundaryWorker(cfg.Billing.BoundarySweepInterval, batch, subUC, log)
	dunningWorker := sched.NewDunningWorker(cfg.Billing.DunningSweepInterval, batch, paymentUC, log)
	webhookWorker := sched.NewWebhookWorker(cfg.Billing.WebhookSweepInterval, batch, webhookUC, log)
	go func() { _ = boundaryWorker.Run(ctx) }()
	go func() { _ = dunningWorker.Run(ctx) }()
	go func() { _ = webhookWorker.Run(ctx) }()

	// ---- HTTP API ----
	srv := web.NewServer(accountUC, planUC, subUC, usageUC, creditUC,
		invoiceUC, paymentUC, webhookUC, statsUC, cfg.API.Key, log)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.API.Port),
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		log.Info().Str("addr", server.Addr).Msg("http api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server error")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	log.Info().Msg("shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
}
