package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/builderlane/bookingsync/internal/api/router"
	"github.com/builderlane/bookingsync/internal/app/bootstrap"
	appconfig "github.com/builderlane/bookingsync/internal/config"
	"github.com/builderlane/bookingsync/internal/events"
	"github.com/builderlane/bookingsync/internal/http/handlers"
	"github.com/builderlane/bookingsync/internal/notify"
	"github.com/builderlane/bookingsync/internal/observability/metrics"
	"github.com/builderlane/bookingsync/internal/recon"
	"github.com/builderlane/bookingsync/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting bookingsync API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()
	m := metrics.NewReconciliationMetrics(prometheus.DefaultRegisterer)

	pool, err := bootstrap.BuildPool(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	if pool != nil {
		defer pool.Close()
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	stores := bootstrap.BuildStores(pool, redisClient, logger)

	verifier := recon.NewVerifier(map[string]string{
		recon.ProviderCalendly: cfg.CalendlyWebhookSecret,
		recon.ProviderStripe:   cfg.StripeWebhookSecret,
	}, m, logger)

	engine := recon.NewEngine(stores.Bookings, stores.Ledger, stores.Outbox, logger, m).
		WithRetry(cfg.ApplyRetryAttempts, cfg.ApplyRetryBackoff)

	// Without Postgres the outbox is process-local, so drain it here instead
	// of in the worker binary.
	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	if pool == nil {
		dispatcher := notify.NewDispatcher(notify.NewStubEmailSender(logger), notify.NewMemoryDeliveryLedger(), m, logger)
		deliverer := events.NewDeliverer(stores.Pending, dispatcher, logger).
			WithBatchSize(int32(cfg.OutboxBatchSize)).
			WithInterval(cfg.OutboxPollInterval)
		go deliverer.Start(workerCtx)
	}

	webhookHandler := handlers.NewWebhookHandler(verifier, engine, cfg.BookingGraceWindow, m, logger)
	bookingHandler := handlers.NewBookingHandler(stores.Bookings, stores.Outbox, logger)

	// Setup router
	routerCfg := &router.Config{
		Logger:             logger,
		WebhookHandler:     webhookHandler,
		BookingHandler:     bookingHandler,
		AdminAuthSecret:    cfg.AdminJWTSecret,
		MetricsHandler:     promhttp.Handler(),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		WebhookRateLimit:   cfg.WebhookRateLimit,
		WebhookBurst:       cfg.WebhookRateBurst,
		HealthCheck: func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		},
	}
	r := router.New(routerCfg)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	stopWorker()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
