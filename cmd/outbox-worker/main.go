package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/builderlane/bookingsync/cmd/mainconfig"
	"github.com/builderlane/bookingsync/internal/app/bootstrap"
	appconfig "github.com/builderlane/bookingsync/internal/config"
	"github.com/builderlane/bookingsync/internal/downstream"
	"github.com/builderlane/bookingsync/internal/events"
	"github.com/builderlane/bookingsync/internal/notify"
	"github.com/builderlane/bookingsync/internal/observability/metrics"
	"github.com/builderlane/bookingsync/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting outbox worker", "env", cfg.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := bootstrap.BuildPool(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	if pool == nil {
		logger.Error("DATABASE_URL is required for the outbox worker")
		os.Exit(1)
	}
	defer pool.Close()

	awsConfig, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	m := metrics.NewReconciliationMetrics(prometheus.DefaultRegisterer)
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)

	var sesClient *sesv2.Client
	if cfg.EmailProvider == "ses" {
		sesClient = sesv2.NewFromConfig(awsConfig)
	}
	sender := bootstrap.BuildEmailSender(cfg, sesClient, logger)

	var ledger notify.DeliveryLedger
	if redisClient != nil {
		ledger = notify.NewRedisDeliveryLedger(redisClient, 0)
	} else {
		ledger = notify.NewMemoryDeliveryLedger()
	}
	dispatcher := notify.NewDispatcher(sender, ledger, m, logger).WithBaseURL(cfg.PublicBaseURL)

	handlers := events.Fanout{dispatcher}
	if cfg.BookingEventsQueueURL != "" {
		sqsClient := sqs.NewFromConfig(awsConfig)
		if pub := downstream.NewPublisher(sqsClient, cfg.BookingEventsQueueURL, logger); pub != nil {
			handlers = append(handlers, pub)
			logger.Info("downstream publishing enabled", "queue", cfg.BookingEventsQueueURL)
		}
	}

	deliverer := events.NewDeliverer(events.NewOutboxStore(pool), handlers, logger).
		WithBatchSize(int32(cfg.OutboxBatchSize)).
		WithInterval(cfg.OutboxPollInterval)

	go deliverer.Start(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down outbox worker...")
	cancel()
	logger.Info("outbox worker stopped")
}
