// Package bootstrap wires optional runtime dependencies (Postgres, Redis,
// email) so the api and worker binaries share construction logic.
package bootstrap

import (
	"context"
	"crypto/tls"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/builderlane/bookingsync/internal/booking"
	appconfig "github.com/builderlane/bookingsync/internal/config"
	"github.com/builderlane/bookingsync/internal/events"
	"github.com/builderlane/bookingsync/internal/notify"
	"github.com/builderlane/bookingsync/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		return nil
	}
	return client
}

// BuildPool opens the pgx pool, or returns nil when no DATABASE_URL is set so
// local development can run fully in memory.
func BuildPool(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, nil
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if logger != nil {
		logger.Info("connected to postgres")
	}
	return pool, nil
}

// Stores bundles the persistence layer used by the reconciliation engine.
type Stores struct {
	Bookings booking.Store
	Ledger   events.AppliedLedger
	Outbox   events.OutboxWriter

	// Pending is non-nil only with Postgres; the outbox worker drains it.
	Pending events.PendingSource
}

// BuildStores selects Postgres-backed stores when a pool is available and
// falls back to in-memory ones otherwise. A Redis client, when present, fronts
// the applied-event ledger.
func BuildStores(pool *pgxpool.Pool, redisClient *redis.Client, logger *logging.Logger) Stores {
	if pool == nil {
		if logger != nil {
			logger.Warn("DATABASE_URL not set, using in-memory stores")
		}
		memOutbox := events.NewMemoryOutbox()
		return Stores{
			Bookings: booking.NewInMemoryStore(),
			Ledger:   events.NewCachedLedger(events.NewInMemoryAppliedLedger(), redisClient),
			Outbox:   memOutbox,
			Pending:  memOutbox,
		}
	}

	outbox := events.NewOutboxStore(pool)
	return Stores{
		Bookings: booking.NewPostgresStore(pool),
		Ledger:   events.NewCachedLedger(events.NewAppliedStore(pool), redisClient),
		Outbox:   outbox,
		Pending:  outbox,
	}
}

// BuildEmailSender picks the configured email transport, falling back to the
// logging stub so notification flow stays exercisable without credentials.
func BuildEmailSender(cfg *appconfig.Config, sesClient *sesv2.Client, logger *logging.Logger) notify.EmailSender {
	switch cfg.EmailProvider {
	case "ses":
		if sender := notify.NewSESSender(sesClient, notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SESFromName,
		}, logger); sender != nil {
			return sender
		}
	case "sendgrid":
		if sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); sender != nil {
			return sender
		}
	}
	return notify.NewStubEmailSender(logger)
}
