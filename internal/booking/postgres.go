package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type pgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists bookings in the relational database.
type PostgresStore struct {
	pool   pgxPool
	tracer trace.Tracer
}

// NewPostgresStore initializes a store backed by pgxpool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("booking: pgx pool required")
	}
	return NewPostgresStoreWithPool(pool)
}

// NewPostgresStoreWithPool allows injecting mocks for tests.
func NewPostgresStoreWithPool(pool pgxPool) *PostgresStore {
	if pool == nil {
		panic("booking: pool required")
	}
	return &PostgresStore{
		pool:   pool,
		tracer: otel.Tracer("bookingsync.internal.booking"),
	}
}

const bookingColumns = `id, builder_id, session_type_id, client_id, client_email, client_name, title, description,
	start_time, end_time, timezone,
	scheduling_event_id, scheduling_event_uri, invitee_uri,
	checkout_session_id, payment_intent_id, amount_cents, currency,
	status, payment_status,
	scheduling_confirmed_at, scheduling_fact_at, payment_fact_at,
	created_at, updated_at, version`

// Create inserts a new booking row at version 1.
func (s *PostgresStore) Create(ctx context.Context, b *Booking) (*Booking, error) {
	ctx, span := s.tracer.Start(ctx, "booking.store.create")
	defer span.End()
	span.SetAttributes(attribute.String("booking.id", b.ID.String()))

	query := `
		INSERT INTO bookings (` + bookingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)
	`
	_, err := s.pool.Exec(ctx, query,
		b.ID, b.BuilderID, b.SessionTypeID, b.ClientID, b.ClientEmail, b.ClientName, b.Title, b.Description,
		b.StartTime, b.EndTime, b.Timezone,
		b.SchedulingEventID, b.SchedulingEventURI, b.InviteeURI,
		b.CheckoutSessionID, b.PaymentIntentID, b.AmountCents, b.Currency,
		string(b.Status), string(b.PaymentStatus),
		b.SchedulingConfirmedAt, b.SchedulingFactAt, b.PaymentFactAt,
		b.CreatedAt, b.UpdatedAt, b.Version,
	)
	if err != nil {
		span.RecordError(err)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("booking: insert failed: %w", err)
	}
	return b.Clone(), nil
}

// Get retrieves a booking by id.
func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Booking, error) {
	ctx, span := s.tracer.Start(ctx, "booking.store.get")
	defer span.End()
	span.SetAttributes(attribute.String("booking.id", id.String()))

	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	b, err := scanBooking(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("booking: load failed: %w", err)
	}
	return b, nil
}

// CompareAndUpdate applies mutate under a row lock, persisting version+1 only
// when the loaded version matches expectedVersion.
func (s *PostgresStore) CompareAndUpdate(ctx context.Context, id uuid.UUID, expectedVersion int64, mutate func(*Booking) error) (*Booking, error) {
	ctx, span := s.tracer.Start(ctx, "booking.store.compare_and_update")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking.id", id.String()),
		attribute.Int64("booking.expected_version", expectedVersion),
	)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("booking: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1 FOR UPDATE`
	current, err := scanBooking(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("booking: lock row: %w", err)
	}
	if current.Version != expectedVersion {
		return nil, ErrVersionConflict
	}

	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.Version = expectedVersion + 1
	next.UpdatedAt = nowUTC()

	update := `
		UPDATE bookings SET
			scheduling_event_id = $2,
			scheduling_event_uri = $3,
			invitee_uri = $4,
			checkout_session_id = $5,
			payment_intent_id = $6,
			amount_cents = $7,
			currency = $8,
			status = $9,
			payment_status = $10,
			scheduling_confirmed_at = $11,
			scheduling_fact_at = $12,
			payment_fact_at = $13,
			updated_at = $14,
			version = $15
		WHERE id = $1 AND version = $16
	`
	ct, err := tx.Exec(ctx, update,
		next.ID,
		next.SchedulingEventID, next.SchedulingEventURI, next.InviteeURI,
		next.CheckoutSessionID, next.PaymentIntentID, next.AmountCents, next.Currency,
		string(next.Status), string(next.PaymentStatus),
		next.SchedulingConfirmedAt, next.SchedulingFactAt, next.PaymentFactAt,
		next.UpdatedAt, next.Version, expectedVersion,
	)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("booking: update failed: %w", err)
	}
	if ct.RowsAffected() != 1 {
		return nil, ErrVersionConflict
	}
	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("booking: commit: %w", err)
	}
	return next, nil
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	var status, paymentStatus string
	if err := row.Scan(
		&b.ID, &b.BuilderID, &b.SessionTypeID, &b.ClientID, &b.ClientEmail, &b.ClientName, &b.Title, &b.Description,
		&b.StartTime, &b.EndTime, &b.Timezone,
		&b.SchedulingEventID, &b.SchedulingEventURI, &b.InviteeURI,
		&b.CheckoutSessionID, &b.PaymentIntentID, &b.AmountCents, &b.Currency,
		&status, &paymentStatus,
		&b.SchedulingConfirmedAt, &b.SchedulingFactAt, &b.PaymentFactAt,
		&b.CreatedAt, &b.UpdatedAt, &b.Version,
	); err != nil {
		return nil, err
	}
	b.Status = Status(status)
	b.PaymentStatus = PaymentStatus(paymentStatus)
	return &b, nil
}
