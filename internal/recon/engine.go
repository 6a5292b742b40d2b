package recon

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/builderlane/bookingsync/internal/booking"
	"github.com/builderlane/bookingsync/internal/events"
	"github.com/builderlane/bookingsync/internal/observability/metrics"
	"github.com/builderlane/bookingsync/pkg/logging"
)

var reconTracer = otel.Tracer("bookingsync.internal.recon")

// Outcome classifies the result of applying one event.
type Outcome string

const (
	OutcomeApplied        Outcome = "applied"
	OutcomeAlreadyApplied Outcome = "already_applied"
	OutcomeNoChange       Outcome = "no_change"
	OutcomeIgnored        Outcome = "ignored"
	OutcomeUnknownBooking Outcome = "unknown_booking"
	OutcomeRejected       Outcome = "rejected"
)

// Result reports what one Apply did.
type Result struct {
	Outcome    Outcome
	Booking    *booking.Booking
	Transition string
}

// ErrRetryExhausted is surfaced when concurrent writers starve an apply past
// its retry budget. Safe to redeliver: the dedup ledger absorbs duplicates.
var ErrRetryExhausted = errors.New("recon: apply retry budget exhausted")

// errNoEffect aborts a compare-and-update whose mutate turned out to be a
// no-op, so stale facts never burn a version increment.
var errNoEffect = errors.New("recon: event has no effect")

// Engine merges normalized external facts into bookings. It holds no state of
// its own; all coordination happens through the store's atomic primitives.
type Engine struct {
	store   booking.Store
	ledger  events.AppliedLedger
	outbox  events.OutboxWriter
	logger  *logging.Logger
	metrics *metrics.ReconciliationMetrics

	retryAttempts int
	retryBackoff  time.Duration
}

func NewEngine(store booking.Store, ledger events.AppliedLedger, outbox events.OutboxWriter, logger *logging.Logger, m *metrics.ReconciliationMetrics) *Engine {
	if store == nil {
		panic("recon: booking store required")
	}
	if ledger == nil {
		panic("recon: applied ledger required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		store:         store,
		ledger:        ledger,
		outbox:        outbox,
		logger:        logger,
		metrics:       m,
		retryAttempts: 3,
		retryBackoff:  25 * time.Millisecond,
	}
}

// WithRetry overrides the version-conflict retry budget.
func (e *Engine) WithRetry(attempts int, backoff time.Duration) *Engine {
	if attempts > 0 {
		e.retryAttempts = attempts
	}
	if backoff > 0 {
		e.retryBackoff = backoff
	}
	return e
}

// Apply merges one event into its booking, idempotently. A nil error means
// the event is settled and must be acknowledged to the provider; the Outcome
// says how it settled. A non-nil error is transient and safe to redeliver.
func (e *Engine) Apply(ctx context.Context, evt Event) (Result, error) {
	ctx, span := reconTracer.Start(ctx, "recon.apply")
	defer span.End()
	span.SetAttributes(
		attribute.String("bookingsync.provider", evt.Provider),
		attribute.String("bookingsync.kind", string(evt.Kind)),
		attribute.String("bookingsync.provider_event_id", evt.ProviderEventID),
	)

	applied, err := e.ledger.HasApplied(ctx, evt.Provider, evt.ProviderEventID)
	if err != nil {
		return Result{}, fmt.Errorf("recon: dedup lookup: %w", err)
	}
	if applied {
		e.observe(evt, OutcomeAlreadyApplied)
		return Result{Outcome: OutcomeAlreadyApplied}, nil
	}

	if evt.Kind == KindIgnored {
		// Recorded as applied so redeliveries of event types we do not
		// understand stop at the ledger.
		if _, err := e.ledger.RecordApplied(ctx, evt.Provider, evt.ProviderEventID); err != nil {
			return Result{}, fmt.Errorf("recon: record ignored event: %w", err)
		}
		e.observe(evt, OutcomeIgnored)
		return Result{Outcome: OutcomeIgnored}, nil
	}

	for attempt := 0; attempt < e.retryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		current, err := e.store.Get(ctx, evt.BookingID)
		if errors.Is(err, booking.ErrNotFound) {
			e.observe(evt, OutcomeUnknownBooking)
			e.logger.Warn("event for unknown booking",
				"booking_id", evt.BookingID,
				"provider", evt.Provider,
				"provider_event_id", evt.ProviderEventID,
				"kind", evt.Kind,
			)
			return Result{Outcome: OutcomeUnknownBooking}, nil
		}
		if err != nil {
			return Result{}, fmt.Errorf("recon: load booking: %w", err)
		}

		var change facetChange
		updated, err := e.store.CompareAndUpdate(ctx, current.ID, current.Version, func(b *booking.Booking) error {
			change = applyFacts(b, evt)
			if change.rejected != "" || !change.changed {
				return errNoEffect
			}
			return nil
		})

		switch {
		case errors.Is(err, errNoEffect):
			return e.settleNoEffect(ctx, evt, current, change)
		case errors.Is(err, booking.ErrVersionConflict):
			e.metrics.ObserveVersionConflict()
			e.backoff(ctx, attempt)
			continue
		case errors.Is(err, booking.ErrNotFound):
			e.observe(evt, OutcomeUnknownBooking)
			return Result{Outcome: OutcomeUnknownBooking}, nil
		case err != nil:
			return Result{}, fmt.Errorf("recon: persist event: %w", err)
		}

		if _, err := e.ledger.RecordApplied(ctx, evt.Provider, evt.ProviderEventID); err != nil {
			// The state change is durable; a redelivery will settle as a
			// no-op on the facts even though the ledger write was lost.
			e.logger.Error("failed to record applied event",
				"error", err,
				"provider", evt.Provider,
				"provider_event_id", evt.ProviderEventID,
			)
		}

		if change.transition != "" && e.outbox != nil {
			payload := transitionPayload(updated, change.transition, evt)
			if _, err := e.outbox.Insert(ctx, updated.ID, change.transition, updated.Version, payload); err != nil {
				return Result{}, fmt.Errorf("recon: enqueue outbox: %w", err)
			}
		}

		e.observe(evt, OutcomeApplied)
		e.logger.Info("event applied",
			"booking_id", updated.ID,
			"provider", evt.Provider,
			"provider_event_id", evt.ProviderEventID,
			"kind", evt.Kind,
			"status", updated.Status,
			"payment_status", updated.PaymentStatus,
			"version", updated.Version,
		)
		return Result{Outcome: OutcomeApplied, Booking: updated, Transition: change.transition}, nil
	}

	e.observe(evt, Outcome("retry_exhausted"))
	return Result{}, ErrRetryExhausted
}

func (e *Engine) settleNoEffect(ctx context.Context, evt Event, current *booking.Booking, change facetChange) (Result, error) {
	if _, err := e.ledger.RecordApplied(ctx, evt.Provider, evt.ProviderEventID); err != nil {
		return Result{}, fmt.Errorf("recon: record no-op event: %w", err)
	}
	if change.rejected != "" {
		e.observe(evt, OutcomeRejected)
		e.logger.Warn("event rejected as data integrity violation",
			"booking_id", current.ID,
			"provider", evt.Provider,
			"provider_event_id", evt.ProviderEventID,
			"kind", evt.Kind,
			"reason", change.rejected,
		)
		return Result{Outcome: OutcomeRejected, Booking: current}, nil
	}
	e.observe(evt, OutcomeNoChange)
	return Result{Outcome: OutcomeNoChange, Booking: current}, nil
}

func (e *Engine) backoff(ctx context.Context, attempt int) {
	base := e.retryBackoff * time.Duration(attempt+1)
	jitter := time.Duration(rand.Int64N(int64(e.retryBackoff)))
	select {
	case <-time.After(base + jitter):
	case <-ctx.Done():
	}
}

func (e *Engine) observe(evt Event, outcome Outcome) {
	e.metrics.ObserveApply(string(evt.Source), string(evt.Kind), string(outcome))
}

func transitionPayload(b *booking.Booking, transition string, evt Event) events.BookingTransitionV1 {
	occurred := evt.OccurredAt
	return events.BookingTransitionV1{
		BookingID:     b.ID,
		Transition:    transition,
		Status:        string(b.Status),
		PaymentStatus: string(b.PaymentStatus),
		Title:         b.Title,
		StartTime:     b.StartTime,
		EndTime:       b.EndTime,
		Timezone:      b.Timezone,
		AmountCents:   b.AmountCents,
		Currency:      b.Currency,
		ClientEmail:   b.ClientEmail,
		ClientName:    b.ClientName,
		Version:       b.Version,
		OccurredAt:    &occurred,
	}
}
