package recon

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/builderlane/bookingsync/internal/booking"
	"github.com/builderlane/bookingsync/internal/events"
	"github.com/builderlane/bookingsync/pkg/logging"
)

type engineHarness struct {
	engine *Engine
	store  *booking.InMemoryStore
	ledger *events.InMemoryAppliedLedger
	outbox *events.MemoryOutbox
}

func newHarness(t *testing.T) *engineHarness {
	t.Helper()
	store := booking.NewInMemoryStore()
	ledger := events.NewInMemoryAppliedLedger()
	outbox := events.NewMemoryOutbox()
	engine := NewEngine(store, ledger, outbox, logging.Default(), nil)
	return &engineHarness{engine: engine, store: store, ledger: ledger, outbox: outbox}
}

func (h *engineHarness) createBooking(t *testing.T, amountCents int64) *booking.Booking {
	t.Helper()
	start := time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)
	params := booking.CreateParams{
		BuilderID:     uuid.New(),
		SessionTypeID: uuid.New(),
		ClientEmail:   "client@example.com",
		ClientName:    "Jane Doe",
		Title:         "Deck build walkthrough",
		StartTime:     start,
		EndTime:       start.Add(time.Hour),
		Timezone:      "America/Chicago",
		Currency:      "usd",
	}
	if amountCents > 0 {
		params.AmountCents = &amountCents
	}
	b, err := booking.New(params)
	require.NoError(t, err)
	_, err = h.store.Create(context.Background(), b)
	require.NoError(t, err)
	return b
}

func schedulingEvent(bookingID uuid.UUID, kind Kind, eventID string, occurred time.Time) Event {
	return Event{
		BookingID:          bookingID,
		Source:             SourceScheduling,
		Kind:               kind,
		Provider:           ProviderCalendly,
		ProviderEventID:    eventID,
		OccurredAt:         occurred,
		SchedulingEventID:  "AAAA1111",
		SchedulingEventURI: "https://api.calendly.com/scheduled_events/AAAA1111",
		InviteeURI:         "https://api.calendly.com/scheduled_events/AAAA1111/invitees/BBBB2222",
	}
}

func paymentEvent(bookingID uuid.UUID, kind Kind, eventID string, occurred time.Time, amount int64) Event {
	evt := Event{
		BookingID:         bookingID,
		Source:            SourcePayment,
		Kind:              kind,
		Provider:          ProviderStripe,
		ProviderEventID:   eventID,
		OccurredAt:        occurred,
		CheckoutSessionID: "cs_test_123",
		PaymentIntentID:   "pi_123",
		Currency:          "usd",
	}
	if amount > 0 {
		evt.AmountCents = &amount
	}
	return evt
}

var t0 = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// Scenario: priced booking, scheduling confirms first, then payment lands.
func TestPricedBookingConfirmsOnlyAfterPayment(t *testing.T) {
	h := newHarness(t)
	b := h.createBooking(t, 15000)
	ctx := context.Background()

	res, err := h.engine.Apply(ctx, schedulingEvent(b.ID, KindMeetingConfirmed, "cal_1", t0))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, booking.StatusPending, res.Booking.Status)
	assert.NotNil(t, res.Booking.SchedulingConfirmedAt)
	assert.Empty(t, res.Transition)

	res, err = h.engine.Apply(ctx, paymentEvent(b.ID, KindPaymentSucceeded, "pay_1", t0.Add(time.Minute), 15000))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, booking.StatusConfirmed, res.Booking.Status)
	assert.Equal(t, booking.PaymentPaid, res.Booking.PaymentStatus)
	assert.Equal(t, events.TransitionBookingConfirmed, res.Transition)
	assert.Equal(t, int64(3), res.Booking.Version)

	// Provider references land on the booking for audit.
	require.NotNil(t, res.Booking.CheckoutSessionID)
	assert.Equal(t, "cs_test_123", *res.Booking.CheckoutSessionID)
	require.NotNil(t, res.Booking.PaymentIntentID)
	assert.Equal(t, "pi_123", *res.Booking.PaymentIntentID)
}

// Scenario: free session confirms immediately.
func TestFreeBookingConfirmsImmediately(t *testing.T) {
	h := newHarness(t)
	b := h.createBooking(t, 0)

	res, err := h.engine.Apply(context.Background(), schedulingEvent(b.ID, KindMeetingConfirmed, "cal_1", t0))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, booking.StatusConfirmed, res.Booking.Status)
	assert.Equal(t, events.TransitionBookingConfirmed, res.Transition)
}

// Scenario: redelivered cancellation is a no-op at the ledger.
func TestRedeliveredEventIsIdempotent(t *testing.T) {
	h := newHarness(t)
	b := h.createBooking(t, 15000)
	ctx := context.Background()

	evt := schedulingEvent(b.ID, KindMeetingCanceled, "cal_cancel_1", t0)
	res, err := h.engine.Apply(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	versionAfterFirst := res.Booking.Version

	res, err = h.engine.Apply(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyApplied, res.Outcome)

	got, err := h.store.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, versionAfterFirst, got.Version)
	assert.Equal(t, booking.StatusCanceled, got.Status)
}

// Scenario: unknown booking produces no side effects.
func TestUnknownBooking(t *testing.T) {
	h := newHarness(t)

	res, err := h.engine.Apply(context.Background(), paymentEvent(uuid.New(), KindPaymentSucceeded, "pay_1", t0, 100))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknownBooking, res.Outcome)
	assert.Empty(t, h.outbox.Entries())

	// The event stays unapplied so a later redelivery can succeed once the
	// booking exists.
	applied, err := h.ledger.HasApplied(context.Background(), ProviderStripe, "pay_1")
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestOrderIndependence(t *testing.T) {
	run := func(t *testing.T, eventOrder []Event, h *engineHarness, id uuid.UUID) *booking.Booking {
		ctx := context.Background()
		for _, evt := range eventOrder {
			_, err := h.engine.Apply(ctx, evt)
			require.NoError(t, err)
		}
		got, err := h.store.Get(ctx, id)
		require.NoError(t, err)
		return got
	}

	h1 := newHarness(t)
	b1 := h1.createBooking(t, 15000)
	first := run(t, []Event{
		schedulingEvent(b1.ID, KindMeetingConfirmed, "cal_1", t0),
		paymentEvent(b1.ID, KindPaymentSucceeded, "pay_1", t0.Add(time.Minute), 15000),
	}, h1, b1.ID)

	h2 := newHarness(t)
	b2 := h2.createBooking(t, 15000)
	second := run(t, []Event{
		paymentEvent(b2.ID, KindPaymentSucceeded, "pay_1", t0.Add(time.Minute), 15000),
		schedulingEvent(b2.ID, KindMeetingConfirmed, "cal_1", t0),
	}, h2, b2.ID)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.PaymentStatus, second.PaymentStatus)
	assert.Equal(t, booking.StatusConfirmed, first.Status)
	assert.Equal(t, booking.PaymentPaid, first.PaymentStatus)
	assert.Equal(t, first.Version, second.Version)
}

func TestTerminalStatesDoNotRegress(t *testing.T) {
	t.Run("canceled blocks later confirmation", func(t *testing.T) {
		h := newHarness(t)
		b := h.createBooking(t, 0)
		ctx := context.Background()

		_, err := h.engine.Apply(ctx, schedulingEvent(b.ID, KindMeetingCanceled, "cal_1", t0))
		require.NoError(t, err)

		res, err := h.engine.Apply(ctx, schedulingEvent(b.ID, KindMeetingConfirmed, "cal_2", t0.Add(time.Hour)))
		require.NoError(t, err)
		assert.Equal(t, OutcomeNoChange, res.Outcome)

		got, err := h.store.Get(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, booking.StatusCanceled, got.Status)
	})

	t.Run("refunded blocks later success", func(t *testing.T) {
		h := newHarness(t)
		b := h.createBooking(t, 15000)
		ctx := context.Background()

		_, err := h.engine.Apply(ctx, paymentEvent(b.ID, KindPaymentSucceeded, "pay_1", t0, 15000))
		require.NoError(t, err)
		_, err = h.engine.Apply(ctx, paymentEvent(b.ID, KindPaymentRefunded, "pay_2", t0.Add(time.Minute), 15000))
		require.NoError(t, err)

		res, err := h.engine.Apply(ctx, paymentEvent(b.ID, KindPaymentSucceeded, "pay_3", t0.Add(2*time.Minute), 15000))
		require.NoError(t, err)
		assert.Equal(t, OutcomeNoChange, res.Outcome)

		got, err := h.store.Get(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, booking.PaymentRefunded, got.PaymentStatus)
	})
}

func TestConfirmedNeverCoexistsWithFailedPayment(t *testing.T) {
	h := newHarness(t)
	b := h.createBooking(t, 15000)
	ctx := context.Background()

	_, err := h.engine.Apply(ctx, paymentEvent(b.ID, KindPaymentFailed, "pay_fail", t0, 0))
	require.NoError(t, err)

	res, err := h.engine.Apply(ctx, schedulingEvent(b.ID, KindMeetingConfirmed, "cal_1", t0.Add(time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)

	got, err := h.store.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusPending, got.Status)
	assert.Equal(t, booking.PaymentFailed, got.PaymentStatus)

	// A retried payment that eventually lands unblocks confirmation.
	res, err = h.engine.Apply(ctx, paymentEvent(b.ID, KindPaymentSucceeded, "pay_ok", t0.Add(2*time.Minute), 15000))
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, res.Booking.Status)
	assert.Equal(t, booking.PaymentPaid, res.Booking.PaymentStatus)
}

func TestPaymentFailureOnConfirmedFreeSessionRejected(t *testing.T) {
	h := newHarness(t)
	b := h.createBooking(t, 0)
	ctx := context.Background()

	_, err := h.engine.Apply(ctx, schedulingEvent(b.ID, KindMeetingConfirmed, "cal_1", t0))
	require.NoError(t, err)

	res, err := h.engine.Apply(ctx, paymentEvent(b.ID, KindPaymentFailed, "pay_fail", t0.Add(time.Minute), 0))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, res.Outcome)

	got, err := h.store.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.PaymentUnpaid, got.PaymentStatus)
	assert.Equal(t, booking.StatusConfirmed, got.Status)
}

func TestIgnoredKindRecordedWithoutBooking(t *testing.T) {
	h := newHarness(t)

	evt := Event{
		Source:          SourcePayment,
		Kind:            KindIgnored,
		Provider:        ProviderStripe,
		ProviderEventID: "evt_new_feature",
	}
	res, err := h.engine.Apply(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)

	res, err = h.engine.Apply(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyApplied, res.Outcome)
}

func TestOutboxEntriesPerTransition(t *testing.T) {
	h := newHarness(t)
	b := h.createBooking(t, 15000)
	ctx := context.Background()

	_, err := h.engine.Apply(ctx, schedulingEvent(b.ID, KindMeetingConfirmed, "cal_1", t0))
	require.NoError(t, err)
	_, err = h.engine.Apply(ctx, paymentEvent(b.ID, KindPaymentSucceeded, "pay_1", t0.Add(time.Minute), 15000))
	require.NoError(t, err)
	_, err = h.engine.Apply(ctx, paymentEvent(b.ID, KindPaymentRefunded, "pay_2", t0.Add(time.Hour), 15000))
	require.NoError(t, err)

	entries := h.outbox.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, events.TransitionBookingConfirmed, entries[0].Type)
	assert.Equal(t, events.TransitionPaymentRefunded, entries[1].Type)
}

func TestConcurrentAppliesForSameBooking(t *testing.T) {
	h := newHarness(t)
	h.engine.WithRetry(20, time.Millisecond)
	b := h.createBooking(t, 15000)
	ctx := context.Background()

	const n = 12
	evts := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		// Distinct failed-payment facts at increasing timestamps; only the
		// first can change state, the rest settle as no-ops.
		evts = append(evts, paymentEvent(b.ID, KindPaymentFailed, fmt.Sprintf("pay_%d", i), t0.Add(time.Duration(i)*time.Second), 0))
	}

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(evt Event) {
			defer wg.Done()
			if _, err := h.engine.Apply(ctx, evt); err != nil {
				t.Error(err)
			}
		}(evts[i])
	}
	wg.Wait()

	got, err := h.store.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.PaymentFailed, got.PaymentStatus)
	// Exactly one of the N facts moved the facet; version is create + 1.
	assert.Equal(t, int64(2), got.Version)

	for i := 0; i < n; i++ {
		applied, err := h.ledger.HasApplied(ctx, ProviderStripe, fmt.Sprintf("pay_%d", i))
		require.NoError(t, err)
		assert.True(t, applied)
	}
}

func TestConcurrentDistinctFactsAllLand(t *testing.T) {
	h := newHarness(t)
	h.engine.WithRetry(20, time.Millisecond)
	b := h.createBooking(t, 15000)
	ctx := context.Background()

	// Scheduling confirmation and payment success race; both change state,
	// so whichever loses the CAS retries on top of the other.
	evts := []Event{
		schedulingEvent(b.ID, KindMeetingConfirmed, "cal_1", t0),
		paymentEvent(b.ID, KindPaymentSucceeded, "pay_1", t0.Add(time.Second), 15000),
	}

	var wg sync.WaitGroup
	wg.Add(len(evts))
	for _, evt := range evts {
		go func(evt Event) {
			defer wg.Done()
			if _, err := h.engine.Apply(ctx, evt); err != nil {
				t.Error(err)
			}
		}(evt)
	}
	wg.Wait()

	got, err := h.store.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, got.Status)
	assert.Equal(t, booking.PaymentPaid, got.PaymentStatus)
	assert.NotNil(t, got.SchedulingConfirmedAt)
	// Two effectful facts on top of create: version is exactly 3 in
	// either interleaving.
	assert.Equal(t, int64(3), got.Version)
}

func TestRetryBudgetExhaustion(t *testing.T) {
	store := booking.NewInMemoryStore()
	conflicting := &alwaysConflictStore{InMemoryStore: store}
	engine := NewEngine(conflicting, events.NewInMemoryAppliedLedger(), events.NewMemoryOutbox(), logging.Default(), nil).
		WithRetry(3, time.Millisecond)

	b, err := booking.New(booking.CreateParams{
		BuilderID:     uuid.New(),
		SessionTypeID: uuid.New(),
		StartTime:     t0,
		EndTime:       t0.Add(time.Hour),
	})
	require.NoError(t, err)
	_, err = store.Create(context.Background(), b)
	require.NoError(t, err)

	_, err = engine.Apply(context.Background(), schedulingEvent(b.ID, KindMeetingCanceled, "cal_1", t0))
	assert.ErrorIs(t, err, ErrRetryExhausted)
}

type alwaysConflictStore struct {
	*booking.InMemoryStore
}

func (s *alwaysConflictStore) CompareAndUpdate(ctx context.Context, id uuid.UUID, expectedVersion int64, mutate func(*booking.Booking) error) (*booking.Booking, error) {
	return nil, booking.ErrVersionConflict
}
