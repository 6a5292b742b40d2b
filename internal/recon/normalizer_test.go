package recon

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func calendlyPayload(eventType, eventID string, bookingID string) []byte {
	return fmt.Appendf(nil, `{
		"id": %q,
		"event": %q,
		"created_at": "2026-03-10T15:04:05Z",
		"payload": {
			"event": {
				"uri": "https://api.calendly.com/scheduled_events/AAAA1111",
				"start_time": "2026-03-12T10:00:00Z",
				"end_time": "2026-03-12T11:00:00Z"
			},
			"invitee": {
				"uri": "https://api.calendly.com/scheduled_events/AAAA1111/invitees/BBBB2222",
				"email": "client@example.com",
				"name": "Jane Doe",
				"timezone": "America/Chicago",
				"tracking": {"utm_content": %q, "utm_source": "builderlane"}
			}
		}
	}`, eventID, eventType, bookingID)
}

func stripePayload(eventType, eventID, clientRef string, amount int64) []byte {
	return fmt.Appendf(nil, `{
		"id": %q,
		"type": %q,
		"created": 1770000000,
		"data": {"object": {
			"id": "cs_test_123",
			"client_reference_id": %q,
			"payment_intent": "pi_123",
			"amount_total": %d,
			"currency": "usd",
			"metadata": {}
		}}
	}`, eventID, eventType, clientRef, amount)
}

func TestNormalizeCalendlyConfirmed(t *testing.T) {
	bookingID := uuid.New()
	evt, err := Normalize(ProviderCalendly, calendlyPayload("invitee.created", "cal_evt_1", bookingID.String()))
	require.NoError(t, err)

	assert.Equal(t, SourceScheduling, evt.Source)
	assert.Equal(t, KindMeetingConfirmed, evt.Kind)
	assert.Equal(t, bookingID, evt.BookingID)
	assert.Equal(t, "cal_evt_1", evt.ProviderEventID)
	assert.Equal(t, "AAAA1111", evt.SchedulingEventID)
	assert.Equal(t, "https://api.calendly.com/scheduled_events/AAAA1111/invitees/BBBB2222", evt.InviteeURI)
	assert.Equal(t, time.Date(2026, 3, 10, 15, 4, 5, 0, time.UTC), evt.OccurredAt)
}

func TestNormalizeCalendlyKinds(t *testing.T) {
	bookingID := uuid.NewString()
	tests := []struct {
		eventType string
		want      Kind
	}{
		{"invitee.created", KindMeetingConfirmed},
		{"invitee.canceled", KindMeetingCanceled},
		{"invitee_no_show.created", KindMeetingNoShow},
		{"routing_form_submission.created", KindIgnored},
	}
	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			evt, err := Normalize(ProviderCalendly, calendlyPayload(tt.eventType, "cal_evt", bookingID))
			require.NoError(t, err)
			assert.Equal(t, tt.want, evt.Kind)
		})
	}
}

func TestNormalizeCalendlyMissingCorrelation(t *testing.T) {
	_, err := Normalize(ProviderCalendly, calendlyPayload("invitee.created", "cal_evt_2", "not-a-uuid"))
	var nerr *NormalizationError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, ProviderCalendly, nerr.Provider)

	// Ignored kinds pass through without a correlation id.
	evt, err := Normalize(ProviderCalendly, calendlyPayload("routing_form_submission.created", "cal_evt_3", ""))
	require.NoError(t, err)
	assert.Equal(t, KindIgnored, evt.Kind)
	assert.Equal(t, uuid.Nil, evt.BookingID)
}

func TestNormalizeStripeSucceeded(t *testing.T) {
	bookingID := uuid.New()
	evt, err := Normalize(ProviderStripe, stripePayload("checkout.session.completed", "evt_1", bookingID.String(), 15000))
	require.NoError(t, err)

	assert.Equal(t, SourcePayment, evt.Source)
	assert.Equal(t, KindPaymentSucceeded, evt.Kind)
	assert.Equal(t, bookingID, evt.BookingID)
	assert.Equal(t, "cs_test_123", evt.CheckoutSessionID)
	assert.Equal(t, "pi_123", evt.PaymentIntentID)
	require.NotNil(t, evt.AmountCents)
	assert.Equal(t, int64(15000), *evt.AmountCents)
	assert.Equal(t, "usd", evt.Currency)
}

func TestNormalizeStripeKinds(t *testing.T) {
	bookingID := uuid.NewString()
	tests := []struct {
		eventType string
		want      Kind
	}{
		{"checkout.session.completed", KindPaymentSucceeded},
		{"checkout.session.async_payment_failed", KindPaymentFailed},
		{"payment_intent.payment_failed", KindPaymentFailed},
		{"charge.refunded", KindPaymentRefunded},
		{"customer.created", KindIgnored},
	}
	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			evt, err := Normalize(ProviderStripe, stripePayload(tt.eventType, "evt_x", bookingID, 0))
			require.NoError(t, err)
			assert.Equal(t, tt.want, evt.Kind)
		})
	}
}

func TestNormalizeStripeMetadataFallback(t *testing.T) {
	bookingID := uuid.New()
	payload := fmt.Appendf(nil, `{
		"id": "evt_refund",
		"type": "charge.refunded",
		"created": 1770000500,
		"data": {"object": {
			"id": "ch_123",
			"amount_refunded": 15000,
			"currency": "usd",
			"metadata": {"booking_id": %q}
		}}
	}`, bookingID.String())

	evt, err := Normalize(ProviderStripe, payload)
	require.NoError(t, err)
	assert.Equal(t, KindPaymentRefunded, evt.Kind)
	assert.Equal(t, bookingID, evt.BookingID)
}

func TestNormalizeErrors(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		payload  []byte
	}{
		{"unknown provider", "paypal", []byte(`{}`)},
		{"calendly malformed json", ProviderCalendly, []byte(`{`)},
		{"calendly missing event id", ProviderCalendly, []byte(`{"event":"invitee.created"}`)},
		{"stripe malformed json", ProviderStripe, []byte(`not json`)},
		{"stripe missing event id", ProviderStripe, []byte(`{"type":"checkout.session.completed"}`)},
		{"stripe missing reference", ProviderStripe, stripePayload("checkout.session.completed", "evt_2", "", 100)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.provider, tt.payload)
			var nerr *NormalizationError
			assert.ErrorAs(t, err, &nerr)
		})
	}
}
