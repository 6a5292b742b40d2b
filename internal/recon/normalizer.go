package recon

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Provider ids accepted by the normalizer and verifier.
const (
	ProviderCalendly = "calendly"
	ProviderStripe   = "stripe"
)

// NormalizationError reports an inbound payload that can never be applied:
// missing correlation id, missing event id, or an unknown provider. These are
// non-retryable; the provider should not keep resending them.
type NormalizationError struct {
	Provider string
	Reason   string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("recon: normalize %s event: %s", e.Provider, e.Reason)
}

// Normalize maps a provider's webhook payload into an Event. Well-formed
// payloads with unrecognized event types come back as KindIgnored rather than
// an error so they can be acknowledged and deduped.
func Normalize(provider string, payload []byte) (Event, error) {
	switch provider {
	case ProviderCalendly:
		return normalizeCalendly(payload)
	case ProviderStripe:
		return normalizeStripe(payload)
	default:
		return Event{}, &NormalizationError{Provider: provider, Reason: "unknown provider"}
	}
}

// calendlyEnvelope is the scheduling provider's webhook shape. The booking id
// travels in the invitee's UTM tracking slot, set when the scheduling link was
// generated at booking creation.
type calendlyEnvelope struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	CreatedAt time.Time `json:"created_at"`
	Payload   struct {
		Event struct {
			URI       string    `json:"uri"`
			StartTime time.Time `json:"start_time"`
			EndTime   time.Time `json:"end_time"`
		} `json:"event"`
		Invitee struct {
			URI      string `json:"uri"`
			Email    string `json:"email"`
			Name     string `json:"name"`
			Timezone string `json:"timezone"`
			Tracking struct {
				UTMContent string `json:"utm_content"`
				UTMSource  string `json:"utm_source"`
			} `json:"tracking"`
		} `json:"invitee"`
	} `json:"payload"`
}

func normalizeCalendly(payload []byte) (Event, error) {
	var env calendlyEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Event{}, &NormalizationError{Provider: ProviderCalendly, Reason: "malformed json"}
	}
	if env.ID == "" {
		return Event{}, &NormalizationError{Provider: ProviderCalendly, Reason: "missing event id"}
	}

	var kind Kind
	switch env.Event {
	case "invitee.created":
		kind = KindMeetingConfirmed
	case "invitee.canceled":
		kind = KindMeetingCanceled
	case "invitee_no_show.created":
		kind = KindMeetingNoShow
	default:
		kind = KindIgnored
	}

	evt := Event{
		Source:             SourceScheduling,
		Kind:               kind,
		Provider:           ProviderCalendly,
		ProviderEventID:    env.ID,
		OccurredAt:         env.CreatedAt,
		SchedulingEventURI: env.Payload.Event.URI,
		InviteeURI:         env.Payload.Invitee.URI,
	}
	if uri := env.Payload.Event.URI; uri != "" {
		evt.SchedulingEventID = lastPathSegment(uri)
	}

	if kind == KindIgnored {
		// Pass-through: no correlation id required, the engine just
		// records the event id to stop redelivery loops.
		return evt, nil
	}

	bookingID, err := uuid.Parse(env.Payload.Invitee.Tracking.UTMContent)
	if err != nil {
		return Event{}, &NormalizationError{Provider: ProviderCalendly, Reason: "missing or unparseable booking id in tracking metadata"}
	}
	evt.BookingID = bookingID
	return evt, nil
}

// stripeEnvelope is the payment provider's webhook shape. The booking id is
// the checkout session's client reference id, with a metadata fallback for
// object types that do not carry one.
type stripeEnvelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object struct {
			ID                string            `json:"id"`
			ClientReferenceID string            `json:"client_reference_id"`
			PaymentIntent     string            `json:"payment_intent"`
			AmountTotal       int64             `json:"amount_total"`
			AmountRefunded    int64             `json:"amount_refunded"`
			Currency          string            `json:"currency"`
			Metadata          map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

func normalizeStripe(payload []byte) (Event, error) {
	var env stripeEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Event{}, &NormalizationError{Provider: ProviderStripe, Reason: "malformed json"}
	}
	if env.ID == "" {
		return Event{}, &NormalizationError{Provider: ProviderStripe, Reason: "missing event id"}
	}

	var kind Kind
	switch env.Type {
	case "checkout.session.completed":
		kind = KindPaymentSucceeded
	case "checkout.session.async_payment_failed", "payment_intent.payment_failed":
		kind = KindPaymentFailed
	case "charge.refunded":
		kind = KindPaymentRefunded
	default:
		kind = KindIgnored
	}

	evt := Event{
		Source:            SourcePayment,
		Kind:              kind,
		Provider:          ProviderStripe,
		ProviderEventID:   env.ID,
		OccurredAt:        time.Unix(env.Created, 0).UTC(),
		CheckoutSessionID: env.Data.Object.ID,
		PaymentIntentID:   env.Data.Object.PaymentIntent,
		Currency:          env.Data.Object.Currency,
	}
	if env.Data.Object.AmountTotal > 0 {
		amount := env.Data.Object.AmountTotal
		evt.AmountCents = &amount
	}

	if kind == KindIgnored {
		return evt, nil
	}

	ref := env.Data.Object.ClientReferenceID
	if ref == "" {
		ref = env.Data.Object.Metadata["booking_id"]
	}
	bookingID, err := uuid.Parse(ref)
	if err != nil {
		return Event{}, &NormalizationError{Provider: ProviderStripe, Reason: "missing or unparseable client reference id"}
	}
	evt.BookingID = bookingID
	return evt, nil
}

func lastPathSegment(uri string) string {
	for i := len(uri) - 1; i >= 0; i-- {
		if uri[i] == '/' {
			return uri[i+1:]
		}
	}
	return uri
}
