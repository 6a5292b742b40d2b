package events

import (
	"time"

	"github.com/google/uuid"
)

// Transition kinds recorded in the outbox. One entry is written per
// state transition that carries a side effect.
const (
	TransitionBookingConfirmed = "booking.confirmed.v1"
	TransitionBookingCanceled  = "booking.canceled.v1"
	TransitionBookingNoShow    = "booking.no_show.v1"
	TransitionPaymentRefunded  = "booking.refunded.v1"
)

// BookingTransitionV1 is the outbox payload describing a booking state
// transition. The BookingID+Transition pair doubles as the idempotency key
// for side-effect handlers, since outbox delivery is at-least-once.
type BookingTransitionV1 struct {
	BookingID     uuid.UUID  `json:"booking_id"`
	Transition    string     `json:"transition"`
	Status        string     `json:"status"`
	PaymentStatus string     `json:"payment_status"`
	Title         string     `json:"title"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       time.Time  `json:"end_time"`
	Timezone      string     `json:"timezone"`
	AmountCents   *int64     `json:"amount_cents,omitempty"`
	Currency      string     `json:"currency,omitempty"`
	ClientEmail   string     `json:"client_email,omitempty"`
	ClientName    string     `json:"client_name,omitempty"`
	Version       int64      `json:"version"`
	OccurredAt    *time.Time `json:"occurred_at,omitempty"`
}
