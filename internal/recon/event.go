package recon

import (
	"time"

	"github.com/google/uuid"
)

// Source identifies which external system reported a fact.
type Source string

const (
	SourceScheduling Source = "scheduling"
	SourcePayment    Source = "payment"
)

// Kind is the internal, closed set of fact kinds the engine understands.
// Unrecognized provider event types normalize to KindIgnored so new provider
// features never crash the pipeline.
type Kind string

const (
	KindMeetingConfirmed Kind = "meeting.confirmed"
	KindMeetingCanceled  Kind = "meeting.canceled"
	KindMeetingNoShow    Kind = "meeting.no_show"
	KindPaymentSucceeded Kind = "payment.succeeded"
	KindPaymentFailed    Kind = "payment.failed"
	KindPaymentRefunded  Kind = "payment.refunded"
	KindIgnored          Kind = "ignored"
)

// Event is one normalized inbound fact. It is transient: applied once,
// recorded in the dedup ledger, and not persisted beyond that.
type Event struct {
	BookingID       uuid.UUID
	Source          Source
	Kind            Kind
	Provider        string
	ProviderEventID string
	OccurredAt      time.Time

	// Scheduling provider references.
	SchedulingEventID  string
	SchedulingEventURI string
	InviteeURI         string

	// Payment provider references.
	CheckoutSessionID string
	PaymentIntentID   string
	AmountCents       *int64
	Currency          string
}
