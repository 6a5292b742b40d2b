package recon

import (
	"time"

	"github.com/builderlane/bookingsync/internal/booking"
	"github.com/builderlane/bookingsync/internal/events"
)

// facetChange describes what applying one event to a booking did.
type facetChange struct {
	changed    bool
	rejected   string
	transition string
}

// applyFacts mutates b according to the transition table. Facet values only
// move to a strictly higher rank; terminal values absorb everything that
// arrives after them, which is what makes application order-independent.
func applyFacts(b *booking.Booking, evt Event) facetChange {
	switch evt.Kind {
	case KindMeetingConfirmed:
		return applyMeetingConfirmed(b, evt)
	case KindMeetingCanceled:
		return applySchedulingTerminal(b, evt, booking.StatusCanceled, events.TransitionBookingCanceled)
	case KindMeetingNoShow:
		return applySchedulingTerminal(b, evt, booking.StatusNoShow, events.TransitionBookingNoShow)
	case KindPaymentSucceeded:
		return applyPaymentSucceeded(b, evt)
	case KindPaymentFailed:
		return applyPaymentFailed(b, evt)
	case KindPaymentRefunded:
		return applyPaymentRefunded(b, evt)
	default:
		return facetChange{}
	}
}

func applyMeetingConfirmed(b *booking.Booking, evt Event) facetChange {
	if b.Status.Terminal() {
		return facetChange{}
	}

	var change facetChange
	if b.SchedulingConfirmedAt == nil {
		occurred := evt.OccurredAt
		b.SchedulingConfirmedAt = &occurred
		setSchedulingRefs(b, evt)
		advanceFactTime(&b.SchedulingFactAt, evt)
		change.changed = true
	}

	// A priced booking stays pending until its payment lands; the
	// confirmation fact above is recorded either way.
	if booking.StatusConfirmed.Rank() > b.Status.Rank() && confirmable(b) {
		b.Status = booking.StatusConfirmed
		change.changed = true
		change.transition = events.TransitionBookingConfirmed
	}
	return change
}

func applySchedulingTerminal(b *booking.Booking, evt Event, next booking.Status, transition string) facetChange {
	if next.Rank() <= b.Status.Rank() {
		return facetChange{}
	}
	b.Status = next
	setSchedulingRefs(b, evt)
	advanceFactTime(&b.SchedulingFactAt, evt)
	return facetChange{changed: true, transition: transition}
}

func applyPaymentSucceeded(b *booking.Booking, evt Event) facetChange {
	if booking.PaymentPaid.Rank() <= b.PaymentStatus.Rank() {
		return facetChange{}
	}
	b.PaymentStatus = booking.PaymentPaid
	if evt.AmountCents != nil {
		amount := *evt.AmountCents
		b.AmountCents = &amount
	}
	if evt.Currency != "" {
		b.Currency = evt.Currency
	}
	setPaymentRefs(b, evt)
	advanceFactTime(&b.PaymentFactAt, evt)

	change := facetChange{changed: true}
	// Payment was the blocking facet: confirm now if scheduling already did.
	if b.Status == booking.StatusPending && b.SchedulingConfirmedAt != nil {
		b.Status = booking.StatusConfirmed
		change.transition = events.TransitionBookingConfirmed
	}
	return change
}

func applyPaymentFailed(b *booking.Booking, evt Event) facetChange {
	if b.Status == booking.StatusConfirmed && !b.Priced() {
		// A free session cannot fail payment after confirmation; this is
		// provider data we refuse to apply.
		return facetChange{rejected: "payment failure reported for confirmed free session"}
	}
	if booking.PaymentFailed.Rank() <= b.PaymentStatus.Rank() {
		return facetChange{}
	}
	b.PaymentStatus = booking.PaymentFailed
	setPaymentRefs(b, evt)
	advanceFactTime(&b.PaymentFactAt, evt)
	return facetChange{changed: true}
}

func applyPaymentRefunded(b *booking.Booking, evt Event) facetChange {
	if booking.PaymentRefunded.Rank() <= b.PaymentStatus.Rank() {
		return facetChange{}
	}
	b.PaymentStatus = booking.PaymentRefunded
	setPaymentRefs(b, evt)
	advanceFactTime(&b.PaymentFactAt, evt)
	return facetChange{changed: true, transition: events.TransitionPaymentRefunded}
}

// confirmable holds the core invariant: a session requiring payment cannot be
// confirmed unpaid.
func confirmable(b *booking.Booking) bool {
	return !b.Priced() || b.PaymentStatus == booking.PaymentPaid
}

func setSchedulingRefs(b *booking.Booking, evt Event) {
	if evt.SchedulingEventID != "" && b.SchedulingEventID == nil {
		id := evt.SchedulingEventID
		b.SchedulingEventID = &id
	}
	if evt.SchedulingEventURI != "" && b.SchedulingEventURI == nil {
		uri := evt.SchedulingEventURI
		b.SchedulingEventURI = &uri
	}
	if evt.InviteeURI != "" && b.InviteeURI == nil {
		uri := evt.InviteeURI
		b.InviteeURI = &uri
	}
}

func setPaymentRefs(b *booking.Booking, evt Event) {
	if evt.CheckoutSessionID != "" && b.CheckoutSessionID == nil {
		id := evt.CheckoutSessionID
		b.CheckoutSessionID = &id
	}
	if evt.PaymentIntentID != "" && b.PaymentIntentID == nil {
		id := evt.PaymentIntentID
		b.PaymentIntentID = &id
	}
}

// advanceFactTime records the newest fact timestamp seen for a facet; older
// timestamps never move it backwards.
func advanceFactTime(slot **time.Time, evt Event) {
	if evt.OccurredAt.IsZero() {
		return
	}
	if *slot == nil || evt.OccurredAt.After(**slot) {
		occurred := evt.OccurredAt
		*slot = &occurred
	}
}
