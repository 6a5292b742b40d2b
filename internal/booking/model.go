package booking

import (
	"time"

	"github.com/google/uuid"
)

// Status is the scheduling facet of a booking's lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCanceled  Status = "canceled"
	StatusNoShow    Status = "no_show"
)

// PaymentStatus is the payment facet, evolving independently of Status.
type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// Rank orders scheduling facet values. A fact only applies when it moves the
// facet to a strictly higher rank; equal rank is an idempotent no-op.
func (s Status) Rank() int {
	switch s {
	case StatusConfirmed:
		return 1
	case StatusCanceled, StatusNoShow:
		return 2
	default:
		return 0
	}
}

// Terminal reports whether the scheduling facet can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCanceled || s == StatusNoShow
}

// Rank orders payment facet values. FAILED sits below PAID so a retried
// payment that eventually succeeds still lands, while REFUNDED absorbs
// everything that arrives after it.
func (p PaymentStatus) Rank() int {
	switch p {
	case PaymentFailed:
		return 1
	case PaymentPaid:
		return 2
	case PaymentRefunded:
		return 3
	default:
		return 0
	}
}

// Terminal reports whether the payment facet can no longer change.
func (p PaymentStatus) Terminal() bool {
	return p == PaymentRefunded
}

// Booking is the internal record unifying a scheduled session and its payment.
// Both providers correlate back to it solely through its ID, handed out at
// creation as tracking metadata (scheduling) and client reference id (payment).
type Booking struct {
	ID            uuid.UUID
	BuilderID     uuid.UUID
	SessionTypeID uuid.UUID
	ClientID      *uuid.UUID
	ClientEmail   string
	ClientName    string

	Title       string
	Description string
	StartTime   time.Time
	EndTime     time.Time
	Timezone    string

	// Scheduling facet references.
	SchedulingEventID  *string
	SchedulingEventURI *string
	InviteeURI         *string

	// Payment facet references.
	CheckoutSessionID *string
	PaymentIntentID   *string
	AmountCents       *int64
	Currency          string

	Status        Status
	PaymentStatus PaymentStatus

	// SchedulingConfirmedAt records that a scheduling confirmation fact
	// exists even while status is held at pending by an unpaid balance.
	SchedulingConfirmedAt *time.Time
	SchedulingFactAt      *time.Time
	PaymentFactAt         *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64
}

// Priced reports whether the session requires payment before confirmation.
func (b *Booking) Priced() bool {
	return b.AmountCents != nil && *b.AmountCents > 0
}

// CreateParams carries the first-party booking creation input.
type CreateParams struct {
	BuilderID     uuid.UUID
	SessionTypeID uuid.UUID
	ClientID      *uuid.UUID
	ClientEmail   string
	ClientName    string
	Title         string
	Description   string
	StartTime     time.Time
	EndTime       time.Time
	Timezone      string
	AmountCents   *int64
	Currency      string
}

// Validate checks creation input against the model invariants.
func (p *CreateParams) Validate() error {
	if p.BuilderID == uuid.Nil {
		return ErrMissingBuilder
	}
	if p.SessionTypeID == uuid.Nil {
		return ErrMissingSessionType
	}
	if p.StartTime.IsZero() || p.EndTime.IsZero() || !p.StartTime.Before(p.EndTime) {
		return ErrInvalidTimes
	}
	if p.AmountCents != nil && *p.AmountCents < 0 {
		return ErrNegativeAmount
	}
	return nil
}

// New builds a booking in its initial pending/unpaid state at version 1.
func New(p CreateParams) (*Booking, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	tz := p.Timezone
	if tz == "" {
		tz = "UTC"
	}
	return &Booking{
		ID:            uuid.New(),
		BuilderID:     p.BuilderID,
		SessionTypeID: p.SessionTypeID,
		ClientID:      p.ClientID,
		ClientEmail:   p.ClientEmail,
		ClientName:    p.ClientName,
		Title:         p.Title,
		Description:   p.Description,
		StartTime:     p.StartTime.UTC(),
		EndTime:       p.EndTime.UTC(),
		Timezone:      tz,
		AmountCents:   p.AmountCents,
		Currency:      p.Currency,
		Status:        StatusPending,
		PaymentStatus: PaymentUnpaid,
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       1,
	}, nil
}

// Clone returns a deep copy so store callers can mutate freely.
func (b *Booking) Clone() *Booking {
	cp := *b
	cp.ClientID = clonePtr(b.ClientID)
	cp.SchedulingEventID = clonePtr(b.SchedulingEventID)
	cp.SchedulingEventURI = clonePtr(b.SchedulingEventURI)
	cp.InviteeURI = clonePtr(b.InviteeURI)
	cp.CheckoutSessionID = clonePtr(b.CheckoutSessionID)
	cp.PaymentIntentID = clonePtr(b.PaymentIntentID)
	cp.AmountCents = clonePtr(b.AmountCents)
	cp.SchedulingConfirmedAt = clonePtr(b.SchedulingConfirmedAt)
	cp.SchedulingFactAt = clonePtr(b.SchedulingFactAt)
	cp.PaymentFactAt = clonePtr(b.PaymentFactAt)
	return &cp
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
