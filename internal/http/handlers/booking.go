package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/builderlane/bookingsync/internal/booking"
	"github.com/builderlane/bookingsync/internal/events"
	"github.com/builderlane/bookingsync/internal/http/middleware"
	"github.com/builderlane/bookingsync/pkg/logging"
)

// casAttempts bounds the optimistic-lock retry loop for cancels.
const casAttempts = 3

// BookingHandler handles the booking management API.
type BookingHandler struct {
	store  booking.Store
	outbox events.OutboxWriter
	logger *logging.Logger
}

// NewBookingHandler creates a new booking handler.
func NewBookingHandler(store booking.Store, outbox events.OutboxWriter, logger *logging.Logger) *BookingHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &BookingHandler{store: store, outbox: outbox, logger: logger}
}

// CreateBookingRequest is the payload for creating a booking record.
type CreateBookingRequest struct {
	BuilderID     uuid.UUID  `json:"builder_id"`
	SessionTypeID uuid.UUID  `json:"session_type_id"`
	ClientID      *uuid.UUID `json:"client_id,omitempty"`
	ClientEmail   string     `json:"client_email"`
	ClientName    string     `json:"client_name"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       time.Time  `json:"end_time"`
	Timezone      string     `json:"timezone"`
	AmountCents   *int64     `json:"amount_cents,omitempty"`
	Currency      string     `json:"currency,omitempty"`
}

// BookingResponse mirrors a booking row for API consumers.
type BookingResponse struct {
	ID            uuid.UUID  `json:"id"`
	BuilderID     uuid.UUID  `json:"builder_id"`
	SessionTypeID uuid.UUID  `json:"session_type_id"`
	ClientEmail   string     `json:"client_email,omitempty"`
	ClientName    string     `json:"client_name,omitempty"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       time.Time  `json:"end_time"`
	Timezone      string     `json:"timezone,omitempty"`
	AmountCents   *int64     `json:"amount_cents,omitempty"`
	Currency      string     `json:"currency,omitempty"`
	Status        string     `json:"status"`
	PaymentStatus string     `json:"payment_status"`
	ConfirmedAt   *time.Time `json:"confirmed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	Version       int64      `json:"version"`
}

// CreateBookingResponse wraps the new booking with the correlation values the
// frontend must thread through the external providers: the booking id goes in
// Calendly's utm_content and Stripe's client_reference_id so inbound webhooks
// can be matched back.
type CreateBookingResponse struct {
	Booking     BookingResponse   `json:"booking"`
	Correlation map[string]string `json:"correlation"`
}

// Create handles POST /api/bookings.
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	params := booking.CreateParams{
		BuilderID:     req.BuilderID,
		SessionTypeID: req.SessionTypeID,
		ClientID:      req.ClientID,
		ClientEmail:   req.ClientEmail,
		ClientName:    req.ClientName,
		Title:         req.Title,
		Description:   req.Description,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		Timezone:      req.Timezone,
		AmountCents:   req.AmountCents,
		Currency:      req.Currency,
	}

	b, err := booking.New(params)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.store.Create(r.Context(), b)
	if err != nil {
		if errors.Is(err, booking.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "booking already exists")
			return
		}
		h.logger.Error("failed to create booking", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create booking")
		return
	}

	h.logger.Info("booking created", "booking_id", created.ID, "builder_id", created.BuilderID)
	writeJSON(w, http.StatusCreated, CreateBookingResponse{
		Booking: toBookingResponse(created),
		Correlation: map[string]string{
			"calendly_utm_content":       created.ID.String(),
			"stripe_client_reference_id": created.ID.String(),
		},
	})
}

// Get handles GET /api/bookings/{id}.
func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}

	b, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, booking.ErrNotFound) {
			writeError(w, http.StatusNotFound, "booking not found")
			return
		}
		h.logger.Error("failed to load booking", "error", err, "booking_id", id)
		writeError(w, http.StatusInternalServerError, "failed to load booking")
		return
	}

	writeJSON(w, http.StatusOK, toBookingResponse(b))
}

// Cancel handles POST /api/bookings/{id}/cancel. Cancels issued here go
// through the same versioned store as webhook-driven ones, so a concurrent
// provider event cannot be lost.
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		current, err := h.store.Get(r.Context(), id)
		if err != nil {
			if errors.Is(err, booking.ErrNotFound) {
				writeError(w, http.StatusNotFound, "booking not found")
				return
			}
			h.logger.Error("failed to load booking", "error", err, "booking_id", id)
			writeError(w, http.StatusInternalServerError, "failed to load booking")
			return
		}

		if current.Status == booking.StatusCanceled {
			writeJSON(w, http.StatusOK, toBookingResponse(current))
			return
		}
		if current.Status.Terminal() {
			writeError(w, http.StatusConflict, "booking is already in a terminal state")
			return
		}

		updated, err := h.store.CompareAndUpdate(r.Context(), id, current.Version, func(b *booking.Booking) error {
			b.Status = booking.StatusCanceled
			return nil
		})
		if errors.Is(err, booking.ErrVersionConflict) {
			continue
		}
		if err != nil {
			h.logger.Error("failed to cancel booking", "error", err, "booking_id", id)
			writeError(w, http.StatusInternalServerError, "failed to cancel booking")
			return
		}

		h.enqueueCancelNotice(r, updated)
		h.logger.Info("booking canceled",
			"booking_id", id,
			"version", updated.Version,
			"canceled_by", middleware.AdminSubject(r.Context()))
		writeJSON(w, http.StatusOK, toBookingResponse(updated))
		return
	}

	writeError(w, http.StatusConflict, "booking is being updated, retry")
}

func (h *BookingHandler) enqueueCancelNotice(r *http.Request, b *booking.Booking) {
	if h.outbox == nil {
		return
	}
	now := time.Now().UTC()
	payload := events.BookingTransitionV1{
		BookingID:     b.ID,
		Transition:    events.TransitionBookingCanceled,
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
		OccurredAt:    &now,
	}
	if _, err := h.outbox.Insert(r.Context(), b.ID, events.TransitionBookingCanceled, b.Version, payload); err != nil {
		// The state change is already durable; the notice is best effort.
		h.logger.Error("failed to enqueue cancel notification", "error", err, "booking_id", b.ID)
	}
}

func toBookingResponse(b *booking.Booking) BookingResponse {
	return BookingResponse{
		ID:            b.ID,
		BuilderID:     b.BuilderID,
		SessionTypeID: b.SessionTypeID,
		ClientEmail:   b.ClientEmail,
		ClientName:    b.ClientName,
		Title:         b.Title,
		Description:   b.Description,
		StartTime:     b.StartTime,
		EndTime:       b.EndTime,
		Timezone:      b.Timezone,
		AmountCents:   b.AmountCents,
		Currency:      b.Currency,
		Status:        string(b.Status),
		PaymentStatus: string(b.PaymentStatus),
		ConfirmedAt:   b.SchedulingConfirmedAt,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
		Version:       b.Version,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
