package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/builderlane/bookingsync/internal/observability/metrics"
	"github.com/builderlane/bookingsync/internal/recon"
	"github.com/builderlane/bookingsync/pkg/logging"
)

// maxWebhookBody caps inbound webhook payloads at 1 MiB.
const maxWebhookBody = 1 << 20

// Signature header names used by each provider.
const (
	calendlySignatureHeader = "Calendly-Webhook-Signature"
	stripeSignatureHeader   = "Stripe-Signature"
)

// WebhookHandler receives provider webhooks, verifies them and feeds the
// reconciliation engine.
type WebhookHandler struct {
	verifier    *recon.Verifier
	engine      *recon.Engine
	graceWindow time.Duration
	metrics     *metrics.ReconciliationMetrics
	logger      *logging.Logger
	now         func() time.Time
}

// NewWebhookHandler creates a webhook handler. graceWindow controls how long
// an event for an unknown booking is answered with 409 so the provider
// redelivers it; after the window such events are acknowledged and dropped.
func NewWebhookHandler(verifier *recon.Verifier, engine *recon.Engine, graceWindow time.Duration, m *metrics.ReconciliationMetrics, logger *logging.Logger) *WebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	if graceWindow <= 0 {
		graceWindow = 2 * time.Minute
	}
	return &WebhookHandler{
		verifier:    verifier,
		engine:      engine,
		graceWindow: graceWindow,
		metrics:     m,
		logger:      logger,
		now:         time.Now,
	}
}

// HandleCalendly handles POST /webhooks/calendly.
func (h *WebhookHandler) HandleCalendly(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, recon.ProviderCalendly, calendlySignatureHeader)
}

// HandleStripe handles POST /webhooks/stripe.
func (h *WebhookHandler) HandleStripe(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, recon.ProviderStripe, stripeSignatureHeader)
}

func (h *WebhookHandler) handle(w http.ResponseWriter, r *http.Request, provider, sigHeader string) {
	start := h.now()
	status := http.StatusOK
	defer func() {
		h.metrics.ObserveWebhook(provider, strconv.Itoa(status))
		h.metrics.ObserveWebhookLatency(provider, time.Since(start).Seconds())
	}()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		status = http.StatusBadRequest
		writeError(w, status, "invalid request body")
		return
	}

	if !h.verifier.Verify(provider, body, r.Header.Get(sigHeader)) {
		status = http.StatusUnauthorized
		writeError(w, status, "invalid signature")
		return
	}

	evt, err := recon.Normalize(provider, body)
	if err != nil {
		var nerr *recon.NormalizationError
		if errors.As(err, &nerr) {
			h.logger.Warn("webhook payload rejected", "provider", provider, "reason", nerr.Reason)
			status = http.StatusBadRequest
			writeError(w, status, nerr.Reason)
			return
		}
		status = http.StatusBadRequest
		writeError(w, status, "invalid payload")
		return
	}

	res, err := h.engine.Apply(r.Context(), evt)
	if err != nil {
		if errors.Is(err, recon.ErrRetryExhausted) {
			// Contended booking; let the provider redeliver.
			status = http.StatusServiceUnavailable
			writeError(w, status, "temporarily unable to apply event")
			return
		}
		h.logger.Error("failed to apply webhook event",
			"provider", provider,
			"event_id", evt.ProviderEventID,
			"error", err)
		status = http.StatusInternalServerError
		writeError(w, status, "failed to apply event")
		return
	}

	if res.Outcome == recon.OutcomeUnknownBooking {
		if h.now().Sub(evt.OccurredAt) <= h.graceWindow {
			// The booking row may still be in flight; a 409 makes the
			// provider try again after we have caught up.
			status = http.StatusConflict
			writeJSON(w, status, map[string]string{"status": "unknown_booking", "retry": "true"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "unknown_booking"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": string(res.Outcome)})
}
