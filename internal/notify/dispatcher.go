package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/builderlane/bookingsync/internal/events"
	"github.com/builderlane/bookingsync/internal/observability/metrics"
	"github.com/builderlane/bookingsync/pkg/logging"
)

// DeliveryLedger records which transition notifications have already been
// sent. Delivery is at-least-once, so handlers consult the ledger to stay
// idempotent across redeliveries.
type DeliveryLedger interface {
	// MarkDelivered returns true the first time a key is recorded.
	MarkDelivered(ctx context.Context, key string) (bool, error)
}

// RedisDeliveryLedger tracks sent notifications in Redis with a TTL.
type RedisDeliveryLedger struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeliveryLedger creates a Redis-backed delivery ledger.
func NewRedisDeliveryLedger(client *redis.Client, ttl time.Duration) *RedisDeliveryLedger {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &RedisDeliveryLedger{client: client, ttl: ttl}
}

// MarkDelivered uses SETNX so concurrent workers agree on a single winner.
// When Redis is unavailable it reports first-time so the notification is
// sent anyway; a duplicate email beats a dropped one.
func (l *RedisDeliveryLedger) MarkDelivered(ctx context.Context, key string) (bool, error) {
	if l == nil || l.client == nil {
		return true, nil
	}
	ok, err := l.client.SetNX(ctx, "notified:"+key, 1, l.ttl).Result()
	if err != nil {
		return true, err
	}
	return ok, nil
}

// MemoryDeliveryLedger is an in-process ledger for tests and single-node use.
type MemoryDeliveryLedger struct {
	seen map[string]struct{}
}

// NewMemoryDeliveryLedger creates an empty in-memory delivery ledger.
func NewMemoryDeliveryLedger() *MemoryDeliveryLedger {
	return &MemoryDeliveryLedger{seen: make(map[string]struct{})}
}

// MarkDelivered records the key and reports whether it was new.
func (l *MemoryDeliveryLedger) MarkDelivered(_ context.Context, key string) (bool, error) {
	if _, ok := l.seen[key]; ok {
		return false, nil
	}
	l.seen[key] = struct{}{}
	return true, nil
}

// Dispatcher turns outbox entries into client emails. It implements
// events.DeliveryHandler and is driven by the outbox deliverer.
type Dispatcher struct {
	sender  EmailSender
	ledger  DeliveryLedger
	metrics *metrics.ReconciliationMetrics
	logger  *logging.Logger
	baseURL string
}

// NewDispatcher creates a notification dispatcher.
func NewDispatcher(sender EmailSender, ledger DeliveryLedger, m *metrics.ReconciliationMetrics, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	if ledger == nil {
		ledger = NewMemoryDeliveryLedger()
	}
	return &Dispatcher{sender: sender, ledger: ledger, metrics: m, logger: logger}
}

// WithBaseURL adds a public site URL so emails can link to the booking page.
func (d *Dispatcher) WithBaseURL(baseURL string) *Dispatcher {
	d.baseURL = strings.TrimRight(baseURL, "/")
	return d
}

// Handle sends the notification for a single transition entry. Returning an
// error leaves the entry pending so the deliverer retries it later.
func (d *Dispatcher) Handle(ctx context.Context, entry events.OutboxEntry) error {
	var payload events.BookingTransitionV1
	if err := json.Unmarshal(entry.Payload, &payload); err != nil {
		// Malformed payloads never become deliverable; ack and move on.
		d.logger.Error("dropping undecodable outbox entry", "entry_id", entry.ID, "error", err)
		d.metrics.ObserveOutboxDelivery(entry.Type, "dropped")
		return nil
	}

	if payload.ClientEmail == "" {
		d.metrics.ObserveOutboxDelivery(entry.Type, "skipped")
		return nil
	}

	key := fmt.Sprintf("%s:%s:%d", payload.BookingID, payload.Transition, payload.Version)
	first, err := d.ledger.MarkDelivered(ctx, key)
	if err != nil {
		d.logger.Warn("delivery ledger unavailable", "error", err, "key", key)
	}
	if !first {
		d.metrics.ObserveOutboxDelivery(entry.Type, "duplicate")
		return nil
	}

	msg, ok := composeTransitionEmail(payload, d.baseURL)
	if !ok {
		d.metrics.ObserveOutboxDelivery(entry.Type, "skipped")
		return nil
	}

	if d.sender == nil {
		d.logger.Debug("no email sender configured, skipping notification", "booking_id", payload.BookingID)
		d.metrics.ObserveOutboxDelivery(entry.Type, "skipped")
		return nil
	}

	if err := d.sender.Send(ctx, msg); err != nil {
		d.metrics.ObserveOutboxDelivery(entry.Type, "error")
		return fmt.Errorf("notify: send %s for booking %s: %w", payload.Transition, payload.BookingID, err)
	}

	d.logger.Info("transition notification sent",
		"booking_id", payload.BookingID,
		"transition", payload.Transition,
		"to", payload.ClientEmail)
	d.metrics.ObserveOutboxDelivery(entry.Type, "delivered")
	return nil
}

func composeTransitionEmail(p events.BookingTransitionV1, baseURL string) (EmailMessage, bool) {
	name := p.ClientName
	if name == "" {
		name = "there"
	}

	when := p.StartTime.Format("Monday, January 2 at 3:04 PM")
	if loc, err := time.LoadLocation(p.Timezone); err == nil && p.Timezone != "" {
		when = p.StartTime.In(loc).Format("Monday, January 2 at 3:04 PM MST")
	}

	msg := EmailMessage{To: p.ClientEmail, ToName: p.ClientName}

	switch p.Transition {
	case events.TransitionBookingConfirmed:
		msg.Subject = fmt.Sprintf("Your session is confirmed: %s", p.Title)
		body := fmt.Sprintf("Hi %s,\n\nYour session %q is confirmed for %s.", name, p.Title, when)
		if p.AmountCents != nil && *p.AmountCents > 0 {
			body += fmt.Sprintf("\n\nPayment received: %s.", formatAmount(*p.AmountCents, p.Currency))
		}
		msg.Body = body + "\n\nSee you there!\n— BuilderLane"
	case events.TransitionBookingCanceled:
		msg.Subject = fmt.Sprintf("Your session was canceled: %s", p.Title)
		msg.Body = fmt.Sprintf("Hi %s,\n\nYour session %q scheduled for %s has been canceled.\n\nYou can rebook anytime.\n— BuilderLane", name, p.Title, when)
	case events.TransitionBookingNoShow:
		msg.Subject = fmt.Sprintf("We missed you: %s", p.Title)
		msg.Body = fmt.Sprintf("Hi %s,\n\nYour session %q on %s was marked as a no-show.\n\nReply to this email if that doesn't look right.\n— BuilderLane", name, p.Title, when)
	case events.TransitionPaymentRefunded:
		msg.Subject = fmt.Sprintf("Your refund is on its way: %s", p.Title)
		body := fmt.Sprintf("Hi %s,\n\nYour payment for %q has been refunded.", name, p.Title)
		if p.AmountCents != nil && *p.AmountCents > 0 {
			body += fmt.Sprintf(" Amount: %s.", formatAmount(*p.AmountCents, p.Currency))
		}
		msg.Body = body + "\n\nRefunds usually land within 5-10 business days.\n— BuilderLane"
	default:
		return EmailMessage{}, false
	}
	if baseURL != "" {
		msg.Body += fmt.Sprintf("\n\nManage this booking: %s/bookings/%s", baseURL, p.BookingID)
	}
	return msg, true
}

func formatAmount(cents int64, currency string) string {
	if currency == "" || currency == "usd" || currency == "USD" {
		return fmt.Sprintf("$%.2f", float64(cents)/100)
	}
	return fmt.Sprintf("%.2f %s", float64(cents)/100, currency)
}

var _ events.DeliveryHandler = (*Dispatcher)(nil)
