package events

import (
	"context"
	"fmt"
)

// Fanout dispatches each outbox entry to every handler in order. An entry is
// only acknowledged when all handlers succeed, so a partial failure leaves it
// pending and every handler sees it again; handlers must be idempotent.
type Fanout []DeliveryHandler

// Handle runs each handler and reports how many failed.
func (f Fanout) Handle(ctx context.Context, entry OutboxEntry) error {
	var failed int
	var last error
	for _, h := range f {
		if h == nil {
			continue
		}
		if err := h.Handle(ctx, entry); err != nil {
			failed++
			last = err
		}
	}
	if failed > 0 {
		return fmt.Errorf("events: %d handler(s) failed: %w", failed, last)
	}
	return nil
}

var _ DeliveryHandler = (Fanout)(nil)
