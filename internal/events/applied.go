package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AppliedLedger records provider event ids that were already applied to a
// booking, guaranteeing at-most-once application under redelivery.
type AppliedLedger interface {
	HasApplied(ctx context.Context, provider, eventID string) (bool, error)
	RecordApplied(ctx context.Context, provider, eventID string) (bool, error)
}

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AppliedStore is the durable ledger backed by a unique-constraint insert.
type AppliedStore struct {
	pool rowQuerier
}

func NewAppliedStore(pool *pgxpool.Pool) *AppliedStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &AppliedStore{pool: pool}
}

// NewAppliedStoreWithQuerier allows injecting mocks for tests.
func NewAppliedStoreWithQuerier(q rowQuerier) *AppliedStore {
	if q == nil {
		panic("events: querier required")
	}
	return &AppliedStore{pool: q}
}

// HasApplied checks if we've seen this provider event id.
func (s *AppliedStore) HasApplied(ctx context.Context, provider, eventID string) (bool, error) {
	query := `SELECT 1 FROM applied_events WHERE provider = $1 AND event_id = $2`
	var exists int
	if err := s.pool.QueryRow(ctx, query, provider, eventID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("events: check applied: %w", err)
	}
	return true, nil
}

// RecordApplied inserts an event id for the provider, returning false if it
// already exists.
func (s *AppliedStore) RecordApplied(ctx context.Context, provider, eventID string) (bool, error) {
	query := `
		INSERT INTO applied_events (provider, event_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	ct, err := s.pool.Exec(ctx, query, provider, eventID)
	if err != nil {
		return false, fmt.Errorf("events: record applied: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// InMemoryAppliedLedger is a map-backed ledger for tests and local runs.
type InMemoryAppliedLedger struct {
	mu      sync.Mutex
	applied map[string]struct{}
}

func NewInMemoryAppliedLedger() *InMemoryAppliedLedger {
	return &InMemoryAppliedLedger{applied: make(map[string]struct{})}
}

func (l *InMemoryAppliedLedger) HasApplied(ctx context.Context, provider, eventID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.applied[provider+":"+eventID]
	return ok, nil
}

func (l *InMemoryAppliedLedger) RecordApplied(ctx context.Context, provider, eventID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := provider + ":" + eventID
	if _, ok := l.applied[key]; ok {
		return false, nil
	}
	l.applied[key] = struct{}{}
	return true, nil
}
