package booking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

func nowUTC() time.Time { return time.Now().UTC() }

// Store defines the interface for booking persistence. CompareAndUpdate is
// the only mutation path after creation; it is what keeps event application
// race-free under concurrent webhook delivery for the same booking.
type Store interface {
	Create(ctx context.Context, b *Booking) (*Booking, error)
	Get(ctx context.Context, id uuid.UUID) (*Booking, error)
	CompareAndUpdate(ctx context.Context, id uuid.UUID, expectedVersion int64, mutate func(*Booking) error) (*Booking, error)
}

// InMemoryStore is a Store backed by a process-local map. Used in tests and
// local development.
type InMemoryStore struct {
	mu       sync.RWMutex
	bookings map[uuid.UUID]*Booking
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{bookings: make(map[uuid.UUID]*Booking)}
}

// Create inserts a new booking.
func (s *InMemoryStore) Create(ctx context.Context, b *Booking) (*Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bookings[b.ID]; ok {
		return nil, ErrAlreadyExists
	}
	s.bookings[b.ID] = b.Clone()
	return b.Clone(), nil
}

// Get retrieves a booking by ID.
func (s *InMemoryStore) Get(ctx context.Context, id uuid.UUID) (*Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return b.Clone(), nil
}

// CompareAndUpdate applies mutate to the current record only if its version
// matches expectedVersion, then persists with version+1 atomically.
func (s *InMemoryStore) CompareAndUpdate(ctx context.Context, id uuid.UUID, expectedVersion int64, mutate func(*Booking) error) (*Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	if current.Version != expectedVersion {
		return nil, ErrVersionConflict
	}

	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.Version = expectedVersion + 1
	next.UpdatedAt = nowUTC()
	s.bookings[id] = next
	return next.Clone(), nil
}
