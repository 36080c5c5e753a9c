package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/scanbook/internal/booking/domain"
)

// ErrNotFound indicates a missing booking.
var ErrNotFound = errors.New("booking not found")

// MemoryRepository is an in-memory booking store suitable for tests and
// local demos.
type MemoryRepository struct {
	mu       sync.RWMutex
	bookings map[uuid.UUID]domain.Booking
	events   []domain.BookingEvent
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{bookings: make(map[uuid.UUID]domain.Booking)}
}

// CreateBooking stores the booking draft and returns it.
func (m *MemoryRepository) CreateBooking(_ context.Context, booking domain.Booking) (domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[booking.ID] = booking
	return booking, nil
}

// GetBookingByID retrieves a booking.
func (m *MemoryRepository) GetBookingByID(_ context.Context, id uuid.UUID) (domain.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	booking, ok := m.bookings[id]
	if !ok {
		return domain.Booking{}, ErrNotFound
	}
	return booking, nil
}

// UpdateBooking replaces the stored booking, bumping the optimistic version.
func (m *MemoryRepository) UpdateBooking(_ context.Context, booking domain.Booking) (domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.bookings[booking.ID]
	if !ok {
		return domain.Booking{}, ErrNotFound
	}
	booking.Version = existing.Version + 1
	m.bookings[booking.ID] = booking
	return booking, nil
}

// ListPendingBefore returns bookings still pending whose hold deadline is at
// or before the given instant. The expiry sweeper uses this to revert
// abandoned holds.
func (m *MemoryRepository) ListPendingBefore(_ context.Context, deadline time.Time) ([]domain.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stale []domain.Booking
	for _, booking := range m.bookings {
		if booking.Status == domain.BookingPending && !booking.HoldExpiresAt.After(deadline) {
			stale = append(stale, booking)
		}
	}
	return stale, nil
}

// CreateBookingEvent appends an event to the in-memory trail.
func (m *MemoryRepository) CreateBookingEvent(_ context.Context, event domain.BookingEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Events returns stored events (for tests).
func (m *MemoryRepository) Events() []domain.BookingEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.BookingEvent(nil), m.events...)
}
