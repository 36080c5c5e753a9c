package hold

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/scanbook/internal/booking/domain"
)

// Store arbitrates exclusive, time-boxed holds on slots. TryHold is a
// compare-and-swap: exactly one of any number of concurrent attempts on an
// OPEN slot wins. The TTL doubles as the server-side expiry authority, so a
// hold vanishes on schedule even when no client is left to release it.
type Store interface {
	TryHold(ctx context.Context, slotID, bookingID uuid.UUID, ttl time.Duration) (bool, error)
	Holder(ctx context.Context, slotID uuid.UUID) (uuid.UUID, bool, error)
	Release(ctx context.Context, slotID uuid.UUID) error
	ReleaseIfOwner(ctx context.Context, slotID, bookingID uuid.UUID) (bool, error)
}

type memoryEntry struct {
	bookingID uuid.UUID
	deadline  time.Time
}

// MemoryStore is an in-process Store for tests and local demos. Expiry is
// evaluated lazily against the injected clock.
type MemoryStore struct {
	mu    sync.Mutex
	clock domain.Clock
	held  map[uuid.UUID]memoryEntry
}

// NewMemoryStore constructs an empty store. A nil clock defaults to the
// system clock.
func NewMemoryStore(clock domain.Clock) *MemoryStore {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &MemoryStore{clock: clock, held: make(map[uuid.UUID]memoryEntry)}
}

// TryHold claims the slot unless a live hold already exists. A non-positive
// TTL falls back to the same default the Redis store applies.
func (m *MemoryStore) TryHold(_ context.Context, slotID, bookingID uuid.UUID, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = defaultHoldTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	if entry, ok := m.held[slotID]; ok && entry.deadline.After(now) {
		return false, nil
	}
	m.held[slotID] = memoryEntry{bookingID: bookingID, deadline: now.Add(ttl)}
	return true, nil
}

// Holder returns the booking currently holding the slot, if any.
func (m *MemoryStore) Holder(_ context.Context, slotID uuid.UUID) (uuid.UUID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.held[slotID]
	if !ok || !entry.deadline.After(m.clock.Now()) {
		return uuid.Nil, false, nil
	}
	return entry.bookingID, true, nil
}

// Release drops any hold on the slot.
func (m *MemoryStore) Release(_ context.Context, slotID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, slotID)
	return nil
}

// ReleaseIfOwner drops the hold only when bookingID still owns it, so a
// stale release cannot evict a successor's hold.
func (m *MemoryStore) ReleaseIfOwner(_ context.Context, slotID, bookingID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.held[slotID]
	if !ok || entry.bookingID != bookingID || !entry.deadline.After(m.clock.Now()) {
		return false, nil
	}
	delete(m.held, slotID)
	return true, nil
}
