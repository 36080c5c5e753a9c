package repository

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/scanbook/internal/booking/domain"
)

// ErrSlotNotFound indicates a missing slot.
var ErrSlotNotFound = errors.New("slot not found")

// MemoryCatalog keeps the slot and center inventory in memory. It backs the
// catalog query API and doubles as the booking service's SlotCatalog.
// Partner feeds upsert into it at runtime.
type MemoryCatalog struct {
	mu      sync.RWMutex
	slots   map[uuid.UUID]domain.Slot
	centers map[uuid.UUID]domain.Center
}

// NewMemoryCatalog constructs an empty catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		slots:   make(map[uuid.UUID]domain.Slot),
		centers: make(map[uuid.UUID]domain.Center),
	}
}

// UpsertCenter stores or replaces a center.
func (m *MemoryCatalog) UpsertCenter(_ context.Context, center domain.Center) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.centers[center.ID] = center
}

// UpsertSlot stores or replaces a slot.
func (m *MemoryCatalog) UpsertSlot(_ context.Context, slot domain.Slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[slot.ID] = slot
}

// SlotByID retrieves a slot.
func (m *MemoryCatalog) SlotByID(_ context.Context, id uuid.UUID) (domain.Slot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	slot, ok := m.slots[id]
	if !ok {
		return domain.Slot{}, ErrSlotNotFound
	}
	return slot, nil
}

// SetSlotStatus updates a slot's availability status.
func (m *MemoryCatalog) SetSlotStatus(_ context.Context, id uuid.UUID, status domain.SlotStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.slots[id]
	if !ok {
		return ErrSlotNotFound
	}
	slot.Status = status
	m.slots[id] = slot
	return nil
}

// Query returns OPEN slots for a city and service, optionally restricted to
// a calendar day, together with the centers they reference. An empty result
// is a valid no-availability answer.
func (m *MemoryCatalog) Query(_ context.Context, city, service string, date *time.Time) ([]domain.Slot, []domain.Center, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var slots []domain.Slot
	wanted := make(map[uuid.UUID]struct{})
	for _, slot := range m.slots {
		if slot.Status != domain.SlotOpen {
			continue
		}
		if !strings.EqualFold(slot.City, city) || !strings.EqualFold(slot.Service, service) {
			continue
		}
		if date != nil {
			y, mo, d := date.UTC().Date()
			sy, smo, sd := slot.StartTime.UTC().Date()
			if y != sy || mo != smo || d != sd {
				continue
			}
		}
		slots = append(slots, slot)
		wanted[slot.CenterID] = struct{}{}
	}

	centers := make([]domain.Center, 0, len(wanted))
	for id := range wanted {
		if center, ok := m.centers[id]; ok {
			centers = append(centers, center)
		}
	}
	return slots, centers, nil
}

// Centers returns every known center.
func (m *MemoryCatalog) Centers(_ context.Context) []domain.Center {
	m.mu.RLock()
	defer m.mu.RUnlock()
	centers := make([]domain.Center, 0, len(m.centers))
	for _, center := range m.centers {
		centers = append(centers, center)
	}
	return centers
}
