package service

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/example/scanbook/internal/booking/domain"
	"github.com/example/scanbook/internal/booking/rank"
	"github.com/example/scanbook/internal/catalog"
	"github.com/example/scanbook/internal/catalog/repository"
)

// Service answers slot and center queries for the browsing surface.
type Service struct {
	catalog *repository.MemoryCatalog
	index   catalog.CenterIndex
}

// New constructs the catalog service. The center index is optional; without
// it nearby lookups fall back to a haversine scan over the inventory.
func New(cat *repository.MemoryCatalog, index catalog.CenterIndex) *Service {
	return &Service{catalog: cat, index: index}
}

// RegisterCenter upserts a center and keeps the geo index in step with the
// inventory.
func (s *Service) RegisterCenter(ctx context.Context, center domain.Center) error {
	s.catalog.UpsertCenter(ctx, center)
	if s.index == nil {
		return nil
	}
	return s.index.Add(ctx, center.ID, center.Location)
}

// SlotsResult is the slot query response: candidate slots plus every center
// they reference, so callers can rank without further lookups.
type SlotsResult struct {
	Slots   []domain.Slot   `json:"slots"`
	Centers []domain.Center `json:"centers"`
}

// FetchSlots returns OPEN slots for the city/service, optionally narrowed to
// one calendar day. An empty slot list is a valid no-availability result.
func (s *Service) FetchSlots(ctx context.Context, city, service string, date *time.Time) (SlotsResult, error) {
	slots, centers, err := s.catalog.Query(ctx, city, service, date)
	if err != nil {
		return SlotsResult{}, err
	}
	if slots == nil {
		slots = []domain.Slot{}
	}
	if centers == nil {
		centers = []domain.Center{}
	}
	return SlotsResult{Slots: slots, Centers: centers}, nil
}

// NearbyCenters returns centers within radiusKM of the point, closest first.
func (s *Service) NearbyCenters(ctx context.Context, point domain.GeoPoint, radiusKM float64, limit int) ([]domain.Center, error) {
	if limit <= 0 {
		limit = 10
	}
	if radiusKM <= 0 {
		radiusKM = 25
	}

	if s.index != nil {
		ids, err := s.index.Nearby(ctx, point, radiusKM, limit)
		if err == nil {
			return s.resolve(ctx, ids), nil
		}
		// Index miss is not fatal; the scan below still answers.
	}

	type candidate struct {
		center domain.Center
		dist   float64
	}
	var candidates []candidate
	for _, center := range s.catalog.Centers(ctx) {
		d := rank.DistanceKM(point, center.Location)
		if d <= radiusKM {
			candidates = append(candidates, candidate{center: center, dist: d})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	centers := make([]domain.Center, 0, len(candidates))
	for _, c := range candidates {
		centers = append(centers, c.center)
	}
	return centers, nil
}

func (s *Service) resolve(ctx context.Context, ids []uuid.UUID) []domain.Center {
	centers := make([]domain.Center, 0, len(ids))
	known := make(map[uuid.UUID]domain.Center)
	for _, center := range s.catalog.Centers(ctx) {
		known[center.ID] = center
	}
	for _, id := range ids {
		if center, ok := known[id]; ok {
			centers = append(centers, center)
		}
	}
	return centers
}
