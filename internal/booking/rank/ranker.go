package rank

import (
	"sort"

	"github.com/google/uuid"

	"github.com/example/scanbook/internal/booking/domain"
)

// RankedSlot pairs a slot with its center and the derived distance key so
// callers can render "2.1 km away" without recomputing.
type RankedSlot struct {
	Slot       domain.Slot   `json:"slot"`
	Center     domain.Center `json:"center"`
	DistanceKM float64       `json:"distance_km"`
}

// Rank orders candidate slots for display: soonest start first, then nearest
// to the user, then highest-rated center, then cheapest. Each key only breaks
// ties left by the previous one and equal slots keep their input order.
//
// userLoc may be nil (geolocation denied or unresolved); distance then
// contributes zero for every slot and ordering falls through to rating and
// price. Slots referencing a center missing from centers are dropped —
// callers are expected to pass a referentially consistent pair, this is the
// documented behaviour when they do not.
//
// The input slices are never modified.
func Rank(slots []domain.Slot, centers []domain.Center, userLoc *domain.GeoPoint) []RankedSlot {
	byID := make(map[uuid.UUID]domain.Center, len(centers))
	for _, c := range centers {
		byID[c.ID] = c
	}

	ranked := make([]RankedSlot, 0, len(slots))
	for _, s := range slots {
		center, ok := byID[s.CenterID]
		if !ok {
			continue
		}
		var dist float64
		if userLoc != nil {
			dist = DistanceKM(*userLoc, center.Location)
		}
		ranked = append(ranked, RankedSlot{Slot: s, Center: center, DistanceKM: dist})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if !a.Slot.StartTime.Equal(b.Slot.StartTime) {
			return a.Slot.StartTime.Before(b.Slot.StartTime)
		}
		if a.DistanceKM != b.DistanceKM {
			return a.DistanceKM < b.DistanceKM
		}
		if a.Center.Rating != b.Center.Rating {
			return a.Center.Rating > b.Center.Rating
		}
		return a.Slot.PriceCents < b.Slot.PriceCents
	})

	return ranked
}
