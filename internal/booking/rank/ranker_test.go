package rank_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/example/scanbook/internal/booking/domain"
	"github.com/example/scanbook/internal/booking/rank"
)

var base = time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

func center(rating float64, loc domain.GeoPoint) domain.Center {
	return domain.Center{ID: uuid.New(), City: "mumbai", Location: loc, Rating: rating}
}

func slot(centerID uuid.UUID, start time.Time, price int64) domain.Slot {
	return domain.Slot{
		ID:         uuid.New(),
		CenterID:   centerID,
		Service:    "mri-brain",
		City:       "mumbai",
		StartTime:  start,
		PriceCents: price,
		Status:     domain.SlotOpen,
	}
}

func TestRankSoonestThenNearest(t *testing.T) {
	user := domain.GeoPoint{Lat: 19.0760, Lng: 72.8777}
	// Roughly 5km, 2km and 1km north of the user.
	far := center(4.5, domain.GeoPoint{Lat: 19.1210, Lng: 72.8777})
	mid := center(4.0, domain.GeoPoint{Lat: 19.0940, Lng: 72.8777})
	near := center(5.0, domain.GeoPoint{Lat: 19.0850, Lng: 72.8777})

	a := slot(far.ID, base.Add(time.Hour), 80000)
	b := slot(mid.ID, base.Add(time.Hour), 80000)
	c := slot(near.ID, base.Add(30*time.Minute), 50000)

	ranked := rank.Rank(
		[]domain.Slot{a, b, c},
		[]domain.Center{far, mid, near},
		&user,
	)

	require.Len(t, ranked, 3)
	require.Equal(t, c.ID, ranked[0].Slot.ID, "soonest slot first")
	require.Equal(t, b.ID, ranked[1].Slot.ID, "closer center breaks the start-time tie")
	require.Equal(t, a.ID, ranked[2].Slot.ID)
}

func TestRankWithoutUserLocationFallsThroughToRatingAndPrice(t *testing.T) {
	c1 := center(4.0, domain.GeoPoint{Lat: 19.2, Lng: 72.9})
	c2 := center(4.0, domain.GeoPoint{Lat: 18.9, Lng: 72.8})

	a := slot(c1.ID, base, 90000)
	b := slot(c2.ID, base, 70000)

	ranked := rank.Rank([]domain.Slot{a, b}, []domain.Center{c1, c2}, nil)

	require.Len(t, ranked, 2)
	require.Equal(t, b.ID, ranked[0].Slot.ID, "cheaper slot wins when time/distance/rating tie")
	require.Equal(t, a.ID, ranked[1].Slot.ID)
	require.Zero(t, ranked[0].DistanceKM)
}

func TestRankRatingBreaksDistanceTie(t *testing.T) {
	loc := domain.GeoPoint{Lat: 19.1, Lng: 72.9}
	lower := center(3.5, loc)
	higher := center(4.8, loc)

	a := slot(lower.ID, base, 60000)
	b := slot(higher.ID, base, 60000)

	user := domain.GeoPoint{Lat: 19.0, Lng: 72.9}
	ranked := rank.Rank([]domain.Slot{a, b}, []domain.Center{lower, higher}, &user)

	require.Equal(t, b.ID, ranked[0].Slot.ID, "higher rated center first")
}

func TestRankStableForFullyTiedSlots(t *testing.T) {
	c := center(4.2, domain.GeoPoint{Lat: 19.1, Lng: 72.9})
	a := slot(c.ID, base, 60000)
	b := slot(c.ID, base, 60000)
	d := slot(c.ID, base, 60000)

	ranked := rank.Rank([]domain.Slot{a, b, d}, []domain.Center{c}, nil)

	require.Equal(t, []uuid.UUID{a.ID, b.ID, d.ID},
		[]uuid.UUID{ranked[0].Slot.ID, ranked[1].Slot.ID, ranked[2].Slot.ID},
		"original relative order preserved for equal keys")
}

func TestRankDeterministic(t *testing.T) {
	user := domain.GeoPoint{Lat: 19.0760, Lng: 72.8777}
	c1 := center(4.1, domain.GeoPoint{Lat: 19.10, Lng: 72.88})
	c2 := center(4.6, domain.GeoPoint{Lat: 19.05, Lng: 72.86})
	slots := []domain.Slot{
		slot(c1.ID, base.Add(2*time.Hour), 75000),
		slot(c2.ID, base, 55000),
		slot(c1.ID, base, 65000),
	}
	centers := []domain.Center{c1, c2}

	first := rank.Rank(slots, centers, &user)
	second := rank.Rank(slots, centers, &user)
	require.Equal(t, first, second)
}

func TestRankDropsSlotsWithUnknownCenter(t *testing.T) {
	c := center(4.0, domain.GeoPoint{Lat: 19.1, Lng: 72.9})
	known := slot(c.ID, base, 60000)
	orphan := slot(uuid.New(), base, 40000)

	ranked := rank.Rank([]domain.Slot{orphan, known}, []domain.Center{c}, nil)

	require.Len(t, ranked, 1)
	require.Equal(t, known.ID, ranked[0].Slot.ID)
}

func TestRankDoesNotModifyInput(t *testing.T) {
	c := center(4.0, domain.GeoPoint{Lat: 19.1, Lng: 72.9})
	slots := []domain.Slot{
		slot(c.ID, base.Add(time.Hour), 60000),
		slot(c.ID, base, 50000),
	}
	snapshot := append([]domain.Slot(nil), slots...)

	rank.Rank(slots, []domain.Center{c}, nil)
	require.Equal(t, snapshot, slots)
}

func TestDistanceKMKnownPair(t *testing.T) {
	// Mumbai CST to Pune railway station, roughly 119 km apart.
	a := domain.GeoPoint{Lat: 18.9398, Lng: 72.8355}
	b := domain.GeoPoint{Lat: 18.5286, Lng: 73.8745}
	d := rank.DistanceKM(a, b)
	require.InDelta(t, 119, d, 3)
}

func TestDistanceKMZeroForSamePoint(t *testing.T) {
	p := domain.GeoPoint{Lat: 19.0760, Lng: 72.8777}
	require.Zero(t, rank.DistanceKM(p, p))
}
