package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/example/scanbook/internal/booking/domain"
	"github.com/example/scanbook/internal/catalog/repository"
	catalogsvc "github.com/example/scanbook/internal/catalog/service"
)

type recordingIndex struct {
	added  map[uuid.UUID]domain.GeoPoint
	nearby []uuid.UUID
	err    error
}

func (r *recordingIndex) Add(_ context.Context, id uuid.UUID, loc domain.GeoPoint) error {
	if r.added == nil {
		r.added = make(map[uuid.UUID]domain.GeoPoint)
	}
	r.added[id] = loc
	return nil
}

func (r *recordingIndex) Nearby(context.Context, domain.GeoPoint, float64, int) ([]uuid.UUID, error) {
	return r.nearby, r.err
}

func seedCenter(t *testing.T, cat *repository.MemoryCatalog, city string, loc domain.GeoPoint) domain.Center {
	t.Helper()
	center := domain.Center{ID: uuid.New(), Name: city + " Diagnostics", City: city, Location: loc}
	cat.UpsertCenter(context.Background(), center)
	return center
}

func TestFetchSlotsFiltersInventory(t *testing.T) {
	ctx := context.Background()
	cat := repository.NewMemoryCatalog()
	svc := catalogsvc.New(cat, nil)

	center := seedCenter(t, cat, "Mumbai", domain.GeoPoint{Lat: 19.076, Lng: 72.8777})
	day := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	open := domain.Slot{ID: uuid.New(), CenterID: center.ID, Service: "MRI", City: "Mumbai",
		StartTime: day.Add(10 * time.Hour), Status: domain.SlotOpen}
	cat.UpsertSlot(ctx, open)
	cat.UpsertSlot(ctx, domain.Slot{ID: uuid.New(), CenterID: center.ID, Service: "MRI", City: "Mumbai",
		StartTime: day.Add(12 * time.Hour), Status: domain.SlotHeld})
	cat.UpsertSlot(ctx, domain.Slot{ID: uuid.New(), CenterID: center.ID, Service: "CT", City: "Mumbai",
		StartTime: day.Add(9 * time.Hour), Status: domain.SlotOpen})
	cat.UpsertSlot(ctx, domain.Slot{ID: uuid.New(), CenterID: center.ID, Service: "MRI", City: "Mumbai",
		StartTime: day.AddDate(0, 0, 1).Add(10 * time.Hour), Status: domain.SlotOpen})

	result, err := svc.FetchSlots(ctx, "mumbai", "MRI", &day)
	require.NoError(t, err)
	require.Len(t, result.Slots, 1)
	require.Equal(t, open.ID, result.Slots[0].ID)
	require.Len(t, result.Centers, 1)
	require.Equal(t, center.ID, result.Centers[0].ID)
}

func TestFetchSlotsEmptyIsValid(t *testing.T) {
	svc := catalogsvc.New(repository.NewMemoryCatalog(), nil)

	result, err := svc.FetchSlots(context.Background(), "Nagpur", "PET", nil)
	require.NoError(t, err)
	require.NotNil(t, result.Slots)
	require.Empty(t, result.Slots)
	require.NotNil(t, result.Centers)
}

func TestNearbyCentersScanFallback(t *testing.T) {
	ctx := context.Background()
	cat := repository.NewMemoryCatalog()
	svc := catalogsvc.New(cat, nil)

	andheri := seedCenter(t, cat, "Mumbai", domain.GeoPoint{Lat: 19.1197, Lng: 72.8464})
	dadar := seedCenter(t, cat, "Mumbai", domain.GeoPoint{Lat: 19.0178, Lng: 72.8478})
	seedCenter(t, cat, "Pune", domain.GeoPoint{Lat: 18.5204, Lng: 73.8567})

	// Near Bandra: both Mumbai centers in range, Pune well outside 25km.
	centers, err := svc.NearbyCenters(ctx, domain.GeoPoint{Lat: 19.0596, Lng: 72.8295}, 0, 0)
	require.NoError(t, err)
	require.Len(t, centers, 2)
	require.Equal(t, dadar.ID, centers[0].ID)
	require.Equal(t, andheri.ID, centers[1].ID)
}

func TestNearbyCentersIndexErrorFallsBack(t *testing.T) {
	ctx := context.Background()
	cat := repository.NewMemoryCatalog()
	center := seedCenter(t, cat, "Mumbai", domain.GeoPoint{Lat: 19.076, Lng: 72.8777})
	svc := catalogsvc.New(cat, &recordingIndex{err: errors.New("index down")})

	centers, err := svc.NearbyCenters(ctx, domain.GeoPoint{Lat: 19.07, Lng: 72.87}, 10, 5)
	require.NoError(t, err)
	require.Len(t, centers, 1)
	require.Equal(t, center.ID, centers[0].ID)
}

func TestRegisterCenterUpdatesIndex(t *testing.T) {
	ctx := context.Background()
	cat := repository.NewMemoryCatalog()
	index := &recordingIndex{}
	svc := catalogsvc.New(cat, index)

	center := domain.Center{ID: uuid.New(), Name: "Orbit Scans", City: "Pune",
		Location: domain.GeoPoint{Lat: 18.5204, Lng: 73.8567}}
	require.NoError(t, svc.RegisterCenter(ctx, center))

	require.Equal(t, center.Location, index.added[center.ID])
	require.Len(t, cat.Centers(ctx), 1)
}
