package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/example/scanbook/internal/booking/domain"
)

// CenterIndex answers "which centers are near this coordinate", closest
// first, respecting the limit.
type CenterIndex interface {
	Add(ctx context.Context, centerID uuid.UUID, loc domain.GeoPoint) error
	Nearby(ctx context.Context, point domain.GeoPoint, radiusKM float64, limit int) ([]uuid.UUID, error)
}

var errInvalidGeoResult = errors.New("invalid geo search result")

// RedisCenterIndex implements CenterIndex on Redis GEO commands.
type RedisCenterIndex struct {
	client redis.Cmdable
	key    string
}

// NewRedisCenterIndex constructs a Redis-backed center index.
func NewRedisCenterIndex(client redis.Cmdable, key string) *RedisCenterIndex {
	if key == "" {
		key = "center:locs"
	}
	return &RedisCenterIndex{client: client, key: key}
}

// Add registers or moves a center in the index.
func (r *RedisCenterIndex) Add(ctx context.Context, centerID uuid.UUID, loc domain.GeoPoint) error {
	err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Name:      centerID.String(),
		Longitude: loc.Lng,
		Latitude:  loc.Lat,
	}).Err()
	if err != nil {
		return fmt.Errorf("redis geoadd: %w", err)
	}
	return nil
}

// Nearby returns up to limit center ids sorted by distance to the point.
func (r *RedisCenterIndex) Nearby(ctx context.Context, point domain.GeoPoint, radiusKM float64, limit int) ([]uuid.UUID, error) {
	query := &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  point.Lng,
			Latitude:   point.Lat,
			Radius:     radiusKM,
			RadiusUnit: "km",
			Sort:       "ASC",
			Count:      limit,
		},
		WithDist: true,
	}

	results, err := r.client.GeoSearchLocation(ctx, r.key, query).Result()
	if err != nil {
		return nil, fmt.Errorf("redis geosearch: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(results))
	for _, res := range results {
		id, err := uuid.Parse(res.Name)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", errInvalidGeoResult, res.Name)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
