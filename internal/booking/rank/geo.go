package rank

import (
	"math"

	"github.com/example/scanbook/internal/booking/domain"
)

const earthRadiusKM = 6371.0

// DistanceKM returns the great-circle distance between two coordinates in
// kilometers using the haversine formula. Inputs are assumed finite; NaN
// propagates to the caller.
func DistanceKM(a, b domain.GeoPoint) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dlat := toRadians(b.Lat - a.Lat)
	dlon := toRadians(b.Lng - a.Lng)

	sinDlat := math.Sin(dlat / 2)
	sinDlon := math.Sin(dlon / 2)
	h := sinDlat*sinDlat + math.Cos(lat1)*math.Cos(lat2)*sinDlon*sinDlon
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKM * c
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
