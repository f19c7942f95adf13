// internal/matching/geo.go
package matching

import (
	"math"

	"cardtrade-workers/internal/models"
)

const earthRadiusKM = 6371.0

// Haversine returns the great-circle distance between two coordinate
// pairs in kilometers.
func Haversine(a, b models.Coordinates) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKM * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Distance returns the distance between two optional coordinate pairs, or
// nil when either side is unknown. Missing coordinates are an absence
// condition, never an error.
func Distance(a, b *models.Coordinates) *float64 {
	if a == nil || b == nil {
		return nil
	}
	d := Haversine(*a, *b)
	return &d
}
