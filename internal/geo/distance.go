// Package geo holds the spherical geometry used by tracking and dispatch.
package geo

import (
	"math"

	"ridetrack/internal/domain"
)

// EarthRadiusMeters is the mean Earth radius used by every distance computation.
const EarthRadiusMeters = 6371000.0

// DistanceMeters returns the haversine great-circle distance between a and b.
func DistanceMeters(a, b domain.Point) float64 {
	if a == b {
		return 0
	}

	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := lat2 - lat1
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// DistanceKm is DistanceMeters in kilometers.
func DistanceKm(a, b domain.Point) float64 {
	return DistanceMeters(a, b) / 1000
}

// BearingDegrees returns the initial bearing from a to b, clockwise from north in [0, 360).
func BearingDegrees(a, b domain.Point) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLng := toRadians(b.Lng - a.Lng)

	y := math.Sin(dLng) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLng)
	deg := toDegrees(math.Atan2(y, x))
	return math.Mod(deg+360, 360)
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

func toDegrees(rad float64) float64 {
	return rad * 180 / math.Pi
}
