// Package geo contains pure geographic computation helpers. Distances are
// great-circle over a spherical earth, used as a road-distance proxy.
package geo

import (
	"math"
	"time"

	"corider/internal/types"
)

const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance in kilometres between two
// points specified in decimal degrees.
func DistanceKm(a, b types.Point) float64 {
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusKm * c
}

// ETAMinutes converts a distance to travel minutes at a fixed average speed.
func ETAMinutes(distanceKm, speedKmh float64) float64 {
	if speedKmh <= 0 {
		return 0
	}
	return distanceKm / speedKmh * 60
}

// ETA is ETAMinutes as a duration, for callers that schedule with it.
func ETA(distanceKm, speedKmh float64) time.Duration {
	return time.Duration(ETAMinutes(distanceKm, speedKmh) * float64(time.Minute))
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
