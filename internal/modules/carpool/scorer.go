package carpool

import (
	"corider/internal/apperr"
	"corider/internal/geo"
	"corider/internal/types"
)

// Compatibility is the detour cost of taking a candidate along, for UI
// display and the join decision.
type Compatibility struct {
	DetourKm          float64
	AdditionalMinutes float64
	Score             float64
	Compatible        bool
}

// ScoreDetour measures the extra distance and time a candidate adds to a
// reservation's direct route, assuming the driver goes pickup →
// candidate pickup → candidate drop → destination. All legs great-circle.
func ScoreDetour(resPickup, resDropoff, candPickup, candDrop types.Point, speedKmh, maxDetourMinutes float64) (Compatibility, error) {
	directKm := geo.DistanceKm(resPickup, resDropoff)
	if directKm <= 0 {
		return Compatibility{}, apperr.Computationf("reservation route has zero length")
	}
	candidateKm := geo.DistanceKm(candPickup, candDrop)
	if candidateKm <= 0 {
		return Compatibility{}, apperr.Computationf("candidate route has zero length")
	}
	if speedKmh <= 0 {
		return Compatibility{}, apperr.Computationf("average speed must be positive")
	}

	detourKm := geo.DistanceKm(resPickup, candPickup) +
		candidateKm +
		geo.DistanceKm(candDrop, resDropoff) -
		directKm
	if detourKm < 0 {
		// Floating point only; the triangle inequality forbids a real negative.
		detourKm = 0
	}
	additionalMin := geo.ETAMinutes(detourKm, speedKmh)

	return Compatibility{
		DetourKm:          detourKm,
		AdditionalMinutes: additionalMin,
		Score:             scoreBand(additionalMin),
		Compatible:        additionalMin <= maxDetourMinutes,
	}, nil
}

// scoreBand is a non-increasing step function of the added minutes.
func scoreBand(additionalMin float64) float64 {
	switch {
	case additionalMin <= 10:
		return 1.0
	case additionalMin <= 15:
		return 0.8
	case additionalMin <= 20:
		return 0.6
	default:
		return 0.3
	}
}
