// Package availability is the read model over current driver positions and
// status. It is not authoritative business state: stale entries age out of
// matching via the heartbeat window.
package availability

import (
	"time"

	"corider/internal/types"
)

// Heartbeat is one driver position report. Upserts are idempotent and
// last-write-wins.
type Heartbeat struct {
	DriverID  types.ID
	Position  types.Point
	Online    bool
	Available bool
	At        time.Time
}

// Candidate is a driver eligible for dispatch, sorted by distance.
type Candidate struct {
	DriverID   types.ID
	Position   types.Point
	DistanceKm float64
}
