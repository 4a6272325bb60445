// Package ride owns the ride record and its lifecycle state machine.
package ride

import (
	"time"

	"corider/internal/types"
)

type Status string

const (
	StatusRequested  Status = "REQUESTED"
	StatusAccepted   Status = "ACCEPTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCanceled   Status = "CANCELED"
)

// AllowedTransitions represents the lifecycle graph as code. COMPLETED and
// CANCELED are terminal: no outgoing edges.
var AllowedTransitions = map[Status][]Status{
	StatusRequested:  {StatusAccepted, StatusCanceled},
	StatusAccepted:   {StatusInProgress, StatusCanceled},
	StatusInProgress: {StatusCompleted, StatusCanceled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

type Ride struct {
	ID             types.ID
	RiderID        types.ID
	DriverID       *types.ID
	VehicleID      *types.ID
	Status         Status
	Pickup         types.Point
	Dropoff        types.Point
	PickupAddress  string
	DropoffAddress string
	PassengerCount int
	Class          string
	EstimatedFare  types.Money
	TotalFare      types.Money
	DriverEarnings types.Money
	PlatformFee    types.Money
	CommissionRate float64
	RequestedAt    time.Time
	AcceptedAt     *time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	CanceledAt     *time.Time
	CancelActor    *string
	CancelReasonID *string
}

// Event is one audit row in ride_events, appended on every transition.
type Event struct {
	ID         int64
	RideID     types.ID
	FromStatus Status
	ToStatus   Status
	ActorType  string
	ActorID    *types.ID
	CreatedAt  time.Time
}
