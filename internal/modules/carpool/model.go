// Package carpool owns shareable reservations, the join-request lifecycle
// and the proportional fare split among confirmed co-riders.
package carpool

import (
	"time"

	"corider/internal/types"
)

type ReservationStatus string

const (
	ReservationScheduled ReservationStatus = "SCHEDULED"
	ReservationCanceled  ReservationStatus = "CANCELED"
	ReservationCompleted ReservationStatus = "COMPLETED"
)

type Reservation struct {
	ID                      types.ID
	RiderID                 types.ID
	Status                  ReservationStatus
	Pickup                  types.Point
	Dropoff                 types.Point
	PickupAddress           string
	DropoffAddress          string
	ScheduledAt             time.Time
	Class                   string
	TotalDistanceKm         float64
	TotalDurationMin        float64
	TotalPrice              types.Money
	Shareable               bool
	MaxSharedPassengers     int
	CurrentSharedPassengers int
	MaxDetourMinutes        float64
	SharedPricePerPerson    types.Money
	CreatedAt               time.Time
}

// RemainingSeats never goes below zero; the schema enforces the same.
func (r *Reservation) RemainingSeats() int {
	return r.MaxSharedPassengers - r.CurrentSharedPassengers
}

type JoinStatus string

const (
	JoinPending  JoinStatus = "PENDING"
	JoinAccepted JoinStatus = "ACCEPTED"
	JoinRejected JoinStatus = "REJECTED"
	JoinExpired  JoinStatus = "EXPIRED"
)

// JoinRequest is a candidate co-rider's unconfirmed request to join a
// reservation. It auto-expires.
type JoinRequest struct {
	ID                types.ID
	ReservationID     types.ID
	RequesterID       types.ID
	Pickup            types.Point
	Dropoff           types.Point
	Score             float64
	AdditionalKm      float64
	AdditionalMinutes float64
	Status            JoinStatus
	ExpiresAt         time.Time
	CreatedAt         time.Time
}

func (j *JoinRequest) Expired(now time.Time) bool {
	return now.After(j.ExpiresAt)
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
)

// SharedPassenger is a confirmed co-rider with an allocated, mutable fare
// share. Inactive rows are kept for audit but excluded from every split.
type SharedPassenger struct {
	ID            types.ID
	ReservationID types.ID
	PassengerID   types.ID
	Pickup        types.Point
	Dropoff       types.Point
	PickupOrder   int
	DropoffOrder  int
	FareShare     types.Money
	PaymentStatus PaymentStatus
	Active        bool
	CreatedAt     time.Time
}
