// Package types holds the small value objects shared across modules.
package types

import (
	"math"

	"github.com/google/uuid"
)

// ID identifies riders, drivers, vehicles, rides and reservations.
type ID string

// NewID returns a fresh random ID.
func NewID() ID {
	return ID(uuid.NewString())
}

func (id ID) String() string { return string(id) }

// Point is a WGS84 coordinate pair in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point is a finite, in-range coordinate.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) || math.IsNaN(p.Lng) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Money is a fixed-point amount in the currency's smallest unit.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func (m Money) Add(n Money) Money {
	return Money{Amount: m.Amount + n.Amount, Currency: m.Currency}
}

func (m Money) Sub(n Money) Money {
	return Money{Amount: m.Amount - n.Amount, Currency: m.Currency}
}
