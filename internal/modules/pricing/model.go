// Package pricing computes fares: solo base prices, carpool shares and the
// driver/platform earnings split.
package pricing

import "corider/internal/types"

// Rate is the tariff for one ride class.
type Rate struct {
	Class       string
	BaseFare    int64
	PerKm       int64
	PerMinute   int64
	MinimumFare int64
	Capacity    int
	Currency    string
}

// PassengerDistance is one co-rider's own distance contribution.
type PassengerDistance struct {
	ID         types.ID
	DistanceKm float64
}

// Share is a co-rider's allocated part of the aggregate fare.
type Share struct {
	PassengerID types.ID
	DistanceKm  float64
	Amount      types.Money
}

// defaultRates backs any class missing from pricing_rates.
var defaultRates = map[string]Rate{
	"standard": {Class: "standard", BaseFare: 500, PerKm: 150, PerMinute: 0, MinimumFare: 500, Capacity: 4, Currency: "XOF"},
	"comfort":  {Class: "comfort", BaseFare: 800, PerKm: 200, PerMinute: 0, MinimumFare: 800, Capacity: 4, Currency: "XOF"},
	"van":      {Class: "van", BaseFare: 1200, PerKm: 250, PerMinute: 0, MinimumFare: 1200, Capacity: 7, Currency: "XOF"},
}
