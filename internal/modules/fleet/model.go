// Package fleet holds the vehicle records the dispatch core locks and
// releases. Verification workflows live elsewhere; only the resulting
// verified flag and capacity matter here.
package fleet

import "corider/internal/types"

type Status string

const (
	StatusAvailable   Status = "AVAILABLE"
	StatusInUse       Status = "IN_USE"
	StatusMaintenance Status = "MAINTENANCE"
	StatusRetired     Status = "RETIRED"
)

type Vehicle struct {
	ID       types.ID
	DriverID types.ID
	Class    string
	Capacity int
	Status   Status
	Verified bool
}
