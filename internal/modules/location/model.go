// README: Live tracking record for an order that is out for delivery.
package location

import (
	"errors"
	"time"

	"lastmile/internal/types"
)

// SeedETAMinutes is reported until the first position arrives.
const SeedETAMinutes = 30

var (
	ErrUnknownOrder    = errors.New("order is not being tracked")
	ErrNotTracking     = errors.New("tracking not available yet")
	ErrInvalidPosition = errors.New("position out of range")
)

type DriverRef struct {
	ID   types.ID `json:"id"`
	Name string   `json:"name"`
}

type Record struct {
	OrderID         types.ID    `json:"orderId"`
	Driver          DriverRef   `json:"driver"`
	CurrentLocation types.Point `json:"currentLocation"`
	HasFix          bool        `json:"hasFix"`
	SpeedKmh        float64     `json:"speed"`
	HeadingDegrees  float64     `json:"heading"`
	Destination     types.Point `json:"destination"`
	ETAMinutes      int         `json:"eta"`
	StartedAt       time.Time   `json:"startedAt"`
	LastUpdated     time.Time   `json:"lastUpdated"`
}

// Report is one position sample sent by a driver.
type Report struct {
	OrderID        types.ID
	Position       types.Point
	SpeedKmh       float64
	HeadingDegrees float64
}

// NearbyDriver is a driver position returned from the geo index.
type NearbyDriver struct {
	DriverID   types.ID    `json:"driverId"`
	Position   types.Point `json:"position"`
	DistanceKm float64     `json:"distanceKm"`
}
