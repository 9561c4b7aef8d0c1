// README: Shared value objects used across modules (ids, coordinates, roles, driver identity).
package types

import "strings"

type ID string

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point lies within WGS84 bounds.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleDriver   Role = "driver"
	RoleCustomer Role = "customer"
)

// ParseRole maps a role claim onto a Role. Unknown or empty claims are customers.
func ParseRole(v string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(v))) {
	case RoleAdmin:
		return RoleAdmin
	case RoleDriver:
		return RoleDriver
	default:
		return RoleCustomer
	}
}

// Principal is a verified caller identity.
type Principal struct {
	ID   ID
	Role Role
}

// Driver is the identity snapshot attached to an order once claimed.
type Driver struct {
	ID      ID     `json:"id"`
	Name    string `json:"name"`
	Phone   string `json:"phone,omitempty"`
	Vehicle string `json:"vehicle,omitempty"`
}
