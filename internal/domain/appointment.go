package domain

import (
	"fmt"
	"time"
)

// Role is the position a staff member holds in a store.
type Role string

// Role constants.
const (
	RoleFounder Role = "founder"
	RoleOwner   Role = "owner"
	RoleManager Role = "manager"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleFounder, RoleOwner, RoleManager:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// DefaultPermissions returns the grant a new appointment of this role receives.
func (r Role) DefaultPermissions() PermissionSet {
	switch r {
	case RoleFounder, RoleOwner:
		return FullPermissions
	case RoleManager:
		return ManagerDefaultPermissions
	default:
		return 0
	}
}

// CanAppoint reports whether a holder of r may appoint someone as target.
// Founders are never appointed; managers appoint nobody.
func (r Role) CanAppoint(target Role) bool {
	if r != RoleFounder && r != RoleOwner {
		return false
	}
	return target == RoleOwner || target == RoleManager
}

// IsOwner is true for founders and owners.
func (r Role) IsOwner() bool {
	return r == RoleFounder || r == RoleOwner
}

// Appointment binds a staff member to a store.
type Appointment struct {
	StoreID     string        `json:"store_id"`
	Staff       string        `json:"staff"`
	Appointer   string        `json:"appointer,omitempty"`
	Role        Role          `json:"role"`
	Permissions PermissionSet `json:"permissions"`
	AppointedAt time.Time     `json:"appointed_at"`
}

// Has reports whether the appointment grants c.
func (a *Appointment) Has(c Capability) bool {
	return a.Permissions.Has(c)
}
