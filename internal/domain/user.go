package domain

import "time"

// Role is the role a connected identity acts in.
type Role string

const (
	RoleRider  Role = "rider"
	RoleDriver Role = "driver"
	RoleAdmin  Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleRider, RoleDriver, RoleAdmin:
		return true
	}
	return false
}

// User represents a rider in the system.
type User struct {
	ID        string
	Name      string
	Phone     string
	Role      Role
	CreatedAt time.Time
}
