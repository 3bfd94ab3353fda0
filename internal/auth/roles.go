package auth

import (
	"errors"

	"github.com/google/uuid"
)

// Role is the caller's clinic role as resolved by the authentication layer.
type Role string

const (
	RoleAdmin        Role = "admin"
	RoleDoctor       Role = "doctor"
	RoleReceptionist Role = "receptionist"
	RoleNurse        Role = "nurse"
	RolePatient      Role = "patient"
)

var ErrUnauthorized = errors.New("role is not permitted to perform this action")

// Identity is the authenticated caller.
type Identity struct {
	UserID uuid.UUID
	Role   Role
}

// CanModifyAppointments reports whether the role may create, update or cancel
// appointments. All other authenticated roles are read-only.
func CanModifyAppointments(r Role) bool {
	switch r {
	case RoleAdmin, RoleDoctor, RoleReceptionist:
		return true
	}
	return false
}

// CanRead reports whether the role may read scheduling state. Any
// authenticated role qualifies; unauthenticated callers never reach here.
func CanRead(r Role) bool {
	return r != ""
}
