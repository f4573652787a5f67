package guard

import (
	"errors"
	"strings"
)

// Role is the application role stored on a profile record.
type Role string

const (
	// RoleNone is the role of a session whose profile could not be resolved.
	RoleNone     Role = ""
	RoleAdmin    Role = "admin"
	RoleEmployee Role = "employee"
)

// ErrUnknownRole is returned by ParseRole for values outside the enumeration.
var ErrUnknownRole = errors.New("unknown role")

// ParseRole accepts exactly "admin" or "employee" (case-insensitive, trimmed).
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(RoleAdmin):
		return RoleAdmin, nil
	case string(RoleEmployee):
		return RoleEmployee, nil
	default:
		return RoleNone, ErrUnknownRole
	}
}

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleEmployee
}

func (r Role) String() string {
	if r == RoleNone {
		return "none"
	}
	return string(r)
}
