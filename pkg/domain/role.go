package domain

import dErrors "hemobank/pkg/domain-errors"

// Role is the caller tier supplied by the external identity collaborator.
// The core treats it as an opaque authorization gate: staff-only transitions
// (overrides, retries, force deletes) check it and nothing else.
type Role string

const (
	RoleDonor Role = "donor"
	RoleStaff Role = "staff"
	RoleAdmin Role = "admin"
)

var validRoles = map[Role]bool{
	RoleDonor: true,
	RoleStaff: true,
	RoleAdmin: true,
}

// ParseRole constructs a Role from a token claim.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !validRoles[r] {
		return "", dErrors.Newf(dErrors.CodeUnauthorized, "unknown role %q", s)
	}
	return r, nil
}

func (r Role) String() string { return string(r) }

// AtLeastStaff reports whether the role may invoke staff-gated transitions.
func (r Role) AtLeastStaff() bool {
	return r == RoleStaff || r == RoleAdmin
}
