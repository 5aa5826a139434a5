package auth

import (
	"fmt"

	"github.com/fieldware/be-mnt-workorders/internal/errors"
)

// Role is the closed set of caller roles, ordered by privilege.
type Role int

const (
	RoleUser Role = iota
	RoleAdmin
	RoleSuperadmin
)

// ParseRole converts the stored role name into a Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "user":
		return RoleUser, nil
	case "admin":
		return RoleAdmin, nil
	case "superadmin":
		return RoleSuperadmin, nil
	default:
		return RoleUser, fmt.Errorf("unknown role %q", s)
	}
}

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleAdmin:
		return "admin"
	case RoleSuperadmin:
		return "superadmin"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// AtLeast reports whether r satisfies the given minimum role.
func (r Role) AtLeast(min Role) bool { return r >= min }

// Identity is the resolved caller: who they are and what they may do.
type Identity struct {
	ID   string
	Name string
	Role Role
}

// Require returns Forbidden when the identity's role is below min.
func Require(id Identity, min Role) error {
	if !id.Role.AtLeast(min) {
		return errors.Newf(errors.ErrCodeForbidden,
			"requires role %s or higher, caller is %s", min, id.Role)
	}
	return nil
}
