// ABOUTME: Principal sum type and container roles
// ABOUTME: Superuser bypass is a distinct variant, never a name comparison

package model

// Principal is the authenticated caller identity. A nil Principal means an
// anonymous caller. The superuser bypass is its own variant so that every
// authorization path handles it explicitly.
type Principal interface {
	principal()
}

// Superuser is the distinguished principal that bypasses all role checks.
type Superuser struct{}

func (Superuser) principal() {}

// NamedUser is a regular principal identified by name.
type NamedUser struct {
	Name string
}

func (NamedUser) principal() {}

// Role is a per-container access level.
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleEditor Role = "EDITOR"
	RoleGuest  Role = "GUEST"
)

// ValidRole reports whether r is one of the three container roles.
func ValidRole(r Role) bool {
	return r == RoleAdmin || r == RoleEditor || r == RoleGuest
}

// RoleAssignment maps one user to one role inside one container.
type RoleAssignment struct {
	Container string `json:"container"`
	User      string `json:"user"`
	Role      Role   `json:"role"`
}
