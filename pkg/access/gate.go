// ABOUTME: Per-container authorization gate over the role store
// ABOUTME: Role checks are explicit set membership, never a rank order

package access

import (
	"context"
	"errors"

	"github.com/annoserv/annostore/pkg/errs"
	"github.com/annoserv/annostore/pkg/model"
)

// RoleSet is an explicit set of allowed roles for one operation. ADMIN is
// listed in every set rather than implied, so reordering roles can never
// silently widen access.
type RoleSet map[model.Role]struct{}

// Roles builds a role set.
func Roles(roles ...model.Role) RoleSet {
	set := make(RoleSet, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	return set
}

// The three canonical operation sets.
var (
	// AdminOnly guards container/user management and index operations.
	AdminOnly = Roles(model.RoleAdmin)

	// AdminOrEditor guards content mutation.
	AdminOrEditor = Roles(model.RoleAdmin, model.RoleEditor)

	// AnyRole guards reads and search.
	AnyRole = Roles(model.RoleAdmin, model.RoleEditor, model.RoleGuest)
)

// Gate authorizes operations against containers.
type Gate struct {
	roles RoleStore
}

// NewGate creates a gate over the given role store.
func NewGate(roles RoleStore) *Gate {
	return &Gate{roles: roles}
}

// Authorize checks one operation. The superuser always passes. A named user
// passes when its container role is in the allowed set. An anonymous caller
// passes only when the operation explicitly allows it.
func (g *Gate) Authorize(ctx context.Context, principal model.Principal, container string, allowed RoleSet, anonymousOK bool) error {
	switch p := principal.(type) {
	case nil:
		if anonymousOK {
			return nil
		}
		return errs.NotAuthorized("anonymous access to container %q is not permitted", container)

	case model.Superuser:
		return nil

	case model.NamedUser:
		role, err := g.roles.Get(ctx, container, p.Name)
		if errors.Is(err, ErrNoRole) {
			return errs.NotAuthorized("user %q has no role in container %q", p.Name, container)
		}
		if err != nil {
			return err
		}
		if _, ok := allowed[role]; !ok {
			return errs.NotAuthorized("user %q with role %s may not perform this operation in container %q", p.Name, role, container)
		}
		return nil
	}
	return errs.NotAuthorized("unrecognized principal")
}
