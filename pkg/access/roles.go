// ABOUTME: Persistent role store mapping (container, user) to a role
// ABOUTME: Backed by a reserved collection in the document store

package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/annoserv/annostore/pkg/model"
	"github.com/annoserv/annostore/pkg/storage"
)

// RolesCollection is the reserved collection holding role assignments.
const RolesCollection = "__roles"

// ErrNoRole indicates that a user has no role record in a container.
var ErrNoRole = errors.New("access: no role assigned")

// RoleStore reads and writes role assignments.
type RoleStore interface {
	Get(ctx context.Context, container, user string) (model.Role, error)
	Set(ctx context.Context, container, user string, role model.Role) error
	Remove(ctx context.Context, container, user string) error
	ListByContainer(ctx context.Context, container string) ([]model.RoleAssignment, error)
	ListByUser(ctx context.Context, user string) ([]model.RoleAssignment, error)
}

// DocRoleStore implements RoleStore on the document store.
type DocRoleStore struct {
	store storage.Store
}

// NewDocRoleStore creates the role store and its backing collection.
func NewDocRoleStore(ctx context.Context, store storage.Store) (*DocRoleStore, error) {
	if err := store.EnsureCollection(ctx, RolesCollection); err != nil {
		return nil, err
	}
	return &DocRoleStore{store: store}, nil
}

func roleDocID(container, user string) string {
	return container + "/" + user
}

func roleDoc(a model.RoleAssignment) storage.Document {
	return storage.Document{
		"container": a.Container,
		"user":      a.User,
		"role":      string(a.Role),
	}
}

func parseRoleDoc(doc storage.Document) model.RoleAssignment {
	container, _ := doc["container"].(string)
	user, _ := doc["user"].(string)
	role, _ := doc["role"].(string)
	return model.RoleAssignment{Container: container, User: user, Role: model.Role(role)}
}

// Get returns the user's role in the container, or ErrNoRole.
func (rs *DocRoleStore) Get(ctx context.Context, container, user string) (model.Role, error) {
	doc, err := rs.store.Get(ctx, RolesCollection, roleDocID(container, user))
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("%w: user %q in container %q", ErrNoRole, user, container)
	}
	if err != nil {
		return "", err
	}
	return parseRoleDoc(doc).Role, nil
}

// Set assigns or replaces the user's role in the container.
func (rs *DocRoleStore) Set(ctx context.Context, container, user string, role model.Role) error {
	id := roleDocID(container, user)
	doc := roleDoc(model.RoleAssignment{Container: container, User: user, Role: role})

	err := rs.store.Replace(ctx, RolesCollection, id, doc)
	if errors.Is(err, storage.ErrNotFound) {
		return rs.store.Insert(ctx, RolesCollection, id, doc)
	}
	return err
}

// Remove deletes the user's role record. Removing an absent record is not
// an error.
func (rs *DocRoleStore) Remove(ctx context.Context, container, user string) error {
	err := rs.store.Delete(ctx, RolesCollection, roleDocID(container, user))
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

// ListByContainer returns every assignment inside one container.
func (rs *DocRoleStore) ListByContainer(ctx context.Context, container string) ([]model.RoleAssignment, error) {
	return rs.list(ctx, func(a model.RoleAssignment) bool { return a.Container == container })
}

// ListByUser returns every assignment a user holds, across containers.
func (rs *DocRoleStore) ListByUser(ctx context.Context, user string) ([]model.RoleAssignment, error) {
	return rs.list(ctx, func(a model.RoleAssignment) bool { return a.User == user })
}

func (rs *DocRoleStore) list(ctx context.Context, keep func(model.RoleAssignment) bool) ([]model.RoleAssignment, error) {
	docs, err := rs.store.Aggregate(ctx, RolesCollection, nil)
	if err != nil {
		return nil, err
	}
	var out []model.RoleAssignment
	for _, doc := range docs {
		if a := parseRoleDoc(doc); keep(a) {
			out = append(out, a)
		}
	}
	return out, nil
}
