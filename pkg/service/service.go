// ABOUTME: Service façade combining gate, compiler, cache and index manager
// ABOUTME: Every operation authorizes against its fixed role set first

package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/annoserv/annostore/pkg/access"
	"github.com/annoserv/annostore/pkg/container"
	"github.com/annoserv/annostore/pkg/errs"
	"github.com/annoserv/annostore/pkg/index"
	"github.com/annoserv/annostore/pkg/model"
	"github.com/annoserv/annostore/pkg/query"
	"github.com/annoserv/annostore/pkg/search"
	"github.com/annoserv/annostore/pkg/task"
)

// Service is the external interface of the annotation store. Role sets per
// operation group:
//
//	admin only            container delete, role management, index operations
//	admin or editor       annotation create/replace/delete
//	any role or anonymous reads and search
//
// The superuser principal bypasses every check.
type Service struct {
	gate       *access.Gate
	roles      access.RoleStore
	containers *container.Manager
	pager      *search.Pager
	indexes    *index.Manager
	pool       *task.Pool
	log        zerolog.Logger

	tasks *taskRegistry
}

// Deps carries the wired components of a service.
type Deps struct {
	Gate       *access.Gate
	Roles      access.RoleStore
	Containers *container.Manager
	Pager      *search.Pager
	Indexes    *index.Manager
	Pool       *task.Pool
	TaskTTL    time.Duration
	Log        zerolog.Logger
}

// New assembles the service façade.
func New(d Deps) *Service {
	if d.TaskTTL <= 0 {
		d.TaskTTL = 10 * time.Minute
	}
	return &Service{
		gate:       d.Gate,
		roles:      d.Roles,
		containers: d.Containers,
		pager:      d.Pager,
		indexes:    d.Indexes,
		pool:       d.Pool,
		log:        d.Log.With().Str("component", "service").Logger(),
		tasks:      newTaskRegistry(d.TaskTTL),
	}
}

// --- Containers ---

// CreateContainer creates a container. Any authenticated principal may
// create one; a named creator is granted ADMIN on it.
func (s *Service) CreateContainer(ctx context.Context, p model.Principal, name, label string) (model.ContainerMeta, error) {
	if p == nil {
		return model.ContainerMeta{}, errs.NotAuthorized("container creation requires an authenticated principal")
	}
	meta, err := s.containers.Create(ctx, name, label)
	if err != nil {
		return model.ContainerMeta{}, err
	}
	if user, ok := p.(model.NamedUser); ok {
		if err := s.roles.Set(ctx, name, user.Name, model.RoleAdmin); err != nil {
			return model.ContainerMeta{}, err
		}
	}
	return meta, nil
}

// GetContainer returns container metadata.
func (s *Service) GetContainer(ctx context.Context, p model.Principal, name string) (model.ContainerMeta, error) {
	if err := s.gate.Authorize(ctx, p, name, access.AnyRole, true); err != nil {
		return model.ContainerMeta{}, err
	}
	return s.containers.Get(ctx, name)
}

// DeleteContainer removes the container, its annotations, its indexes and
// its role assignments.
func (s *Service) DeleteContainer(ctx context.Context, p model.Principal, name string) error {
	if err := s.gate.Authorize(ctx, p, name, access.AdminOnly, false); err != nil {
		return err
	}
	if err := s.containers.Delete(ctx, name); err != nil {
		return err
	}
	assignments, err := s.roles.ListByContainer(ctx, name)
	if err != nil {
		return err
	}
	for _, a := range assignments {
		if err := s.roles.Remove(ctx, name, a.User); err != nil {
			return err
		}
	}
	return nil
}

// --- Annotations ---

// CreateAnnotation stores a new annotation in the container. name proposes
// an annotation name; empty or taken names fall back to generation.
func (s *Service) CreateAnnotation(ctx context.Context, p model.Principal, containerName, name string, body map[string]any) (model.Annotation, error) {
	if err := s.gate.Authorize(ctx, p, containerName, access.AdminOrEditor, false); err != nil {
		return model.Annotation{}, err
	}
	return s.containers.CreateAnnotation(ctx, containerName, name, body)
}

// GetAnnotation returns one annotation.
func (s *Service) GetAnnotation(ctx context.Context, p model.Principal, containerName, name string) (model.Annotation, error) {
	if err := s.gate.Authorize(ctx, p, containerName, access.AnyRole, true); err != nil {
		return model.Annotation{}, err
	}
	return s.containers.GetAnnotation(ctx, containerName, name)
}

// ReplaceAnnotation replaces an annotation body under its concurrency token.
func (s *Service) ReplaceAnnotation(ctx context.Context, p model.Principal, containerName, name, token string, body map[string]any) (model.Annotation, error) {
	if err := s.gate.Authorize(ctx, p, containerName, access.AdminOrEditor, false); err != nil {
		return model.Annotation{}, err
	}
	return s.containers.ReplaceAnnotation(ctx, containerName, name, token, body)
}

// DeleteAnnotation removes one annotation.
func (s *Service) DeleteAnnotation(ctx context.Context, p model.Principal, containerName, name string) error {
	if err := s.gate.Authorize(ctx, p, containerName, access.AdminOrEditor, false); err != nil {
		return err
	}
	return s.containers.DeleteAnnotation(ctx, containerName, name)
}

// --- Search ---

// CreateSearch compiles and counts a query against one container, caching
// the search under a fresh id. The returned total is frozen for the
// lifetime of the cached search.
func (s *Service) CreateSearch(ctx context.Context, p model.Principal, containerName string, q query.Query) (string, int64, error) {
	if err := s.gate.Authorize(ctx, p, containerName, access.AnyRole, true); err != nil {
		return "", 0, err
	}
	if _, err := s.containers.Get(ctx, containerName); err != nil {
		return "", 0, err
	}
	return s.pager.Create(ctx, container.Collection(containerName), q)
}

// GetPage serves one page of a cached search. The id must belong to the
// named container.
func (s *Service) GetPage(ctx context.Context, p model.Principal, containerName, id string, page int) (search.Page, error) {
	if err := s.gate.Authorize(ctx, p, containerName, access.AnyRole, true); err != nil {
		return search.Page{}, err
	}
	if err := s.checkSearchScope(containerName, id); err != nil {
		return search.Page{}, err
	}
	return s.pager.GetPage(ctx, id, page)
}

// GetSearchInfo returns the query and frozen total of a cached search.
func (s *Service) GetSearchInfo(ctx context.Context, p model.Principal, containerName, id string) (search.Info, error) {
	if err := s.gate.Authorize(ctx, p, containerName, access.AnyRole, true); err != nil {
		return search.Info{}, err
	}
	if err := s.checkSearchScope(containerName, id); err != nil {
		return search.Info{}, err
	}
	return s.pager.GetInfo(id)
}

// checkSearchScope rejects search ids created against another container; a
// foreign id looks exactly like a missing one.
func (s *Service) checkSearchScope(containerName, id string) error {
	info, err := s.pager.GetInfo(id)
	if err != nil {
		return err
	}
	if info.Coll != container.Collection(containerName) {
		return errs.NotFound("search %q not found or expired", id)
	}
	return nil
}

// --- Indexes ---

// AddIndex submits an asynchronous index build and returns its chore
// status. Resubmitting while a chore for the same (field, kind) is live
// returns that chore unchanged.
func (s *Service) AddIndex(ctx context.Context, p model.Principal, containerName, field string, kind model.IndexKind) (index.Status, error) {
	if err := s.gate.Authorize(ctx, p, containerName, access.AdminOnly, false); err != nil {
		return index.Status{}, err
	}
	if _, err := s.containers.Get(ctx, containerName); err != nil {
		return index.Status{}, err
	}
	return s.indexes.StartIndexCreation(ctx, container.Collection(containerName), field, kind)
}

// GetIndexStatus returns the chore status for one index build; absence is
// NotFound at this layer.
func (s *Service) GetIndexStatus(ctx context.Context, p model.Principal, containerName, field string, kind model.IndexKind) (index.Status, error) {
	if err := s.gate.Authorize(ctx, p, containerName, access.AdminOnly, false); err != nil {
		return index.Status{}, err
	}
	st, ok := s.indexes.GetIndexChore(container.Collection(containerName), field, kind)
	if !ok {
		return index.Status{}, errs.NotFound("no index build for field %q kind %q in container %q", field, kind, containerName)
	}
	return st, nil
}

// ListIndexes enumerates the recognized indexes of a container.
func (s *Service) ListIndexes(ctx context.Context, p model.Principal, containerName string) ([]model.IndexConfig, error) {
	if err := s.gate.Authorize(ctx, p, containerName, access.AdminOnly, false); err != nil {
		return nil, err
	}
	if _, err := s.containers.Get(ctx, containerName); err != nil {
		return nil, err
	}
	return s.indexes.ListIndexes(ctx, container.Collection(containerName))
}

// DeleteIndex drops an index synchronously. Dropping a missing index is not
// an error.
func (s *Service) DeleteIndex(ctx context.Context, p model.Principal, containerName, field string, kind model.IndexKind) error {
	if err := s.gate.Authorize(ctx, p, containerName, access.AdminOnly, false); err != nil {
		return err
	}
	if _, err := s.containers.Get(ctx, containerName); err != nil {
		return err
	}
	return s.indexes.DeleteIndex(ctx, container.Collection(containerName), field, kind)
}

// --- Roles ---

// SetRole assigns or replaces a user's role in a container.
func (s *Service) SetRole(ctx context.Context, p model.Principal, containerName, user string, role model.Role) error {
	if err := s.gate.Authorize(ctx, p, containerName, access.AdminOnly, false); err != nil {
		return err
	}
	if !model.ValidRole(role) {
		return errs.Validation("unknown role %q", role)
	}
	if user == "" {
		return errs.Validation("user name must not be empty")
	}
	if _, err := s.containers.Get(ctx, containerName); err != nil {
		return err
	}
	return s.roles.Set(ctx, containerName, user, role)
}

// RemoveRole deletes a user's role record. Removing an absent record is not
// an error.
func (s *Service) RemoveRole(ctx context.Context, p model.Principal, containerName, user string) error {
	if err := s.gate.Authorize(ctx, p, containerName, access.AdminOnly, false); err != nil {
		return err
	}
	return s.roles.Remove(ctx, containerName, user)
}

// ListContainerRoles returns every role assignment in a container.
func (s *Service) ListContainerRoles(ctx context.Context, p model.Principal, containerName string) ([]model.RoleAssignment, error) {
	if err := s.gate.Authorize(ctx, p, containerName, access.AdminOnly, false); err != nil {
		return nil, err
	}
	return s.roles.ListByContainer(ctx, containerName)
}
