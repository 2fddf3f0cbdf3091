// ABOUTME: Container and annotation persistence over the document store
// ABOUTME: Metadata, field counts and the physical collection move together

package container

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/annoserv/annostore/pkg/errs"
	"github.com/annoserv/annostore/pkg/model"
	"github.com/annoserv/annostore/pkg/storage"
)

// ContainersCollection holds one metadata document per container, keyed by
// container name.
const ContainersCollection = "__containers"

// collPrefix separates annotation collections from the reserved system
// collections.
const collPrefix = "anno_"

// Collection maps a container name to its physical collection name.
func Collection(name string) string {
	return collPrefix + name
}

// Manager persists containers and their annotations. Container metadata and
// the physical collection are created and deleted together; field counts on
// the metadata follow every annotation insert and delete.
type Manager struct {
	store storage.Store
	log   zerolog.Logger
}

// NewManager creates a container manager. It ensures the reserved metadata
// collection exists.
func NewManager(ctx context.Context, store storage.Store, log zerolog.Logger) (*Manager, error) {
	if err := store.EnsureCollection(ctx, ContainersCollection); err != nil {
		return nil, err
	}
	return &Manager{
		store: store,
		log:   log.With().Str("component", "container").Logger(),
	}, nil
}

// ValidateName rejects container names that would break key encoding or
// collide with reserved collections.
func ValidateName(name string) error {
	if name == "" {
		return errs.Validation("container name must not be empty")
	}
	if strings.ContainsAny(name, ":/") {
		return errs.Validation("container name %q must not contain ':' or '/'", name)
	}
	if strings.HasPrefix(name, "__") {
		return errs.Validation("container name %q must not start with '__'", name)
	}
	return nil
}

// Create creates a container: its metadata record and its physical
// collection. A duplicate name is a conflict.
func (m *Manager) Create(ctx context.Context, name, label string) (model.ContainerMeta, error) {
	if err := ValidateName(name); err != nil {
		return model.ContainerMeta{}, err
	}

	now := time.Now().UTC()
	meta := model.ContainerMeta{
		Name:        name,
		Label:       label,
		Created:     now,
		Modified:    now,
		FieldCounts: map[string]int64{},
	}
	doc, err := toDoc(meta)
	if err != nil {
		return model.ContainerMeta{}, errs.Internal(err)
	}
	if err := m.store.Insert(ctx, ContainersCollection, name, doc); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return model.ContainerMeta{}, errs.Conflict("container %q already exists", name)
		}
		return model.ContainerMeta{}, err
	}
	if err := m.store.EnsureCollection(ctx, Collection(name)); err != nil {
		return model.ContainerMeta{}, err
	}

	m.log.Info().Str("container", name).Msg("container created")
	return meta, nil
}

// Get returns the container's metadata.
func (m *Manager) Get(ctx context.Context, name string) (model.ContainerMeta, error) {
	doc, err := m.store.Get(ctx, ContainersCollection, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.ContainerMeta{}, errs.NotFound("container %q does not exist", name)
		}
		return model.ContainerMeta{}, err
	}
	var meta model.ContainerMeta
	if err := fromDoc(doc, &meta); err != nil {
		return model.ContainerMeta{}, errs.Internal(err)
	}
	return meta, nil
}

// Delete removes the container's metadata and drops its collection with all
// annotations and indexes.
func (m *Manager) Delete(ctx context.Context, name string) error {
	if err := m.store.Delete(ctx, ContainersCollection, name); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return errs.NotFound("container %q does not exist", name)
		}
		return err
	}
	if err := m.store.DropCollection(ctx, Collection(name)); err != nil && !errors.Is(err, storage.ErrCollectionNotFound) {
		return err
	}
	m.log.Info().Str("container", name).Msg("container deleted")
	return nil
}

// CreateAnnotation stores a new annotation with a fresh concurrency token.
// name proposes a container-scoped name; an empty or already-taken name
// falls back to generation, so a collision is never an error.
func (m *Manager) CreateAnnotation(ctx context.Context, container, name string, body map[string]any) (model.Annotation, error) {
	if len(body) == 0 {
		return model.Annotation{}, errs.Validation("annotation body must not be empty")
	}
	if _, err := m.Get(ctx, container); err != nil {
		return model.Annotation{}, err
	}

	now := time.Now().UTC()
	a := model.Annotation{
		Token:    uuid.NewString(),
		Created:  now,
		Modified: now,
		Body:     body,
	}
	doc, err := toDoc(&a)
	if err != nil {
		return model.Annotation{}, errs.Internal(err)
	}

	coll := Collection(container)
	a.Name = name
	for {
		if a.Name == "" {
			a.Name = uuid.NewString()
		}
		doc["name"] = a.Name
		err = m.store.Insert(ctx, coll, a.Name, doc)
		if err == nil {
			break
		}
		if !errors.Is(err, storage.ErrDuplicate) {
			return model.Annotation{}, err
		}
		// Taken, whether proposed or a uuid collision: generate a new name.
		a.Name = ""
	}

	if err := m.bumpFieldCounts(ctx, container, body, 1); err != nil {
		return model.Annotation{}, err
	}
	return a, nil
}

// GetAnnotation returns one annotation by name.
func (m *Manager) GetAnnotation(ctx context.Context, container, name string) (model.Annotation, error) {
	doc, err := m.store.Get(ctx, Collection(container), name)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return model.Annotation{}, errs.NotFound("annotation %q does not exist in container %q", name, container)
		case errors.Is(err, storage.ErrCollectionNotFound):
			return model.Annotation{}, errs.NotFound("container %q does not exist", container)
		}
		return model.Annotation{}, err
	}
	var a model.Annotation
	if err := fromDoc(doc, &a); err != nil {
		return model.Annotation{}, errs.Internal(err)
	}
	return a, nil
}

// ReplaceAnnotation replaces the annotation body. The caller's token must
// match the stored one; a stale token is a conflict. The token is reissued
// on success.
func (m *Manager) ReplaceAnnotation(ctx context.Context, container, name, token string, body map[string]any) (model.Annotation, error) {
	if len(body) == 0 {
		return model.Annotation{}, errs.Validation("annotation body must not be empty")
	}
	current, err := m.GetAnnotation(ctx, container, name)
	if err != nil {
		return model.Annotation{}, err
	}
	if current.Token != token {
		return model.Annotation{}, errs.Conflict("stale token for annotation %q", name)
	}

	oldBody := current.Body
	current.Token = uuid.NewString()
	current.Modified = time.Now().UTC()
	current.Body = body

	doc, err := toDoc(&current)
	if err != nil {
		return model.Annotation{}, errs.Internal(err)
	}
	if err := m.store.Replace(ctx, Collection(container), name, doc); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Annotation{}, errs.NotFound("annotation %q does not exist in container %q", name, container)
		}
		return model.Annotation{}, err
	}

	if err := m.bumpFieldCounts(ctx, container, oldBody, -1); err != nil {
		return model.Annotation{}, err
	}
	if err := m.bumpFieldCounts(ctx, container, body, 1); err != nil {
		return model.Annotation{}, err
	}
	return current, nil
}

// DeleteAnnotation removes one annotation. Deleting the last annotation
// leaves the container in place.
func (m *Manager) DeleteAnnotation(ctx context.Context, container, name string) error {
	current, err := m.GetAnnotation(ctx, container, name)
	if err != nil {
		return err
	}
	if err := m.store.Delete(ctx, Collection(container), name); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return errs.NotFound("annotation %q does not exist in container %q", name, container)
		}
		return err
	}
	return m.bumpFieldCounts(ctx, container, current.Body, -1)
}

// List returns the names of all containers.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	docs, err := m.store.Aggregate(ctx, ContainersCollection, nil)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(docs))
	for _, doc := range docs {
		if name, ok := doc["name"].(string); ok {
			names = append(names, name)
		}
	}
	return names, nil
}

// bumpFieldCounts adjusts the per-container occurrence counts of top-level
// body fields and refreshes the modified timestamp.
func (m *Manager) bumpFieldCounts(ctx context.Context, container string, body map[string]any, delta int64) error {
	meta, err := m.Get(ctx, container)
	if err != nil {
		return err
	}
	if meta.FieldCounts == nil {
		meta.FieldCounts = map[string]int64{}
	}
	for field := range body {
		meta.FieldCounts[field] += delta
		if meta.FieldCounts[field] <= 0 {
			delete(meta.FieldCounts, field)
		}
	}
	meta.Modified = time.Now().UTC()

	doc, err := toDoc(meta)
	if err != nil {
		return errs.Internal(err)
	}
	return m.store.Replace(ctx, ContainersCollection, container, doc)
}

// toDoc converts a typed record to its stored document form.
func toDoc(v any) (storage.Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc storage.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// fromDoc converts a stored document back to its typed record.
func fromDoc(doc storage.Document, v any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
