// ABOUTME: Async index lifecycle manager with an idempotent chore registry
// ABOUTME: Builds run on the worker pool; deletes are synchronous

package index

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/annoserv/annostore/internal/metrics"
	"github.com/annoserv/annostore/pkg/errs"
	"github.com/annoserv/annostore/pkg/model"
	"github.com/annoserv/annostore/pkg/storage"
	"github.com/annoserv/annostore/pkg/task"
)

// Manager owns the lifecycle of secondary indexes: asynchronous creation
// tracked by chores, synchronous deletion, and listing. Chores for the same
// (container, field, kind) are deduplicated while one is still live, so
// repeated submissions observe the build already in flight.
type Manager struct {
	store storage.Store
	pool  *task.Pool
	ttl   time.Duration
	log   zerolog.Logger
	met   *metrics.Metrics

	// chores maps Key to *Chore. LoadOrStore keeps the test-and-insert
	// atomic under concurrent submissions.
	chores sync.Map
}

// NewManager creates a manager. ttl bounds how long finished chores remain
// retrievable.
func NewManager(store storage.Store, pool *task.Pool, ttl time.Duration, log zerolog.Logger, met *metrics.Metrics) *Manager {
	return &Manager{
		store: store,
		pool:  pool,
		ttl:   ttl,
		log:   log.With().Str("component", "index").Logger(),
		met:   met,
	}
}

// StartIndexCreation submits an asynchronous index build and returns its
// chore status immediately. If a live chore for the same (container, field,
// kind) exists, that chore's status is returned and nothing new is started.
// A terminal chore that has outlived its TTL is purged first, so the index
// can be rebuilt.
func (m *Manager) StartIndexCreation(ctx context.Context, coll, field string, kind model.IndexKind) (Status, error) {
	if field == "" {
		return Status{}, errs.Validation("index field must not be empty")
	}
	if !model.ValidIndexKind(kind) {
		return Status{}, errs.Validation("unsupported index kind %q, valid kinds: %s",
			kind, strings.Join(kindNames(), ", "))
	}
	ok, err := m.store.HasCollection(ctx, coll)
	if err != nil {
		return Status{}, err
	}
	if !ok {
		return Status{}, errs.NotFound("collection %q does not exist", coll)
	}

	key := Key{Container: coll, Field: field, Kind: kind}
	m.purgeExpired(key)

	fresh := newChore(key, m.ttl)
	actual, loaded := m.chores.LoadOrStore(key, fresh)
	chore := actual.(*Chore)
	if loaded {
		return chore.Status(), nil
	}

	m.log.Info().Str("container", coll).Str("field", field).
		Str("kind", string(kind)).Str("chore", chore.t.ID()).
		Msg("index build submitted")
	m.met.IndexChoresSubmittedTotal.Inc()

	m.pool.Submit(func() {
		chore.t.Run(context.Background(), m.buildRoutine(key))
	})
	return chore.Status(), nil
}

func (m *Manager) buildRoutine(key Key) task.Routine {
	return func(ctx context.Context, t *task.Task) error {
		cfg := model.IndexConfig{
			Field: key.Field,
			Kind:  key.Kind,
			Name:  Name(key.Field, key.Kind),
		}
		if err := m.store.CreateIndex(ctx, key.Container, cfg); err != nil {
			m.log.Error().Err(err).Str("container", key.Container).
				Str("index", cfg.Name).Msg("index build failed")
			m.met.IndexChoresFinishedTotal.WithLabelValues("failed").Inc()
			return err
		}
		t.AddProgress(1)
		m.log.Info().Str("container", key.Container).
			Str("index", cfg.Name).Msg("index build finished")
		m.met.IndexChoresFinishedTotal.WithLabelValues("done").Inc()
		return nil
	}
}

// GetIndexChore looks up the chore for (container, field, kind). It never
// starts anything; expired chores are purged and reported as absent.
// Absence is not an error here; callers decide NotFound semantics.
func (m *Manager) GetIndexChore(coll, field string, kind model.IndexKind) (Status, bool) {
	key := Key{Container: coll, Field: field, Kind: kind}
	m.purgeExpired(key)

	v, ok := m.chores.Load(key)
	if !ok {
		return Status{}, false
	}
	return v.(*Chore).Status(), true
}

// DeleteIndex drops the physical index synchronously. Deleting an index that
// does not exist is not an error. Any terminal chore for the key is cleared
// so a later rebuild starts fresh; a still-running build is left alone and
// its result will simply be dropped by the next delete.
func (m *Manager) DeleteIndex(ctx context.Context, coll, field string, kind model.IndexKind) error {
	if !model.ValidIndexKind(kind) {
		return errs.Validation("unsupported index kind %q, valid kinds: %s",
			kind, strings.Join(kindNames(), ", "))
	}
	if err := m.store.DropIndex(ctx, coll, Name(field, kind)); err != nil {
		return err
	}

	key := Key{Container: coll, Field: field, Kind: kind}
	if v, ok := m.chores.Load(key); ok && v.(*Chore).Status().State.Terminal() {
		// Remove only the observed value; a fresh chore stored since the
		// Load must survive.
		m.chores.CompareAndDelete(key, v)
	}
	m.log.Info().Str("container", coll).Str("field", field).
		Str("kind", string(kind)).Msg("index deleted")
	return nil
}

// ListIndexes returns the logical (field, kind) pairs behind the physical
// indexes of a collection. Names this system did not create are skipped.
func (m *Manager) ListIndexes(ctx context.Context, coll string) ([]model.IndexConfig, error) {
	names, err := m.store.ListIndexes(ctx, coll)
	if err != nil {
		return nil, err
	}
	configs := make([]model.IndexConfig, 0, len(names))
	for _, name := range names {
		field, kind, ok := ParseName(name)
		if !ok {
			continue
		}
		configs = append(configs, model.IndexConfig{Field: field, Kind: kind, Name: name})
	}
	return configs, nil
}

// purgeExpired drops the chore for key if it is terminal and past its TTL.
// CompareAndDelete keeps the purge bound to the value observed here: two
// submitters racing over the same expired chore must not let one of them
// remove the fresh chore the other already stored.
func (m *Manager) purgeExpired(key Key) {
	if v, ok := m.chores.Load(key); ok && v.(*Chore).Expired(time.Now()) {
		m.chores.CompareAndDelete(key, v)
	}
}

func kindNames() []string {
	names := make([]string, 0, len(model.SupportedIndexKinds))
	for _, k := range model.SupportedIndexKinds {
		names = append(names, string(k))
	}
	return names
}
