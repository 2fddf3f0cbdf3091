// ABOUTME: Service-level tests: end-to-end search and the role matrix
// ABOUTME: Exercises the full wiring over an in-memory store

package service

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annoserv/annostore/internal/metrics"
	"github.com/annoserv/annostore/pkg/access"
	"github.com/annoserv/annostore/pkg/container"
	"github.com/annoserv/annostore/pkg/errs"
	"github.com/annoserv/annostore/pkg/index"
	"github.com/annoserv/annostore/pkg/model"
	"github.com/annoserv/annostore/pkg/query"
	"github.com/annoserv/annostore/pkg/search"
	"github.com/annoserv/annostore/pkg/storage"
	"github.com/annoserv/annostore/pkg/task"
)

type fixture struct {
	svc  *Service
	pool *task.Pool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	s, err := storage.Open(storage.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	roles, err := access.NewDocRoleStore(ctx, s)
	require.NoError(t, err)
	cm, err := container.NewManager(ctx, s, zerolog.Nop())
	require.NoError(t, err)

	met := metrics.New(prometheus.NewRegistry())
	pager, err := search.New(s, search.Config{PageSize: 5}, zerolog.Nop(), met)
	require.NoError(t, err)

	pool := task.NewPool(2)
	idx := index.NewManager(s, pool, time.Minute, zerolog.Nop(), met)

	svc := New(Deps{
		Gate:       access.NewGate(roles),
		Roles:      roles,
		Containers: cm,
		Pager:      pager,
		Indexes:    idx,
		Pool:       pool,
		TaskTTL:    time.Minute,
		Log:        zerolog.Nop(),
	})
	return &fixture{svc: svc, pool: pool}
}

func mustParse(t *testing.T, raw string) query.Query {
	t.Helper()
	q, err := query.Parse([]byte(raw))
	require.NoError(t, err)
	return q
}

var root = model.Superuser{}

func TestEndToEndSearch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateContainer(ctx, root, "books", "Books")
	require.NoError(t, err)

	a, err := f.svc.CreateAnnotation(ctx, root, "books", "", map[string]any{
		"body": map[string]any{"type": "Page"},
	})
	require.NoError(t, err)

	id, total, err := f.svc.CreateSearch(ctx, root, "books", mustParse(t, `{"body.type":"Page"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	pg, err := f.svc.GetPage(ctx, root, "books", id, 0)
	require.NoError(t, err)
	require.Len(t, pg.Items, 1)
	assert.Equal(t, a.Name, pg.Items[0]["name"], "page items resolve back to the annotation")
	assert.Nil(t, pg.Prev)
	assert.Nil(t, pg.Next)

	id, total, err = f.svc.CreateSearch(ctx, root, "books", mustParse(t, `{"body.type":"Line"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)

	pg, err = f.svc.GetPage(ctx, root, "books", id, 0)
	require.NoError(t, err)
	assert.Empty(t, pg.Items)
	assert.Nil(t, pg.Next)
}

func TestRoleMatrix(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := model.NamedUser{Name: "alice"}
	bob := model.NamedUser{Name: "bob"}
	carol := model.NamedUser{Name: "carol"}

	_, err := f.svc.CreateContainer(ctx, nil, "books", "")
	require.ErrorIs(t, err, errs.ErrNotAuthorized, "anonymous may not create containers")

	_, err = f.svc.CreateContainer(ctx, alice, "books", "")
	require.NoError(t, err)

	// The creator holds ADMIN and can hand out roles.
	require.NoError(t, f.svc.SetRole(ctx, alice, "books", "bob", model.RoleEditor))
	require.NoError(t, f.svc.SetRole(ctx, alice, "books", "carol", model.RoleGuest))

	body := map[string]any{"body": "x"}
	_, err = f.svc.CreateAnnotation(ctx, bob, "books", "", body)
	require.NoError(t, err, "editors may create annotations")

	_, err = f.svc.CreateAnnotation(ctx, carol, "books", "", body)
	require.ErrorIs(t, err, errs.ErrNotAuthorized, "guests may not mutate content")

	_, err = f.svc.CreateAnnotation(ctx, nil, "books", "", body)
	require.ErrorIs(t, err, errs.ErrNotAuthorized, "anonymous may not mutate content")

	_, err = f.svc.GetContainer(ctx, carol, "books")
	require.NoError(t, err, "guests may read")
	_, err = f.svc.GetContainer(ctx, nil, "books")
	require.NoError(t, err, "anonymous may read")

	_, _, err = f.svc.CreateSearch(ctx, nil, "books", mustParse(t, `{"body":"x"}`))
	require.NoError(t, err, "anonymous may search")

	err = f.svc.DeleteContainer(ctx, bob, "books")
	require.ErrorIs(t, err, errs.ErrNotAuthorized, "container delete is admin only")
	err = f.svc.SetRole(ctx, bob, "books", "dave", model.RoleGuest)
	require.ErrorIs(t, err, errs.ErrNotAuthorized, "role management is admin only")
	_, err = f.svc.ListContainerRoles(ctx, carol, "books")
	require.ErrorIs(t, err, errs.ErrNotAuthorized)

	assignments, err := f.svc.ListContainerRoles(ctx, alice, "books")
	require.NoError(t, err)
	assert.Len(t, assignments, 3)

	require.NoError(t, f.svc.DeleteContainer(ctx, alice, "books"))
	_, err = f.svc.GetContainer(ctx, root, "books")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestContainerDeleteCleansRoles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := model.NamedUser{Name: "alice"}

	_, err := f.svc.CreateContainer(ctx, alice, "books", "")
	require.NoError(t, err)
	require.NoError(t, f.svc.SetRole(ctx, alice, "books", "bob", model.RoleEditor))
	require.NoError(t, f.svc.DeleteContainer(ctx, alice, "books"))

	// Recreated container starts without the old assignments; alice is
	// granted ADMIN again as the creator.
	_, err = f.svc.CreateContainer(ctx, root, "books", "")
	require.NoError(t, err)
	assignments, err := f.svc.ListContainerRoles(ctx, root, "books")
	require.NoError(t, err)
	assert.Empty(t, assignments)
}

func TestSearchScopedToContainer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, name := range []string{"c1", "c2"} {
		_, err := f.svc.CreateContainer(ctx, root, name, "")
		require.NoError(t, err)
	}

	id, _, err := f.svc.CreateSearch(ctx, root, "c1", mustParse(t, `{"body":"x"}`))
	require.NoError(t, err)

	_, err = f.svc.GetPage(ctx, root, "c2", id, 0)
	require.ErrorIs(t, err, errs.ErrNotFound, "a foreign search id looks missing")
	_, err = f.svc.GetSearchInfo(ctx, root, "c2", id)
	require.ErrorIs(t, err, errs.ErrNotFound)

	_, err = f.svc.GetPage(ctx, root, "c1", id, 0)
	require.NoError(t, err)
}

func TestIndexOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := model.NamedUser{Name: "alice"}

	_, err := f.svc.CreateContainer(ctx, alice, "books", "")
	require.NoError(t, err)
	require.NoError(t, f.svc.SetRole(ctx, alice, "books", "bob", model.RoleEditor))
	bob := model.NamedUser{Name: "bob"}

	_, err = f.svc.AddIndex(ctx, bob, "books", "body.type", model.IndexHashed)
	require.ErrorIs(t, err, errs.ErrNotAuthorized, "index mutation is admin only")
	_, err = f.svc.GetIndexStatus(ctx, bob, "books", "body.type", model.IndexHashed)
	require.ErrorIs(t, err, errs.ErrNotAuthorized)

	st, err := f.svc.AddIndex(ctx, alice, "books", "body.type", model.IndexHashed)
	require.NoError(t, err)
	assert.NotEmpty(t, st.ID)
	f.pool.Wait()

	st, err = f.svc.GetIndexStatus(ctx, alice, "books", "body.type", model.IndexHashed)
	require.NoError(t, err)
	assert.Equal(t, task.StateDone, st.State)

	again, err := f.svc.AddIndex(ctx, alice, "books", "body.type", model.IndexHashed)
	require.NoError(t, err)
	assert.Equal(t, st.ID, again.ID, "duplicate submission returns the live chore")

	configs, err := f.svc.ListIndexes(ctx, alice, "books")
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, "body.type", configs[0].Field)

	require.NoError(t, f.svc.DeleteIndex(ctx, alice, "books", "body.type", model.IndexHashed))
	_, err = f.svc.GetIndexStatus(ctx, alice, "books", "body.type", model.IndexHashed)
	require.ErrorIs(t, err, errs.ErrNotFound)

	_, err = f.svc.AddIndex(ctx, alice, "books", "body.type", model.IndexKind("btree"))
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestMultiSearchTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bob := model.NamedUser{Name: "bob"}

	for _, name := range []string{"c1", "c2"} {
		_, err := f.svc.CreateContainer(ctx, root, name, "")
		require.NoError(t, err)
	}
	require.NoError(t, f.svc.SetRole(ctx, root, "c1", "bob", model.RoleGuest))
	_, err := f.svc.CreateAnnotation(ctx, root, "c1", "", map[string]any{
		"body": map[string]any{"type": "Page"},
	})
	require.NoError(t, err)

	st, err := f.svc.StartMultiSearch(ctx, bob, []string{"c1", "c2"}, mustParse(t, `{"body.type":"Page"}`))
	require.NoError(t, err)
	f.pool.Wait()

	st, err = f.svc.GetTask(st.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StateDone, st.State, "an unauthorized container never fails the task")
	assert.Equal(t, int64(2), st.Progress)
	require.Len(t, st.Results, 1)
	hits := st.Results[0].(task.ContainerHits)
	assert.Equal(t, "c1", hits.Container)
	assert.Equal(t, int64(1), hits.Hits)
	require.Len(t, st.Errors, 1)
	assert.Contains(t, st.Errors[0], "c2")

	_, err = f.svc.GetTask("nope")
	require.ErrorIs(t, err, errs.ErrNotFound)

	_, err = f.svc.StartMultiSearch(ctx, root, nil, mustParse(t, `{"x":{":bogus":1}}`))
	require.ErrorIs(t, err, errs.ErrValidation)
}
