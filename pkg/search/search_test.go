// ABOUTME: Tests for the search pager: frozen totals, boundaries, eviction
// ABOUTME: Sliding TTL refresh and LRU capacity are exercised directly

package search

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annoserv/annostore/internal/metrics"
	"github.com/annoserv/annostore/pkg/errs"
	"github.com/annoserv/annostore/pkg/query"
	"github.com/annoserv/annostore/pkg/storage"
)

const testColl = "anno_books"

func newTestPager(t *testing.T, cfg Config) (*Pager, storage.Store) {
	t.Helper()
	s, err := storage.Open(storage.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.EnsureCollection(context.Background(), testColl))

	p, err := New(s, cfg, zerolog.Nop(), metrics.New(prometheus.NewRegistry()))
	require.NoError(t, err)
	return p, s
}

func insertPages(t *testing.T, s storage.Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("anno-%03d", i)
		doc := storage.Document{
			"name":       id,
			"annotation": map[string]any{"body": map[string]any{"type": "Page"}},
		}
		require.NoError(t, s.Insert(context.Background(), testColl, id, doc))
	}
}

func mustParse(t *testing.T, raw string) query.Query {
	t.Helper()
	q, err := query.Parse([]byte(raw))
	require.NoError(t, err)
	return q
}

func TestCreateAndPage(t *testing.T) {
	p, s := newTestPager(t, Config{PageSize: 2})
	insertPages(t, s, 5)
	ctx := context.Background()

	id, total, err := p.Create(ctx, testColl, mustParse(t, `{"body.type":"Page"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)

	pg, err := p.GetPage(ctx, id, 0)
	require.NoError(t, err)
	assert.Len(t, pg.Items, 2)
	assert.Equal(t, 0, pg.StartIndex)
	assert.Equal(t, int64(5), pg.Total)
	assert.Nil(t, pg.Prev)
	require.NotNil(t, pg.Next)
	assert.Equal(t, 1, *pg.Next)
	assert.Equal(t, "anno-000", pg.Items[0]["name"], "items carry a resolvable id")

	pg, err = p.GetPage(ctx, id, 2)
	require.NoError(t, err)
	assert.Len(t, pg.Items, 1)
	assert.Equal(t, 4, pg.StartIndex)
	require.NotNil(t, pg.Prev)
	assert.Equal(t, 1, *pg.Prev)
	assert.Nil(t, pg.Next)
}

func TestPageBoundaries(t *testing.T) {
	p, s := newTestPager(t, Config{PageSize: 10})
	insertPages(t, s, 1)
	ctx := context.Background()

	id, total, err := p.Create(ctx, testColl, mustParse(t, `{"body.type":"Page"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	pg, err := p.GetPage(ctx, id, 0)
	require.NoError(t, err)
	assert.Len(t, pg.Items, 1)
	assert.Nil(t, pg.Prev)
	assert.Nil(t, pg.Next)

	pg, err = p.GetPage(ctx, id, 7)
	require.NoError(t, err)
	assert.Empty(t, pg.Items)
	assert.Nil(t, pg.Next)

	_, err = p.GetPage(ctx, id, -1)
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestTotalFrozenItemsLive(t *testing.T) {
	p, s := newTestPager(t, Config{PageSize: 10})
	insertPages(t, s, 2)
	ctx := context.Background()

	id, total, err := p.Create(ctx, testColl, mustParse(t, `{"body.type":"Page"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	doc := storage.Document{
		"name":       "late",
		"annotation": map[string]any{"body": map[string]any{"type": "Page"}},
	}
	require.NoError(t, s.Insert(ctx, testColl, "late", doc))

	pg, err := p.GetPage(ctx, id, 0)
	require.NoError(t, err)
	assert.Len(t, pg.Items, 3, "items reflect live data")
	assert.Equal(t, int64(2), pg.Total, "total stays frozen at create time")

	info, err := p.GetInfo(id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.Total)
}

func TestCreateErrors(t *testing.T) {
	p, _ := newTestPager(t, Config{})
	ctx := context.Background()

	_, _, err := p.Create(ctx, "anno_missing", mustParse(t, `{"body.type":"Page"}`))
	require.ErrorIs(t, err, errs.ErrNotFound)

	_, _, err = p.Create(ctx, testColl, mustParse(t, `{"spans":{":overlaps":{"start":1,"end":2}}}`))
	require.ErrorIs(t, err, errs.ErrValidation, "bad operator params fail before any count")
}

func TestUnknownSearchID(t *testing.T) {
	p, _ := newTestPager(t, Config{})

	_, err := p.GetPage(context.Background(), "no-such-id", 0)
	require.ErrorIs(t, err, errs.ErrNotFound)
	_, err = p.GetInfo("no-such-id")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestCapacityEvictsLeastRecentlyUsed(t *testing.T) {
	p, s := newTestPager(t, Config{Capacity: 2, PageSize: 10})
	insertPages(t, s, 1)
	ctx := context.Background()

	first, _, err := p.Create(ctx, testColl, mustParse(t, `{"body.type":"Page"}`))
	require.NoError(t, err)
	second, _, err := p.Create(ctx, testColl, mustParse(t, `{"body.type":"Line"}`))
	require.NoError(t, err)

	// Touch the oldest so the middle one becomes least recently used.
	_, err = p.GetInfo(first)
	require.NoError(t, err)

	third, _, err := p.Create(ctx, testColl, mustParse(t, `{"body.type":"Word"}`))
	require.NoError(t, err)

	_, err = p.GetInfo(second)
	require.ErrorIs(t, err, errs.ErrNotFound, "LRU entry beyond capacity is evicted")
	_, err = p.GetInfo(first)
	require.NoError(t, err)
	_, err = p.GetInfo(third)
	require.NoError(t, err)
	assert.Equal(t, 2, p.cache.len())
}

func TestSlidingTTL(t *testing.T) {
	p, s := newTestPager(t, Config{TTL: 100 * time.Millisecond, PageSize: 10})
	insertPages(t, s, 1)
	ctx := context.Background()

	id, _, err := p.Create(ctx, testColl, mustParse(t, `{"body.type":"Page"}`))
	require.NoError(t, err)

	// Each access inside the window slides the expiry forward.
	time.Sleep(60 * time.Millisecond)
	_, err = p.GetInfo(id)
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	_, err = p.GetInfo(id)
	require.NoError(t, err, "access refreshed the TTL")

	time.Sleep(150 * time.Millisecond)
	_, err = p.GetInfo(id)
	require.ErrorIs(t, err, errs.ErrNotFound, "idle past the TTL expires the search")
}
