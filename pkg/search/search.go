// ABOUTME: Compiled-search lifecycle: create with frozen total, serve pages
// ABOUTME: Pages re-execute against live data; prev/next use the frozen total

package search

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/annoserv/annostore/internal/metrics"
	"github.com/annoserv/annostore/pkg/errs"
	"github.com/annoserv/annostore/pkg/query"
	"github.com/annoserv/annostore/pkg/storage"
)

// Defaults for the cache bounds and page size; all three are configuration.
const (
	DefaultTTL      = time.Hour
	DefaultCapacity = 1000
	DefaultPageSize = 20
)

// Config bounds the search cache and sizes result pages.
type Config struct {
	TTL      time.Duration `yaml:"ttl"`
	Capacity int           `yaml:"capacity"`
	PageSize int           `yaml:"page_size"`
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	return c
}

// CompiledSearch is one cached search: the parsed query, its compiled
// stages, and the hit total frozen when the search was created.
type CompiledSearch struct {
	ID      string
	Coll    string
	Query   query.Query
	Stages  []query.Stage
	Total   int64
	Created time.Time
}

// Info is the read-only summary of a cached search. Coll is the owning
// collection, used by callers to scope lookups; it is not part of the
// client representation.
type Info struct {
	Query query.Query `json:"query"`
	Total int64       `json:"total"`
	Coll  string      `json:"-"`
}

// Page is one ordered page of annotation documents. Total is the value
// frozen when the search was created, so prev/next stay stable while the
// underlying collection changes; Items always reflect live data.
type Page struct {
	Items      []storage.Document `json:"items"`
	StartIndex int                `json:"startIndex"`
	Total      int64              `json:"total"`
	Prev       *int               `json:"prev"`
	Next       *int               `json:"next"`
}

// Pager owns the compiled-search lifecycle: creation with a counted total,
// cached paging, and info lookups. Safe for concurrent use.
type Pager struct {
	store storage.Store
	cache *cache
	cfg   Config
	log   zerolog.Logger
	met   *metrics.Metrics
}

// New creates a pager over store with the given cache bounds.
func New(store storage.Store, cfg Config, log zerolog.Logger, met *metrics.Metrics) (*Pager, error) {
	cfg = cfg.withDefaults()
	c, err := newCache(cfg.Capacity, cfg.TTL, func() { met.SearchEvictionsTotal.Inc() })
	if err != nil {
		return nil, err
	}
	return &Pager{
		store: store,
		cache: c,
		cfg:   cfg,
		log:   log.With().Str("component", "search").Logger(),
		met:   met,
	}, nil
}

// Create compiles the query, counts hits against the live collection and
// caches the result under a fresh unguessable id. The returned total is
// frozen for the lifetime of the cached search.
func (p *Pager) Create(ctx context.Context, coll string, q query.Query) (string, int64, error) {
	stages, err := query.Compile(q)
	if err != nil {
		return "", 0, err
	}
	ok, err := p.store.HasCollection(ctx, coll)
	if err != nil {
		return "", 0, err
	}
	if !ok {
		return "", 0, errs.NotFound("collection %q does not exist", coll)
	}
	total, err := p.store.Count(ctx, coll, stages)
	if err != nil {
		return "", 0, err
	}

	cs := &CompiledSearch{
		ID:      uuid.NewString(),
		Coll:    coll,
		Query:   q,
		Stages:  stages,
		Total:   total,
		Created: time.Now(),
	}
	p.cache.add(cs)
	p.met.SearchesCreatedTotal.Inc()
	p.log.Debug().Str("search", cs.ID).Str("collection", coll).
		Int64("total", total).Msg("search created")
	return cs.ID, total, nil
}

// GetPage serves one page of the cached search. The lookup refreshes the
// search's TTL; an absent or expired id is NotFound. The page re-executes
// the stored stages with a skip/limit suffix, so items reflect current data
// while prev/next derive from the frozen total.
func (p *Pager) GetPage(ctx context.Context, id string, page int) (Page, error) {
	if page < 0 {
		return Page{}, errs.Validation("page number must not be negative, got %d", page)
	}
	cs, ok := p.lookup(id)
	if !ok {
		return Page{}, errs.NotFound("search %q not found or expired", id)
	}

	start := page * p.cfg.PageSize
	stages := append(slices.Clone(cs.Stages), query.Skip(int64(start)), query.Limit(int64(p.cfg.PageSize)))
	items, err := p.store.Aggregate(ctx, cs.Coll, stages)
	if err != nil {
		return Page{}, err
	}
	if items == nil {
		items = []storage.Document{}
	}

	pg := Page{
		Items:      items,
		StartIndex: start,
		Total:      cs.Total,
	}
	if page > 0 {
		prev := page - 1
		pg.Prev = &prev
	}
	if int64(start+p.cfg.PageSize) < cs.Total {
		next := page + 1
		pg.Next = &next
	}
	p.met.SearchPagesServedTotal.Inc()
	return pg, nil
}

// GetInfo returns the query and frozen total of a cached search, under the
// same lookup and expiry rule as GetPage.
func (p *Pager) GetInfo(id string) (Info, error) {
	cs, ok := p.lookup(id)
	if !ok {
		return Info{}, errs.NotFound("search %q not found or expired", id)
	}
	return Info{Query: cs.Query, Total: cs.Total, Coll: cs.Coll}, nil
}

// Count compiles and counts without caching. Used by multi-container search
// tasks, which track their own results.
func (p *Pager) Count(ctx context.Context, coll string, q query.Query) (int64, error) {
	stages, err := query.Compile(q)
	if err != nil {
		return 0, err
	}
	return p.store.Count(ctx, coll, stages)
}

func (p *Pager) lookup(id string) (*CompiledSearch, bool) {
	cs, ok := p.cache.get(id)
	if ok {
		p.met.SearchCacheHitsTotal.Inc()
	} else {
		p.met.SearchCacheMissTotal.Inc()
	}
	return cs, ok
}
