// ABOUTME: Store decorator recording operation counts and latency
// ABOUTME: Wraps any Store; the inner implementation stays metrics-free

package storage

import (
	"context"
	"time"

	"github.com/annoserv/annostore/internal/metrics"
	"github.com/annoserv/annostore/pkg/model"
	"github.com/annoserv/annostore/pkg/query"
)

// InstrumentedStore decorates a Store with Prometheus operation metrics.
type InstrumentedStore struct {
	inner Store
	met   *metrics.Metrics
}

// Instrument wraps inner so every operation is recorded on met.
func Instrument(inner Store, met *metrics.Metrics) *InstrumentedStore {
	return &InstrumentedStore{inner: inner, met: met}
}

func (s *InstrumentedStore) record(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.met.RecordStoreOperation(op, status, time.Since(start))
}

func (s *InstrumentedStore) EnsureCollection(ctx context.Context, coll string) error {
	start := time.Now()
	err := s.inner.EnsureCollection(ctx, coll)
	s.record("ensure_collection", start, err)
	return err
}

func (s *InstrumentedStore) DropCollection(ctx context.Context, coll string) error {
	start := time.Now()
	err := s.inner.DropCollection(ctx, coll)
	s.record("drop_collection", start, err)
	return err
}

func (s *InstrumentedStore) HasCollection(ctx context.Context, coll string) (bool, error) {
	start := time.Now()
	ok, err := s.inner.HasCollection(ctx, coll)
	s.record("has_collection", start, err)
	return ok, err
}

func (s *InstrumentedStore) Insert(ctx context.Context, coll, id string, doc Document) error {
	start := time.Now()
	err := s.inner.Insert(ctx, coll, id, doc)
	s.record("insert", start, err)
	return err
}

func (s *InstrumentedStore) Get(ctx context.Context, coll, id string) (Document, error) {
	start := time.Now()
	doc, err := s.inner.Get(ctx, coll, id)
	s.record("get", start, err)
	return doc, err
}

func (s *InstrumentedStore) Replace(ctx context.Context, coll, id string, doc Document) error {
	start := time.Now()
	err := s.inner.Replace(ctx, coll, id, doc)
	s.record("replace", start, err)
	return err
}

func (s *InstrumentedStore) Delete(ctx context.Context, coll, id string) error {
	start := time.Now()
	err := s.inner.Delete(ctx, coll, id)
	s.record("delete", start, err)
	return err
}

func (s *InstrumentedStore) Count(ctx context.Context, coll string, stages []query.Stage) (int64, error) {
	start := time.Now()
	n, err := s.inner.Count(ctx, coll, stages)
	s.record("count", start, err)
	return n, err
}

func (s *InstrumentedStore) Aggregate(ctx context.Context, coll string, stages []query.Stage) ([]Document, error) {
	start := time.Now()
	docs, err := s.inner.Aggregate(ctx, coll, stages)
	s.record("aggregate", start, err)
	return docs, err
}

func (s *InstrumentedStore) CreateIndex(ctx context.Context, coll string, cfg model.IndexConfig) error {
	start := time.Now()
	err := s.inner.CreateIndex(ctx, coll, cfg)
	s.record("create_index", start, err)
	return err
}

func (s *InstrumentedStore) DropIndex(ctx context.Context, coll, name string) error {
	start := time.Now()
	err := s.inner.DropIndex(ctx, coll, name)
	s.record("drop_index", start, err)
	return err
}

func (s *InstrumentedStore) ListIndexes(ctx context.Context, coll string) ([]string, error) {
	start := time.Now()
	names, err := s.inner.ListIndexes(ctx, coll)
	s.record("list_indexes", start, err)
	return names, err
}

func (s *InstrumentedStore) Close() error {
	return s.inner.Close()
}
