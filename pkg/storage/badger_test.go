// ABOUTME: Tests for the BadgerDB document store
// ABOUTME: Runs against in-memory databases, one per test

package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/annoserv/annostore/pkg/model"
	"github.com/annoserv/annostore/pkg/query"
)

func setupTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := Open(Config{InMemory: true})
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertGetDelete(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.EnsureCollection(ctx, "anno_c1"); err != nil {
		t.Fatalf("Failed to create collection: %v", err)
	}

	d := doc(map[string]any{"body": map[string]any{"type": "Page"}})
	if err := s.Insert(ctx, "anno_c1", "a1", d); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}

	got, err := s.Get(ctx, "anno_c1", "a1")
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	body := got["annotation"].(map[string]any)["body"].(map[string]any)
	if body["type"] != "Page" {
		t.Errorf("Expected Page, got %v", body["type"])
	}

	if err := s.Insert(ctx, "anno_c1", "a1", d); !errors.Is(err, ErrDuplicate) {
		t.Errorf("Expected duplicate error, got %v", err)
	}

	if err := s.Delete(ctx, "anno_c1", "a1"); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if _, err := s.Get(ctx, "anno_c1", "a1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected not found after delete, got %v", err)
	}
}

func TestInsertIntoMissingCollection(t *testing.T) {
	s := setupTestStore(t)

	err := s.Insert(context.Background(), "anno_none", "a1", Document{})
	if !errors.Is(err, ErrCollectionNotFound) {
		t.Errorf("Expected collection not found, got %v", err)
	}
}

func TestCountAndAggregate(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.EnsureCollection(ctx, "anno_c1"); err != nil {
		t.Fatalf("Failed to create collection: %v", err)
	}
	for i := 0; i < 5; i++ {
		kind := "Page"
		if i%2 == 1 {
			kind = "Line"
		}
		d := doc(map[string]any{"body": map[string]any{"type": kind}, "n": float64(i)})
		if err := s.Insert(ctx, "anno_c1", fmt.Sprintf("a%d", i), d); err != nil {
			t.Fatalf("Failed to insert: %v", err)
		}
	}

	stages := []query.Stage{
		query.Match(query.Condition{Path: "annotation.body.type", Op: query.OpEq, Value: "Page"}),
	}

	total, err := s.Count(ctx, "anno_c1", stages)
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if total != 3 {
		t.Errorf("Expected 3 matches, got %d", total)
	}

	paged, err := s.Aggregate(ctx, "anno_c1", append(stages, query.Skip(1), query.Limit(1)))
	if err != nil {
		t.Fatalf("Failed to aggregate: %v", err)
	}
	if len(paged) != 1 {
		t.Fatalf("Expected 1 page item, got %d", len(paged))
	}
	if paged[0]["n"] != float64(2) {
		t.Errorf("Expected second match (n=2), got n=%v", paged[0]["n"])
	}
}

func TestAggregateOrderIsStable(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.EnsureCollection(ctx, "anno_c1"); err != nil {
		t.Fatalf("Failed to create collection: %v", err)
	}
	for i := 0; i < 10; i++ {
		d := doc(map[string]any{"k": "v", "n": float64(i)})
		if err := s.Insert(ctx, "anno_c1", fmt.Sprintf("a%02d", i), d); err != nil {
			t.Fatalf("Failed to insert: %v", err)
		}
	}

	stages := []query.Stage{
		query.Match(query.Condition{Path: "annotation.k", Op: query.OpEq, Value: "v"}),
	}
	first, err := s.Aggregate(ctx, "anno_c1", stages)
	if err != nil {
		t.Fatalf("Failed to aggregate: %v", err)
	}
	second, err := s.Aggregate(ctx, "anno_c1", stages)
	if err != nil {
		t.Fatalf("Failed to aggregate: %v", err)
	}
	for i := range first {
		if first[i]["n"] != second[i]["n"] {
			t.Fatalf("Order not stable at %d: %v vs %v", i, first[i]["n"], second[i]["n"])
		}
	}
}

func TestIndexLifecycleAndLookup(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.EnsureCollection(ctx, "anno_c1"); err != nil {
		t.Fatalf("Failed to create collection: %v", err)
	}
	for i := 0; i < 4; i++ {
		kind := "Page"
		if i == 3 {
			kind = "Line"
		}
		d := doc(map[string]any{"body": map[string]any{"type": kind}})
		if err := s.Insert(ctx, "anno_c1", fmt.Sprintf("a%d", i), d); err != nil {
			t.Fatalf("Failed to insert: %v", err)
		}
	}

	cfg := model.IndexConfig{Field: "body.type", Kind: model.IndexHashed, Name: "as_hashed_body.type"}
	if err := s.CreateIndex(ctx, "anno_c1", cfg); err != nil {
		t.Fatalf("Failed to create index: %v", err)
	}

	names, err := s.ListIndexes(ctx, "anno_c1")
	if err != nil {
		t.Fatalf("Failed to list indexes: %v", err)
	}
	if len(names) != 1 || names[0] != cfg.Name {
		t.Errorf("Unexpected index names: %v", names)
	}

	// Indexed equality still returns correct results, including for
	// documents inserted after the build.
	d := doc(map[string]any{"body": map[string]any{"type": "Page"}})
	if err := s.Insert(ctx, "anno_c1", "a9", d); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}

	stages := []query.Stage{
		query.Match(query.Condition{Path: "annotation.body.type", Op: query.OpEq, Value: "Page"}),
	}
	total, err := s.Count(ctx, "anno_c1", stages)
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if total != 4 {
		t.Errorf("Expected 4 indexed matches, got %d", total)
	}

	// Dropping twice is not an error.
	if err := s.DropIndex(ctx, "anno_c1", cfg.Name); err != nil {
		t.Fatalf("Failed to drop index: %v", err)
	}
	if err := s.DropIndex(ctx, "anno_c1", cfg.Name); err != nil {
		t.Errorf("Expected idempotent drop, got %v", err)
	}

	names, err = s.ListIndexes(ctx, "anno_c1")
	if err != nil {
		t.Fatalf("Failed to list indexes: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("Expected no indexes after drop, got %v", names)
	}
}

func TestDropCollectionRemovesEverything(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.EnsureCollection(ctx, "anno_c1"); err != nil {
		t.Fatalf("Failed to create collection: %v", err)
	}
	if err := s.Insert(ctx, "anno_c1", "a1", doc(map[string]any{"k": "v"})); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}
	cfg := model.IndexConfig{Field: "k", Kind: model.IndexSingle, Name: "as_single_k"}
	if err := s.CreateIndex(ctx, "anno_c1", cfg); err != nil {
		t.Fatalf("Failed to create index: %v", err)
	}

	if err := s.DropCollection(ctx, "anno_c1"); err != nil {
		t.Fatalf("Failed to drop collection: %v", err)
	}

	exists, err := s.HasCollection(ctx, "anno_c1")
	if err != nil {
		t.Fatalf("Failed to check collection: %v", err)
	}
	if exists {
		t.Error("Expected collection to be gone")
	}
	if _, err := s.Count(ctx, "anno_c1", nil); !errors.Is(err, ErrCollectionNotFound) {
		t.Errorf("Expected collection not found, got %v", err)
	}
}
