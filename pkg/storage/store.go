// ABOUTME: Document-store capability consumed by every core component
// ABOUTME: Collections hold JSON documents plus named secondary indexes

package storage

import (
	"context"
	"errors"

	"github.com/annoserv/annostore/pkg/model"
	"github.com/annoserv/annostore/pkg/query"
)

// Document is one stored JSON document, decoded with encoding/json defaults
// (numbers are float64).
type Document = map[string]any

var (
	// ErrNotFound indicates a missing document.
	ErrNotFound = errors.New("storage: document not found")

	// ErrCollectionNotFound indicates a missing collection.
	ErrCollectionNotFound = errors.New("storage: collection not found")

	// ErrDuplicate indicates an insert with an id that already exists.
	ErrDuplicate = errors.New("storage: duplicate document id")

	// ErrClosed indicates an operation on a closed store.
	ErrClosed = errors.New("storage: store closed")
)

// Store is the document-store capability. Collection names must not contain
// the ':' key separator; callers validate names before use.
//
// Count and Aggregate execute a compiled stage pipeline. CreateIndex is a
// long, blocking operation: it scans the whole collection while building
// entries, which is why index construction runs on background workers.
type Store interface {
	EnsureCollection(ctx context.Context, coll string) error
	DropCollection(ctx context.Context, coll string) error
	HasCollection(ctx context.Context, coll string) (bool, error)

	Insert(ctx context.Context, coll, id string, doc Document) error
	Get(ctx context.Context, coll, id string) (Document, error)
	Replace(ctx context.Context, coll, id string, doc Document) error
	Delete(ctx context.Context, coll, id string) error

	Count(ctx context.Context, coll string, stages []query.Stage) (int64, error)
	Aggregate(ctx context.Context, coll string, stages []query.Stage) ([]Document, error)

	CreateIndex(ctx context.Context, coll string, cfg model.IndexConfig) error
	DropIndex(ctx context.Context, coll, name string) error
	ListIndexes(ctx context.Context, coll string) ([]string, error)

	Close() error
}
