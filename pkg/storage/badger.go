// ABOUTME: BadgerDB-backed document store with secondary index entries
// ABOUTME: Hashed indexes key on xxhash of the canonical value encoding

package storage

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"

	"github.com/annoserv/annostore/pkg/model"
	"github.com/annoserv/annostore/pkg/query"
)

// Key layout. Every key family carries the collection name so collections
// drop cleanly with a handful of prefix scans.
const (
	prefixCollection = "sys:coll:" // sys:coll:<coll>
	prefixDocument   = "doc:"      // doc:<coll>:<id>
	prefixIndexDef   = "ixd:"      // ixd:<coll>:<name>
	prefixIndexEntry = "ixe:"      // ixe:<coll>:<name>:<token>:<id>
)

// Config holds the BadgerDB store configuration.
type Config struct {
	Dir      string // Directory for database files; ignored when InMemory
	InMemory bool   // In-memory mode, used by tests
}

// BadgerStore implements Store on top of BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

// Open creates or opens a BadgerDB-backed store.
func Open(cfg Config) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Dir).
		WithInMemory(cfg.InMemory).
		WithLogger(nil)
	if cfg.InMemory {
		opts.Dir = ""
		opts.ValueDir = ""
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Close releases the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func collectionKey(coll string) []byte {
	return []byte(prefixCollection + coll)
}

func documentKey(coll, id string) []byte {
	return []byte(prefixDocument + coll + ":" + id)
}

func documentPrefix(coll string) []byte {
	return []byte(prefixDocument + coll + ":")
}

func indexDefKey(coll, name string) []byte {
	return []byte(prefixIndexDef + coll + ":" + name)
}

func indexDefPrefix(coll string) []byte {
	return []byte(prefixIndexDef + coll + ":")
}

func indexEntryKey(coll, name, token, id string) []byte {
	return []byte(prefixIndexEntry + coll + ":" + name + ":" + token + ":" + id)
}

func indexEntryPrefix(coll, name string) []byte {
	return []byte(prefixIndexEntry + coll + ":" + name + ":")
}

// EnsureCollection creates the collection marker if it is absent.
func (s *BadgerStore) EnsureCollection(ctx context.Context, coll string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(collectionKey(coll), []byte("{}"))
	})
}

// HasCollection reports whether the collection marker exists.
func (s *BadgerStore) HasCollection(ctx context.Context, coll string) (bool, error) {
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(collectionKey(coll))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

// DropCollection removes the marker, all documents, index definitions and
// index entries of the collection.
func (s *BadgerStore) DropCollection(ctx context.Context, coll string) error {
	prefixes := [][]byte{
		documentPrefix(coll),
		indexDefPrefix(coll),
		[]byte(prefixIndexEntry + coll + ":"),
	}

	for _, prefix := range prefixes {
		if err := s.deletePrefix(prefix); err != nil {
			return err
		}
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(collectionKey(coll))
	})
}

func (s *BadgerStore) deletePrefix(prefix []byte) error {
	// Collect under a read transaction, delete in batches: one Update
	// transaction can overflow on large collections.
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// Insert stores a new document and maintains every index on the collection.
func (s *BadgerStore) Insert(ctx context.Context, coll, id string, doc Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(collectionKey(coll)); errors.Is(err, badger.ErrKeyNotFound) {
			return ErrCollectionNotFound
		} else if err != nil {
			return err
		}

		key := documentKey(coll, id)
		if _, err := txn.Get(key); err == nil {
			return ErrDuplicate
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := txn.Set(key, data); err != nil {
			return err
		}
		return s.updateIndexEntries(txn, coll, id, nil, doc)
	})
}

// Get loads one document by id.
func (s *BadgerStore) Get(ctx context.Context, coll, id string) (Document, error) {
	var doc Document
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(documentKey(coll, id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &doc)
		})
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Replace swaps a document wholesale and rewrites its index entries.
func (s *BadgerStore) Replace(ctx context.Context, coll, id string, doc Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		key := documentKey(coll, id)
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var old Document
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &old)
		}); err != nil {
			return err
		}

		if err := txn.Set(key, data); err != nil {
			return err
		}
		return s.updateIndexEntries(txn, coll, id, old, doc)
	})
}

// Delete removes a document and its index entries.
func (s *BadgerStore) Delete(ctx context.Context, coll, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		key := documentKey(coll, id)
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var old Document
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &old)
		}); err != nil {
			return err
		}

		if err := txn.Delete(key); err != nil {
			return err
		}
		return s.updateIndexEntries(txn, coll, id, old, nil)
	})
}

// Count executes the pipeline and returns the number of matching documents.
func (s *BadgerStore) Count(ctx context.Context, coll string, stages []query.Stage) (int64, error) {
	docs, err := s.execute(ctx, coll, stages, true)
	if err != nil {
		return 0, err
	}
	return int64(len(docs)), nil
}

// Aggregate executes the pipeline and returns the matching documents in
// stable id order.
func (s *BadgerStore) Aggregate(ctx context.Context, coll string, stages []query.Stage) ([]Document, error) {
	return s.execute(ctx, coll, stages, false)
}

func (s *BadgerStore) execute(ctx context.Context, coll string, stages []query.Stage, countOnly bool) ([]Document, error) {
	exists, err := s.HasCollection(ctx, coll)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrCollectionNotFound
	}

	p := buildPlan(stages)
	var results []Document

	err = s.db.View(func(txn *badger.Txn) error {
		if ids, ok := s.indexCandidates(txn, coll, p); ok {
			return s.scanByIDs(ctx, txn, coll, ids, p, countOnly, &results)
		}
		return s.scanAll(ctx, txn, coll, p, countOnly, &results)
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (s *BadgerStore) scanAll(ctx context.Context, txn *badger.Txn, coll string, p plan, countOnly bool, results *[]Document) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = documentPrefix(coll)
	it := txn.NewIterator(opts)
	defer it.Close()

	var skipped, taken int64
	for it.Rewind(); it.Valid(); it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var doc Document
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &doc)
		}); err != nil {
			return err
		}
		if !p.matches(doc) {
			continue
		}
		if !countOnly {
			if skipped < p.skip {
				skipped++
				continue
			}
			if p.limit >= 0 && taken >= p.limit {
				break
			}
			taken++
		}
		*results = append(*results, doc)
	}
	return nil
}

func (s *BadgerStore) scanByIDs(ctx context.Context, txn *badger.Txn, coll string, ids []string, p plan, countOnly bool, results *[]Document) error {
	var skipped, taken int64
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		item, err := txn.Get(documentKey(coll, id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			continue // stale index entry
		}
		if err != nil {
			return err
		}
		var doc Document
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &doc)
		}); err != nil {
			return err
		}
		if !p.matches(doc) {
			continue
		}
		if !countOnly {
			if skipped < p.skip {
				skipped++
				continue
			}
			if p.limit >= 0 && taken >= p.limit {
				break
			}
			taken++
		}
		*results = append(*results, doc)
	}
	return nil
}

// indexCandidates looks for a secondary index covering the leading equality
// condition and, when one exists, returns the candidate document ids in id
// order. All conditions are still verified against each document.
func (s *BadgerStore) indexCandidates(txn *badger.Txn, coll string, p plan) ([]string, bool) {
	if len(p.conds) == 0 || p.conds[0].Op != query.OpEq {
		return nil, false
	}
	cond := p.conds[0]

	defs, err := s.indexDefs(txn, coll)
	if err != nil {
		return nil, false
	}
	for _, def := range defs {
		if query.BodyPrefix+def.Field != cond.Path {
			continue
		}
		token, err := indexToken(def.Kind, cond.Value)
		if err != nil {
			continue
		}
		prefix := []byte(prefixIndexEntry + coll + ":" + def.Name + ":" + token + ":")
		var ids []string
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			ids = append(ids, key[len(prefix):])
		}
		it.Close()
		return ids, true
	}
	return nil, false
}

// CreateIndex persists the definition and builds entries with a full
// collection scan. Re-creating an existing index rebuilds it.
func (s *BadgerStore) CreateIndex(ctx context.Context, coll string, cfg model.IndexConfig) error {
	exists, err := s.HasCollection(ctx, coll)
	if err != nil {
		return err
	}
	if !exists {
		return ErrCollectionNotFound
	}

	defData, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(indexDefKey(coll, cfg.Name), defData)
	}); err != nil {
		return err
	}
	// Rebuild from scratch so a repeated create converges.
	if err := s.deletePrefix(indexEntryPrefix(coll, cfg.Name)); err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = documentPrefix(coll)
		it := txn.NewIterator(opts)
		defer it.Close()

		docPrefix := string(documentPrefix(coll))
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			id := strings.TrimPrefix(string(it.Item().Key()), docPrefix)
			var doc Document
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &doc)
			}); err != nil {
				return err
			}
			for _, token := range indexTokens(cfg, doc) {
				if err := wb.Set(indexEntryKey(coll, cfg.Name, token, id), nil); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return wb.Flush()
}

// DropIndex removes the definition and all entries. Dropping an index that
// does not exist is not an error.
func (s *BadgerStore) DropIndex(ctx context.Context, coll, name string) error {
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(indexDefKey(coll, name))
	}); err != nil {
		return err
	}
	return s.deletePrefix(indexEntryPrefix(coll, name))
}

// ListIndexes returns the physical index names on a collection.
func (s *BadgerStore) ListIndexes(ctx context.Context, coll string) ([]string, error) {
	exists, err := s.HasCollection(ctx, coll)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrCollectionNotFound
	}

	var names []string
	err = s.db.View(func(txn *badger.Txn) error {
		prefix := indexDefPrefix(coll)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			names = append(names, key[len(prefix):])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

func (s *BadgerStore) indexDefs(txn *badger.Txn, coll string) ([]model.IndexConfig, error) {
	var defs []model.IndexConfig
	prefix := indexDefPrefix(coll)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		var cfg model.IndexConfig
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &cfg)
		}); err != nil {
			return nil, err
		}
		defs = append(defs, cfg)
	}
	return defs, nil
}

// updateIndexEntries reconciles index entries for one document transition.
// Either side may be nil (insert / delete).
func (s *BadgerStore) updateIndexEntries(txn *badger.Txn, coll, id string, oldDoc, newDoc Document) error {
	defs, err := s.indexDefs(txn, coll)
	if err != nil {
		return err
	}
	for _, def := range defs {
		if oldDoc != nil {
			for _, token := range indexTokens(def, oldDoc) {
				if err := txn.Delete(indexEntryKey(coll, def.Name, token, id)); err != nil {
					return err
				}
			}
		}
		if newDoc != nil {
			for _, token := range indexTokens(def, newDoc) {
				if err := txn.Set(indexEntryKey(coll, def.Name, token, id), nil); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// indexTokens derives the entry tokens of one document under one index.
func indexTokens(cfg model.IndexConfig, doc Document) []string {
	candidates, found := lookupPath(doc, query.BodyPrefix+cfg.Field)
	if !found {
		return nil
	}
	tokens := make([]string, 0, len(candidates))
	for _, cand := range candidates {
		token, err := indexToken(cfg.Kind, cand)
		if err != nil {
			continue
		}
		tokens = append(tokens, token)
	}
	return tokens
}

// indexToken encodes one field value as an entry key token. The canonical
// form is the JSON encoding (object keys sorted by encoding/json), hashed
// for hashed indexes and hex-dumped for single ones so tokens never collide
// with the key separator.
func indexToken(kind model.IndexKind, value any) (string, error) {
	canonical, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	switch kind {
	case model.IndexHashed:
		return fmt.Sprintf("%016x", xxhash.Sum64(canonical)), nil
	case model.IndexSingle:
		return hex.EncodeToString(canonical), nil
	}
	return "", fmt.Errorf("storage: unknown index kind %q", kind)
}
