// Package storage provides the key-ordered map abstraction used by Source
// for its row set and per-sort indexes. It is a thin, typed wrapper over
// github.com/google/btree. Stateful operators (Join, Take, Exists) do not
// use it; they keep their bookkeeping in plain Go maps.
package storage

import (
	"github.com/google/btree"
	"github.com/linkerd/ivmsync/row"
)

const defaultDegree = 32

// Key is an ordered tuple of row.Value used as a storage or index key. Two
// Keys compare element-wise via row.Value.Compare; callers are responsible
// for appending a primary key suffix when uniqueness is required (Source
// indexes always do).
type Key []row.Value

// Less reports whether k sorts before other. A shorter key is considered
// less than a longer key that agrees on every shared prefix, so Key also
// works as a lexicographic prefix for range scans (storage.ScanPrefix).
func (k Key) Less(other Key) bool {
	n := len(k)
	if len(other) < n {
		n = len(other)
	}
	for i := 0; i < n; i++ {
		c := k[i].Compare(other[i])
		if c != 0 {
			return c < 0
		}
	}
	return len(k) < len(other)
}

func (k Key) hasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if !k[i].Equal(prefix[i]) && !(k[i].IsNull() && prefix[i].IsNull()) {
			return false
		}
	}
	return true
}

type entry struct {
	key   Key
	value any
}

func (e *entry) Less(than btree.Item) bool {
	return e.key.Less(than.(*entry).key)
}

// Store is an ordered map from Key to an arbitrary value, backed by a
// btree. It is not safe for concurrent use; every operator owns its Store
// privately and the engine is single-threaded and cooperative (spec.md §5).
type Store struct {
	tree *btree.BTree
}

// New returns an empty Store.
func New() *Store {
	return &Store{tree: btree.New(defaultDegree)}
}

// Set inserts or replaces the value at key.
func (s *Store) Set(key Key, value any) {
	s.tree.ReplaceOrInsert(&entry{key: key, value: value})
}

// Get returns the value at key, if present.
func (s *Store) Get(key Key) (any, bool) {
	item := s.tree.Get(&entry{key: key})
	if item == nil {
		return nil, false
	}
	return item.(*entry).value, true
}

// Delete removes key, returning the value that was stored there, if any.
func (s *Store) Delete(key Key) (any, bool) {
	item := s.tree.Delete(&entry{key: key})
	if item == nil {
		return nil, false
	}
	return item.(*entry).value, true
}

// Len reports the number of entries in the store.
func (s *Store) Len() int { return s.tree.Len() }

// Ascend calls fn for every entry in ascending key order, stopping early if
// fn returns false.
func (s *Store) Ascend(fn func(key Key, value any) bool) {
	s.tree.Ascend(func(i btree.Item) bool {
		e := i.(*entry)
		return fn(e.key, e.value)
	})
}

// Descend calls fn for every entry in descending key order, stopping early
// if fn returns false.
func (s *Store) Descend(fn func(key Key, value any) bool) {
	s.tree.Descend(func(i btree.Item) bool {
		e := i.(*entry)
		return fn(e.key, e.value)
	})
}

// AscendGreaterOrEqual calls fn for every entry with key >= pivot, in
// ascending order, stopping early if fn returns false.
func (s *Store) AscendGreaterOrEqual(pivot Key, fn func(key Key, value any) bool) {
	s.tree.AscendGreaterOrEqual(&entry{key: pivot}, func(i btree.Item) bool {
		e := i.(*entry)
		return fn(e.key, e.value)
	})
}

// DescendLessOrEqual calls fn for every entry with key <= pivot, in
// descending order, stopping early if fn returns false.
func (s *Store) DescendLessOrEqual(pivot Key, fn func(key Key, value any) bool) {
	s.tree.DescendLessOrEqual(&entry{key: pivot}, func(i btree.Item) bool {
		e := i.(*entry)
		return fn(e.key, e.value)
	})
}

// ScanPrefix calls fn for every entry whose key has prefix as a leading
// subsequence, in ascending order, stopping early if fn returns false.
func (s *Store) ScanPrefix(prefix Key, fn func(key Key, value any) bool) {
	s.tree.AscendGreaterOrEqual(&entry{key: prefix}, func(i btree.Item) bool {
		e := i.(*entry)
		if !e.key.hasPrefix(prefix) {
			return false
		}
		return fn(e.key, e.value)
	})
}
