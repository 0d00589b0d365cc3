package query

import (
	"fmt"
	"time"
)

func secondsToDuration(s int64) time.Duration { return time.Duration(s) * time.Second }

// QueriesAdapter implements poke.QueriesTarget over an ASTCache, backing
// the desiredQueriesPatches/gotQueriesPatch op families of spec.md §6: a
// `put` caches the AST under its hash (honoring a per-entry ttl), a `del`
// evicts one hash, and a `clear` flushes the whole cache.
type QueriesAdapter struct {
	cache *ASTCache
}

// NewQueriesAdapter wraps cache.
func NewQueriesAdapter(cache *ASTCache) *QueriesAdapter {
	return &QueriesAdapter{cache: cache}
}

// Put implements poke.QueriesTarget. ast must be a *query.AST; the poke
// merger passes through whatever its caller decoded the wire AST into,
// which for this engine is always a *AST.
func (a *QueriesAdapter) Put(hash string, ast any, ttlSeconds int64) error {
	parsed, ok := ast.(*AST)
	if !ok {
		return fmt.Errorf("query: queries patch for hash %q is not a *query.AST (got %T)", hash, ast)
	}
	var ttl int64
	if ttlSeconds > 0 {
		ttl = ttlSeconds
	}
	a.cache.Put(hash, parsed, secondsToDuration(ttl))
	return nil
}

// Del implements poke.QueriesTarget.
func (a *QueriesAdapter) Del(hash string) error {
	a.cache.Delete(hash)
	return nil
}

// Clear implements poke.QueriesTarget.
func (a *QueriesAdapter) Clear() error {
	a.cache.Clear()
	return nil
}
