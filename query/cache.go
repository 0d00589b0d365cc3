package query

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// ASTCache is a TTL-backed cache from a desiredQueriesPatches hash to its
// AST, backing the `ttl?` field of spec.md §6's desiredQueriesPatches
// entries: a query with no explicit TTL falls back to defaultTTL, and an
// entry silently expires out of the cache rather than needing an explicit
// eviction message from the server.
type ASTCache struct {
	c *gocache.Cache
}

// NewASTCache constructs an ASTCache. defaultTTL applies to Put calls with
// ttl<=0; cleanupInterval controls how often go-cache sweeps expired
// entries.
func NewASTCache(defaultTTL, cleanupInterval time.Duration) *ASTCache {
	return &ASTCache{c: gocache.New(defaultTTL, cleanupInterval)}
}

// Put caches ast under hash. A non-positive ttl uses the cache's default
// expiration; a negative-of-NoExpiration sentinel is not exposed here,
// matching spec.md §6 where every desiredQueriesPatches entry is expected
// to eventually expire or be explicitly deleted.
func (c *ASTCache) Put(hash string, ast *AST, ttl time.Duration) {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	c.c.Set(hash, ast, ttl)
}

// Get returns the cached AST for hash, if present and not expired.
func (c *ASTCache) Get(hash string) (*AST, bool) {
	v, ok := c.c.Get(hash)
	if !ok {
		return nil, false
	}
	return v.(*AST), true
}

// Delete evicts hash.
func (c *ASTCache) Delete(hash string) { c.c.Delete(hash) }

// Clear evicts every cached AST, used when a desiredQueriesPatches `clear`
// op is observed.
func (c *ASTCache) Clear() { c.c.Flush() }
