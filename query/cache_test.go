package query_test

import (
	"testing"
	"time"

	"github.com/linkerd/ivmsync/query"
)

func TestASTCachePutGetDelete(t *testing.T) {
	c := query.NewASTCache(time.Minute, time.Minute)
	ast := &query.AST{Table: "widgets"}
	c.Put("h1", ast, 0)

	got, ok := c.Get("h1")
	if !ok || got.Table != "widgets" {
		t.Fatalf("got (%v, %v), want the cached ast", got, ok)
	}

	c.Delete("h1")
	if _, ok := c.Get("h1"); ok {
		t.Fatal("expected h1 to be evicted")
	}
}

func TestASTCacheClear(t *testing.T) {
	c := query.NewASTCache(time.Minute, time.Minute)
	c.Put("h1", &query.AST{Table: "a"}, 0)
	c.Put("h2", &query.AST{Table: "b"}, 0)
	c.Clear()
	if _, ok := c.Get("h1"); ok {
		t.Fatal("expected h1 to be gone after Clear")
	}
	if _, ok := c.Get("h2"); ok {
		t.Fatal("expected h2 to be gone after Clear")
	}
}

func TestQueriesAdapterPutRejectsWrongType(t *testing.T) {
	cache := query.NewASTCache(time.Minute, time.Minute)
	adapter := query.NewQueriesAdapter(cache)
	if err := adapter.Put("h1", "not-an-ast", 0); err == nil {
		t.Fatal("expected an error for a non-*AST value")
	}
}

func TestQueriesAdapterPutGetDelClear(t *testing.T) {
	cache := query.NewASTCache(time.Minute, time.Minute)
	adapter := query.NewQueriesAdapter(cache)
	ast := &query.AST{Table: "widgets"}

	if err := adapter.Put("h1", ast, 30); err != nil {
		t.Fatalf("put: %v", err)
	}
	if got, ok := cache.Get("h1"); !ok || got != ast {
		t.Fatalf("expected the cache to hold the same *AST, got (%v, %v)", got, ok)
	}
	if err := adapter.Del("h1"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if _, ok := cache.Get("h1"); ok {
		t.Fatal("expected h1 to be evicted")
	}
	adapter.Put("h2", ast, 0)
	if err := adapter.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok := cache.Get("h2"); ok {
		t.Fatal("expected the cache to be empty after Clear")
	}
}
