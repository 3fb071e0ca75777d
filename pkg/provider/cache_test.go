package provider

import (
	"testing"
	"time"
)

func TestCacheStale(t *testing.T) {
	c := NewCache(time.Minute)
	if !c.Stale() {
		t.Error("empty cache should be stale")
	}

	c.ReplaceAll([]Record{{ID: "1", Type: "A", Name: "x.example.com"}})
	if c.Stale() {
		t.Error("freshly filled cache should not be stale")
	}

	c.ReplaceAll(nil)
	if !c.Stale() {
		t.Error("cache refreshed to empty should still be stale")
	}
}

func TestCacheFindNormalizesNames(t *testing.T) {
	c := NewCache(0)
	c.ReplaceAll([]Record{
		{ID: "1", Type: "A", Name: "App.Example.COM."},
		{ID: "2", Type: "CNAME", Name: "www.example.com"},
	})

	rec, ok := c.Find("A", "app.example.com")
	if !ok || rec.ID != "1" {
		t.Fatalf("Find(A, app.example.com) = %+v, %v", rec, ok)
	}

	if _, ok := c.Find("AAAA", "app.example.com"); ok {
		t.Error("lookup must match on type, not name alone")
	}
}

func TestCacheUpsertReplacesByTypeAndName(t *testing.T) {
	c := NewCache(0)
	c.ReplaceAll([]Record{{ID: "1", Type: "A", Name: "x.example.com", Content: "203.0.113.5"}})

	c.Upsert(Record{ID: "1", Type: "A", Name: "X.example.com.", Content: "203.0.113.9"})
	if c.Len() != 1 {
		t.Fatalf("upsert of same record grew cache to %d entries", c.Len())
	}
	rec, _ := c.Find("A", "x.example.com")
	if rec.Content != "203.0.113.9" {
		t.Errorf("content = %q, want updated content", rec.Content)
	}

	c.Upsert(Record{ID: "2", Type: "AAAA", Name: "x.example.com", Content: "2001:db8::1"})
	if c.Len() != 2 {
		t.Errorf("upsert of new type should append, got %d entries", c.Len())
	}
}

func TestCacheRemove(t *testing.T) {
	c := NewCache(0)
	c.ReplaceAll([]Record{
		{ID: "1", Type: "A", Name: "x.example.com"},
		{ID: "2", Type: "A", Name: "y.example.com"},
	})

	c.Remove("A", "X.EXAMPLE.COM.")
	if c.Len() != 1 {
		t.Fatalf("Len = %d after remove, want 1", c.Len())
	}
	if _, ok := c.Find("A", "x.example.com"); ok {
		t.Error("removed record still found")
	}

	// Removing a missing record is a no-op.
	c.Remove("A", "x.example.com")
	if c.Len() != 1 {
		t.Errorf("Len = %d after repeated remove, want 1", c.Len())
	}
}

func TestCacheSnapshotIsACopy(t *testing.T) {
	c := NewCache(0)
	c.ReplaceAll([]Record{{ID: "1", Type: "A", Name: "x.example.com", Content: "203.0.113.5"}})

	snap := c.Snapshot()
	snap[0].Content = "mutated"

	rec, _ := c.Find("A", "x.example.com")
	if rec.Content != "203.0.113.5" {
		t.Error("mutating a snapshot must not affect the cache")
	}
}
