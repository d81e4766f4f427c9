package cache

import (
	"reflect"
	"regexp"
	"sync"
	"testing"
	"time"
)

// fakeClock makes staleness deterministic.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestStore_GetRespectsStaleTime(t *testing.T) {
	clock := newFakeClock()
	store := NewWithClock(clock.Now)

	store.Set("k", "value", 5*time.Second)

	got, ok := store.Get("k")
	if !ok || got != "value" {
		t.Fatalf("Get() = %v, %v, want value, true", got, ok)
	}

	clock.Advance(4999 * time.Millisecond)
	if _, ok := store.Get("k"); !ok {
		t.Fatal("entry should still be fresh just inside the stale window")
	}

	clock.Advance(time.Millisecond)
	if _, ok := store.Get("k"); ok {
		t.Fatal("entry should be stale once the window elapses")
	}
	if store.Len() != 0 {
		t.Fatalf("stale entry should be evicted by the read, Len() = %d", store.Len())
	}
}

func TestStore_PerEntryStaleTimes(t *testing.T) {
	clock := newFakeClock()
	store := NewWithClock(clock.Now)

	store.Set("short", 1, time.Second)
	store.Set("long", 2, time.Minute)

	clock.Advance(2 * time.Second)

	if _, ok := store.Get("short"); ok {
		t.Fatal("short entry should have expired")
	}
	if _, ok := store.Get("long"); !ok {
		t.Fatal("long entry should still be fresh")
	}
}

func TestStore_InvalidatePattern(t *testing.T) {
	store := New()
	store.Set("q::products::t1::f{}", "a", time.Minute)
	store.Set("q::products::t1::f{status<eq>active}", "b", time.Minute)
	store.Set("q::products_archive::t1::f{}", "c", time.Minute)
	store.Set("q::orders::t1::f{}", "d", time.Minute)

	removed := store.Invalidate(regexp.MustCompile(`^q::products::`))
	if removed != 2 {
		t.Fatalf("Invalidate() removed %d entries, want 2", removed)
	}

	if _, ok := store.Get("q::orders::t1::f{}"); !ok {
		t.Fatal("other table's entry should survive")
	}
	if _, ok := store.Get("q::products_archive::t1::f{}"); !ok {
		t.Fatal("prefix-similar table should survive an anchored pattern")
	}
	if _, ok := store.Get("q::products::t1::f{}"); ok {
		t.Fatal("matching entry should be gone")
	}
}

func TestStore_InvalidateNilClearsEverything(t *testing.T) {
	store := New()
	store.Set("a", 1, time.Minute)
	store.Set("b", 2, time.Minute)

	if removed := store.Invalidate(nil); removed != 2 {
		t.Fatalf("Invalidate(nil) removed %d, want 2", removed)
	}
	if store.Len() != 0 {
		t.Fatalf("Len() = %d after full invalidation, want 0", store.Len())
	}
}

func TestStore_UpdatePreservesStoredAt(t *testing.T) {
	clock := newFakeClock()
	store := NewWithClock(clock.Now)

	store.Set("k", "old", 10*time.Second)
	clock.Advance(6 * time.Second)

	if ok := store.Update("k", func(any) any { return "new" }); !ok {
		t.Fatal("Update() should find the entry")
	}

	got, ok := store.Get("k")
	if !ok || got != "new" {
		t.Fatalf("Get() = %v, %v, want new, true", got, ok)
	}

	// The update must not have reset the freshness window.
	clock.Advance(4 * time.Second)
	if _, ok := store.Get("k"); ok {
		t.Fatal("entry should expire relative to the original StoredAt")
	}
}

func TestStore_UpdateMissingKey(t *testing.T) {
	store := New()
	if ok := store.Update("missing", func(d any) any { return d }); ok {
		t.Fatal("Update() on a missing key should report false")
	}
}

func TestStore_SnapshotRestoreIsExact(t *testing.T) {
	clock := newFakeClock()
	store := NewWithClock(clock.Now)

	store.Set("q::products::t1::a", []string{"r1"}, time.Minute)
	clock.Advance(time.Second)
	store.Set("q::products::t1::b", []string{"r2"}, time.Hour)
	store.Set("q::orders::t1::a", []string{"o1"}, time.Minute)

	pattern := regexp.MustCompile(`^q::products::`)
	before := store.Snapshot(pattern)

	store.Update("q::products::t1::a", func(any) any { return []string{"r1", "optimistic"} })
	store.Update("q::products::t1::b", func(any) any { return []string{} })

	store.Restore(before)

	after := store.Snapshot(pattern)
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("restored snapshot differs:\nbefore: %#v\nafter:  %#v", before, after)
	}
}

func TestStore_Clear(t *testing.T) {
	store := New()
	store.Set("a", 1, time.Minute)
	store.Clear()
	if store.Len() != 0 {
		t.Fatalf("Len() = %d after Clear, want 0", store.Len())
	}
}

func TestStore_KeysFiltersByPattern(t *testing.T) {
	store := New()
	store.Set("q::products::t1", 1, time.Minute)
	store.Set("q::orders::t1", 2, time.Minute)

	keys := store.Keys(regexp.MustCompile(`^q::products::`))
	if len(keys) != 1 || keys[0] != "q::products::t1" {
		t.Fatalf("Keys() = %v, want [q::products::t1]", keys)
	}
	if all := store.Keys(nil); len(all) != 2 {
		t.Fatalf("Keys(nil) = %v, want both keys", all)
	}
}
