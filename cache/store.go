package cache

import (
	"regexp"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// Entry is one cached value with its freshness envelope. Freshness is a pure
// function of time: an entry is fresh iff now - StoredAt < StaleTime. Entries
// are never mutated in place; Update swaps the Data value wholesale so that
// snapshots taken earlier keep referring to the original value.
type Entry struct {
	Data      any
	StoredAt  time.Time
	StaleTime time.Duration
}

// Fresh reports whether the entry is still trusted at the given instant.
func (e Entry) Fresh(now time.Time) bool {
	return now.Sub(e.StoredAt) < e.StaleTime
}

// Snapshot is an arena of pre-mutation entry copies, keyed by cache key.
// Restoring a snapshot reinstates the captured entries verbatim, StoredAt
// included, so a rollback leaves the cache indistinguishable from its
// pre-mutation state.
type Snapshot map[string]Entry

// Store is the process-wide query cache. Staleness is checked lazily on read;
// there is no background sweep. The store owns its entries exclusively: other
// components hold keys and go through the accessors.
type Store struct {
	entries *xsync.MapOf[string, Entry]
	now     func() time.Time
}

// New creates an empty store using wall-clock time.
func New() *Store {
	return NewWithClock(time.Now)
}

// NewWithClock creates a store with an injected clock. Tests use this to make
// staleness deterministic.
func NewWithClock(now func() time.Time) *Store {
	return &Store{
		entries: xsync.NewMapOf[string, Entry](),
		now:     now,
	}
}

// Get returns the cached value for key if it is still fresh. A stale entry is
// evicted on the spot and reported as absent.
func (s *Store) Get(key string) (any, bool) {
	e, ok := s.entries.Load(key)
	if !ok {
		return nil, false
	}
	if !e.Fresh(s.now()) {
		s.entries.Delete(key)
		return nil, false
	}
	return e.Data, true
}

// Set stores data under key with the given freshness window.
func (s *Store) Set(key string, data any, staleTime time.Duration) {
	s.entries.Store(key, Entry{
		Data:      data,
		StoredAt:  s.now(),
		StaleTime: staleTime,
	})
}

// Update replaces the data of an existing entry while preserving its StoredAt
// and StaleTime, keeping staleness a pure function of time. The transform
// receives the current value and returns the replacement. Reports whether the
// key was present.
func (s *Store) Update(key string, fn func(data any) any) bool {
	e, ok := s.entries.Load(key)
	if !ok {
		return false
	}
	e.Data = fn(e.Data)
	s.entries.Store(key, e)
	return true
}

// Invalidate removes every entry whose key matches pattern. A nil pattern
// clears the whole store. Returns the number of entries removed.
func (s *Store) Invalidate(pattern *regexp.Regexp) int {
	if pattern == nil {
		n := s.entries.Size()
		s.entries.Clear()
		return n
	}
	removed := 0
	s.entries.Range(func(key string, _ Entry) bool {
		if pattern.MatchString(key) {
			s.entries.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

// Clear drops everything. Called on sign-out and tenant switch so no stale
// entry can leak across tenants.
func (s *Store) Clear() {
	s.entries.Clear()
}

// Len returns the number of entries currently held, fresh or not.
func (s *Store) Len() int {
	return s.entries.Size()
}

// Keys returns the keys matching pattern (all keys when pattern is nil).
func (s *Store) Keys(pattern *regexp.Regexp) []string {
	var keys []string
	s.entries.Range(func(key string, _ Entry) bool {
		if pattern == nil || pattern.MatchString(key) {
			keys = append(keys, key)
		}
		return true
	})
	return keys
}

// Snapshot captures the entries matching pattern. Combined with the
// copy-on-write contract of Update, the captured entries are immune to later
// optimistic edits and can be restored verbatim.
func (s *Store) Snapshot(pattern *regexp.Regexp) Snapshot {
	snap := make(Snapshot)
	s.entries.Range(func(key string, e Entry) bool {
		if pattern == nil || pattern.MatchString(key) {
			snap[key] = e
		}
		return true
	})
	return snap
}

// Restore reinstates every entry in the snapshot, overwriting whatever the
// store holds for those keys now.
func (s *Store) Restore(snap Snapshot) {
	for key, e := range snap {
		s.entries.Store(key, e)
	}
}
