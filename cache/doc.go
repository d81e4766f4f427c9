// Package cache implements the in-process query cache that backs the sync
// layer.
//
// # Overview
//
// The Store is a key → entry map with per-entry stale times. An entry is
// fresh iff now - StoredAt < StaleTime; staleness is evaluated lazily on
// read, and stale entries are evicted by the read that discovers them rather
// than by a background sweep.
//
// Keys are the serialized form of query descriptors (see the query package),
// which lets one table's every cached variant (any combination of filters,
// ordering and pagination) be invalidated with a single anchored pattern:
//
//	store.Invalidate(query.KeyPattern("products"))
//
// A nil pattern clears the whole store, which is also what happens on
// sign-out or tenant switch so no entry can leak across tenants.
//
// # Snapshots and optimistic rollback
//
// Optimistic mutations capture a Snapshot of the affected entries before
// editing them. Edits go through Update, which swaps the entry's Data value
// wholesale instead of mutating it, so the snapshot keeps referencing the
// untouched original. Rolling back is then a verbatim Restore: the cache ends
// up byte-for-byte identical to its pre-mutation state, StoredAt included.
//
// # Concurrency
//
// The store is safe for concurrent use; the entry map is a
// github.com/puzpuzpuz/xsync MapOf. Cache writes are last-write-wins, with
// ordering between racing fetches enforced above this package by the
// executor's single-flight rule.
package cache
