// Package datasync is the client-side data synchronization layer: it mediates
// every read and write between UI components and the remote multi-tenant
// store.
//
// # Read path
//
// Executor.Fetch resolves a tenant-scoped descriptor against the cache and,
// on a miss, issues the remote query through the retry policy before
// populating the cache:
//
//	res, err := exec.Fetch(ctx, query.New("products").
//		Where("status", query.OpEq, "active").
//		OrderBy("name", query.Asc).
//		Limit(25),
//		datasync.FetchOptions{})
//
// Repeated fetches for the same descriptor inside the stale window are served
// from cache without a remote call. Concurrent fetches for the same key
// collapse into a single flight; a forced refetch supersedes the previous
// flight so a slow stale response can never overwrite a newer one.
//
// # Write path
//
// Manager.Mutate applies the change optimistically to every cached result for
// the table, commits it remotely, and either confirms (server record replaces
// the optimistic one, table pattern invalidated) or rolls the cache back to a
// snapshot taken before the edit:
//
//	rec, err := mgr.Mutate(ctx, remote.EventUpdate, "products", id,
//		remote.Record{"stock_quantity": 7})
//
// Tables registered with a quantity field additionally record a movement row
// (delta = new - old) into their audit table after the primary commit; that
// secondary write is fire-and-forget.
//
// # Change feed
//
// SubscriptionManager keeps one logical channel per (table, event kind),
// re-establishing it with linear backoff on transport loss. Incoming events
// from the subscriber's own tenant invalidate the table's cache pattern and
// fan out on the Bus; foreign-tenant events are discarded.
//
// # Concurrency model
//
// The cache is shared and cache writes are last-write-wins. Ordering between
// racing fetches is enforced by the executor's single-flight and supersede
// rules, not by locking in the cache. Cancellation is cooperative: a caller
// abandoning a fetch detaches from the flight, and a superseded flight simply
// never writes its result back.
package datasync
