package datasync

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/goliatone/go-tenant-sync/cache"
	"github.com/goliatone/go-tenant-sync/query"
	"github.com/goliatone/go-tenant-sync/remote"
	"github.com/goliatone/go-tenant-sync/retry"
)

// FetchOptions tune one Fetch call.
type FetchOptions struct {
	// StaleTime overrides the config's default freshness window when > 0.
	StaleTime time.Duration

	// ForceRefetch skips the cache read and supersedes any in-flight fetch
	// for the same key.
	ForceRefetch bool
}

// flight is one outstanding remote fetch for a cache key. Its context is
// detached from any single caller so that one caller unmounting does not kill
// a fetch other callers are waiting on; only superseding cancels it.
type flight struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Executor is the central read path: cache lookup, tenant scoping, remote
// fetch through the retry policy, and cache population. Concurrent fetches
// for the same key collapse into one remote call; a forced refetch cancels
// the previous flight so only the newest one may write back.
type Executor struct {
	cfg    Config
	store  *cache.Store
	rem    remote.Store
	scope  query.Scope
	policy retry.Policy

	group    singleflight.Group
	mu       sync.Mutex
	inflight map[string]*flight
}

// NewExecutor wires the read path.
func NewExecutor(cfg Config, store *cache.Store, rem remote.Store, scope query.Scope) *Executor {
	return &Executor{
		cfg:      cfg,
		store:    store,
		rem:      rem,
		scope:    scope,
		policy:   cfg.retryPolicy(),
		inflight: make(map[string]*flight),
	}
}

// Fetch resolves a descriptor to a result, serving from cache when fresh.
// Errors from the remote never touch the cache, so the last known good data
// (if any) survives a failed refresh.
func (e *Executor) Fetch(ctx context.Context, d query.Descriptor, opts FetchOptions) (remote.Result, error) {
	scoped, err := e.scope.Apply(d)
	if err != nil {
		return remote.Result{}, remote.WrapError(remote.KindValidation, "invalid descriptor", err)
	}
	key := scoped.CacheKey()

	staleTime := opts.StaleTime
	if staleTime <= 0 {
		staleTime = e.cfg.DefaultStaleTime
	}

	if !opts.ForceRefetch {
		if v, ok := e.store.Get(key); ok {
			return v.(remote.Result).Clone(), nil
		}
	}

	fl := e.acquireFlight(key, opts.ForceRefetch)

	ch := e.group.DoChan(key, func() (any, error) {
		defer e.releaseFlight(key, fl)

		res, ferr := retry.Do(fl.ctx, e.policy, func(ctx context.Context) (remote.Result, error) {
			return e.rem.Query(ctx, scoped)
		})
		if ferr != nil {
			return nil, ferr
		}
		e.commitResult(key, fl, res, staleTime)
		return res, nil
	})

	select {
	case <-ctx.Done():
		// Cooperative cancellation: detach without acting on the result.
		// The flight keeps running for any other caller joined to it.
		return remote.Result{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			// Joined a flight that got superseded mid-air: the newest
			// fetch owns the key now, so read again through it.
			if errors.Is(r.Err, context.Canceled) && ctx.Err() == nil && !opts.ForceRefetch {
				return e.Fetch(ctx, d, opts)
			}
			return remote.Result{}, r.Err
		}
		return r.Val.(remote.Result).Clone(), nil
	}
}

// acquireFlight joins the in-flight fetch for key, or supersedes it when
// forcing: the previous flight is cancelled and forgotten so the new call
// becomes the only one allowed to populate the cache.
func (e *Executor) acquireFlight(key string, force bool) *flight {
	e.mu.Lock()
	defer e.mu.Unlock()

	if fl, ok := e.inflight[key]; ok {
		if !force {
			return fl
		}
		fl.cancel()
		e.group.Forget(key)
	}

	fctx, cancel := context.WithCancel(context.Background())
	fl := &flight{ctx: fctx, cancel: cancel}
	e.inflight[key] = fl
	return fl
}

// commitResult writes a completed fetch back to the cache unless the flight
// was superseded. The ownership check and the write hold the same mutex
// acquireFlight supersedes under, so a supersede cannot slip in between them
// and be overwritten by the older result.
func (e *Executor) commitResult(key string, fl *flight, res remote.Result, staleTime time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inflight[key] == fl {
		e.store.Set(key, res, staleTime)
	}
}

func (e *Executor) releaseFlight(key string, fl *flight) {
	e.mu.Lock()
	if cur, ok := e.inflight[key]; ok && cur == fl {
		delete(e.inflight, key)
	}
	e.mu.Unlock()
	fl.cancel()
}
