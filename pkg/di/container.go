// Package di owns construction and session lifecycle of the sync layer. The
// cache is an explicitly constructed, dependency-injected instance owned by
// the application's root context, not a module-level singleton: it is created
// at session start and cleared on tenant switch or sign-out so no entry can
// leak across tenants.
package di

import (
	"log/slog"
	"sync"

	"github.com/goliatone/go-tenant-sync/cache"
	"github.com/goliatone/go-tenant-sync/datasync"
	"github.com/goliatone/go-tenant-sync/query"
	"github.com/goliatone/go-tenant-sync/remote"
)

// Container wires the sync components for one application session.
type Container struct {
	cfg      datasync.Config
	registry *query.Registry
	rem      remote.Store
	feed     remote.Feed
	logger   *slog.Logger

	mu            sync.Mutex
	store         *cache.Store
	bus           *datasync.Bus
	paginator     datasync.Paginator
	scope         query.Scope
	executor      *datasync.Executor
	mutations     *datasync.Manager
	subscriptions *datasync.SubscriptionManager
}

// New builds a container for the given tenant. The configuration is validated
// up front; components read their defaults from it rather than hardcoding.
func New(cfg datasync.Config, registry *query.Registry, rem remote.Store, feed remote.Feed, tenant query.TenantID, logger *slog.Logger) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Container{
		cfg:       cfg,
		registry:  registry,
		rem:       rem,
		feed:      feed,
		logger:    logger,
		store:     cache.New(),
		bus:       datasync.NewBus(),
		paginator: datasync.NewPaginator(cfg.DefaultPageSize),
	}
	c.bind(tenant)
	return c, nil
}

// bind rebuilds the scope-bound components. SwitchTenant locks around it;
// first construction has no other users yet.
func (c *Container) bind(tenant query.TenantID) {
	c.scope = query.NewScope(tenant, c.registry)
	c.executor = datasync.NewExecutor(c.cfg, c.store, c.rem, c.scope)
	c.mutations = datasync.NewManager(c.cfg, c.store, c.rem, c.scope, c.logger)
	c.subscriptions = datasync.NewSubscriptionManager(c.cfg, c.store, c.feed, c.scope, c.bus, c.logger)
}

// Executor returns the read path.
func (c *Container) Executor() *datasync.Executor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.executor
}

// Mutations returns the write path.
func (c *Container) Mutations() *datasync.Manager {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mutations
}

// Subscriptions returns the change-feed side.
func (c *Container) Subscriptions() *datasync.SubscriptionManager {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscriptions
}

// Store returns the session cache.
func (c *Container) Store() *cache.Store { return c.store }

// Bus returns the invalidation bus.
func (c *Container) Bus() *datasync.Bus { return c.bus }

// Paginator returns the shared page-window calculator.
func (c *Container) Paginator() datasync.Paginator { return c.paginator }

// Config returns a copy of the configuration the container was built with.
func (c *Container) Config() datasync.Config { return c.cfg }

// Tenant returns the currently bound tenant.
func (c *Container) Tenant() query.TenantID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scope.Tenant()
}

// SwitchTenant tears down the session state and rebinds every scope-dependent
// component to the new tenant. The cache is cleared wholesale: stale entries
// must not survive into another tenant's session.
func (c *Container) SwitchTenant(tenant query.TenantID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.subscriptions.Close()
	c.store.Clear()
	c.bind(tenant)
}

// SignOut closes all subscriptions and clears the cache.
func (c *Container) SignOut() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.subscriptions.Close()
	c.store.Clear()
}
