package datasync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-tenant-sync/cache"
	"github.com/goliatone/go-tenant-sync/query"
	"github.com/goliatone/go-tenant-sync/remote"
)

// SubscriptionState is the lifecycle of one logical change-feed channel:
// Connecting -> Active -> (Reconnecting <-> Active)* -> Closed. Closed is
// terminal.
type SubscriptionState int32

const (
	StateConnecting SubscriptionState = iota
	StateActive
	StateReconnecting
	StateClosed
)

func (s SubscriptionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Subscription is one logical channel to a table's change-feed. Multiple
// components interested in the same (table, kind) share a single
// Subscription; the channel closes when the last of them unsubscribes.
type Subscription struct {
	id     uuid.UUID
	table  query.TableID
	kind   remote.EventKind
	tenant query.TenantID

	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}

	// refs is guarded by the manager's mutex.
	refs int
}

// ID returns the subscription's opaque handle.
func (s *Subscription) ID() uuid.UUID { return s.id }

// Table returns the subscribed table.
func (s *Subscription) Table() query.TableID { return s.table }

// Kind returns the event filter.
func (s *Subscription) Kind() remote.EventKind { return s.kind }

// State returns the current lifecycle state.
func (s *Subscription) State() SubscriptionState {
	return SubscriptionState(s.state.Load())
}

// Done is closed once the subscription reaches Closed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) setState(st SubscriptionState) {
	// Closed is terminal; never transition out of it.
	for {
		cur := s.state.Load()
		if SubscriptionState(cur) == StateClosed {
			return
		}
		if s.state.CompareAndSwap(cur, int32(st)) {
			return
		}
	}
}

type channelKey struct {
	table query.TableID
	kind  remote.EventKind
}

// SubscriptionManager maintains one logical channel per (table, event kind),
// turns change events into cache invalidations, and publishes them on the bus
// so active views can eagerly refetch. Events tagged with a foreign tenant are
// discarded before they touch the cache.
type SubscriptionManager struct {
	store  *cache.Store
	feed   remote.Feed
	scope  query.Scope
	bus    *Bus
	logger *slog.Logger

	baseDelay time.Duration

	mu       sync.Mutex
	channels map[channelKey]*Subscription
}

// NewSubscriptionManager wires the change-feed side. A nil logger falls back
// to slog.Default.
func NewSubscriptionManager(cfg Config, store *cache.Store, feed remote.Feed, scope query.Scope, bus *Bus, logger *slog.Logger) *SubscriptionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionManager{
		store:     store,
		feed:      feed,
		scope:     scope,
		bus:       bus,
		logger:    logger,
		baseDelay: cfg.BaseDelay,
		channels:  make(map[channelKey]*Subscription),
	}
}

// Subscribe registers interest in a table's changes. Repeated subscriptions
// for the same (table, kind) share one channel and are reference counted.
func (m *SubscriptionManager) Subscribe(table query.TableID, kind remote.EventKind) (*Subscription, error) {
	if _, ok := m.scope.Registry().Lookup(table); !ok {
		return nil, remote.NewError(remote.KindValidation, fmt.Sprintf("table %q is not registered", table))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := channelKey{table: table, kind: kind}
	if sub, ok := m.channels[key]; ok {
		sub.refs++
		return sub, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{
		id:     uuid.New(),
		table:  table,
		kind:   kind,
		tenant: m.scope.Tenant(),
		cancel: cancel,
		done:   make(chan struct{}),
		refs:   1,
	}
	sub.state.Store(int32(StateConnecting))
	m.channels[key] = sub

	go m.run(ctx, sub)
	return sub, nil
}

// Unsubscribe releases one reference. When the last interested component lets
// go, the channel is closed for good.
func (m *SubscriptionManager) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	m.mu.Lock()
	key := channelKey{table: sub.table, kind: sub.kind}
	if cur, ok := m.channels[key]; ok && cur == sub {
		sub.refs--
		if sub.refs > 0 {
			m.mu.Unlock()
			return
		}
		delete(m.channels, key)
	}
	m.mu.Unlock()

	sub.cancel()
}

// Close tears down every channel. Used on sign-out and tenant switch.
func (m *SubscriptionManager) Close() {
	m.mu.Lock()
	subs := make([]*Subscription, 0, len(m.channels))
	for _, sub := range m.channels {
		subs = append(subs, sub)
	}
	m.channels = make(map[channelKey]*Subscription)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
	}
}

// run owns one channel's lifecycle: establish, pump events, and re-establish
// with linear backoff on transport loss.
func (m *SubscriptionManager) run(ctx context.Context, sub *Subscription) {
	defer func() {
		sub.setStateClosed()
		close(sub.done)
	}()

	attempt := 0
	wasActive := false
	for ctx.Err() == nil {
		transport, err := m.feed.Subscribe(ctx, sub.table, sub.kind)
		if err != nil {
			sub.setState(StateReconnecting)
			attempt++
			m.logger.Warn("change-feed subscribe failed",
				"table", sub.table, "attempt", attempt, "error", err)
			if !m.backoff(ctx, attempt) {
				return
			}
			continue
		}

		sub.setState(StateActive)
		attempt = 0

		if wasActive {
			// Events may have been missed while the transport was down, so
			// everything cached for the table is suspect.
			m.store.Invalidate(query.KeyPattern(sub.table))
			m.bus.Publish(Invalidation{Table: sub.table, Tenant: sub.tenant, Kind: sub.kind})
		}
		wasActive = true

		if !m.pump(ctx, sub, transport) {
			return
		}

		sub.setState(StateReconnecting)
		attempt++
		if !m.backoff(ctx, attempt) {
			return
		}
	}
}

// pump drains one transport channel. Returns false when the subscription is
// shutting down, true when the transport was lost and should be re-opened.
func (m *SubscriptionManager) pump(ctx context.Context, sub *Subscription, transport remote.FeedSubscription) bool {
	defer transport.Close()

	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-transport.Events():
			if !ok {
				return true
			}
			m.handle(sub, ev)
		case err, ok := <-transport.Errs():
			if !ok {
				return true
			}
			if err != nil {
				m.logger.Warn("change-feed transport error",
					"table", sub.table, "error", err)
				return true
			}
		}
	}
}

func (m *SubscriptionManager) handle(sub *Subscription, ev remote.ChangeEvent) {
	if !sub.kind.Matches(ev.Kind) {
		return
	}
	if !m.scope.Registry().Global(ev.Table) && ev.Tenant != sub.tenant {
		// Foreign-tenant event. The feed should never deliver one, but
		// the cache must not be invalidated on another tenant's say-so.
		return
	}

	m.store.Invalidate(query.KeyPattern(ev.Table))
	m.bus.Publish(Invalidation{Table: ev.Table, Tenant: ev.Tenant, Kind: ev.Kind})
}

func (m *SubscriptionManager) backoff(ctx context.Context, attempt int) bool {
	t := time.NewTimer(m.baseDelay * time.Duration(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (s *Subscription) setStateClosed() {
	s.state.Store(int32(StateClosed))
}
