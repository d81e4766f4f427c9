package datasync

import (
	"sync"

	"github.com/goliatone/go-tenant-sync/query"
	"github.com/goliatone/go-tenant-sync/remote"
)

// Invalidation announces that a table's cache entries were dropped because of
// a remote change. Components holding live views subscribe to the bus and
// refetch eagerly instead of waiting for their next read.
type Invalidation struct {
	Table  query.TableID
	Tenant query.TenantID
	Kind   remote.EventKind
}

// Bus is the internal invalidation fan-out between the subscription manager
// and whoever wants to react to remote changes. It decouples the transport
// channel API from cache-invalidation logic; handlers are called
// synchronously in Publish order.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(Invalidation)
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(Invalidation))}
}

// Subscribe registers a handler and returns its cancel function.
func (b *Bus) Subscribe(fn func(Invalidation)) (cancel func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish delivers the invalidation to every registered handler.
func (b *Bus) Publish(inv Invalidation) {
	b.mu.RLock()
	handlers := make([]func(Invalidation), 0, len(b.subs))
	for _, fn := range b.subs {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(inv)
	}
}
