package remote

import (
	"context"

	"github.com/goliatone/go-tenant-sync/query"
)

// EventKind selects which change kinds a feed subscription receives.
type EventKind int

const (
	EventAny EventKind = iota
	EventInsert
	EventUpdate
	EventDelete
)

func (k EventKind) String() string {
	switch k {
	case EventInsert:
		return "insert"
	case EventUpdate:
		return "update"
	case EventDelete:
		return "delete"
	default:
		return "any"
	}
}

// Matches reports whether a subscription filter of kind k accepts an event of
// kind ev.
func (k EventKind) Matches(ev EventKind) bool {
	return k == EventAny || k == ev
}

// ChangeEvent is one push notification from the change-feed. Every event is
// tagged with the tenant owning the changed record.
type ChangeEvent struct {
	Table  query.TableID  `json:"table"`
	Tenant query.TenantID `json:"tenant"`
	Kind   EventKind      `json:"kind"`
	New    Record         `json:"new,omitempty"`
	Old    Record         `json:"old,omitempty"`
}

// FeedSubscription is one open channel to the change-feed transport. Events
// and Errs are closed when the transport drops; Close releases the channel.
type FeedSubscription interface {
	Events() <-chan ChangeEvent
	Errs() <-chan error
	Close() error
}

// Feed is the remote change-feed: per-table, per-event-kind subscribe.
// Transport loss surfaces on Errs (or by closing Events); re-establishment is
// the subscriber's concern.
type Feed interface {
	Subscribe(ctx context.Context, table query.TableID, kind EventKind) (FeedSubscription, error)
}
