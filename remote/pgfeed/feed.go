// Package pgfeed delivers the remote change-feed over Postgres
// LISTEN/NOTIFY. A trigger on each tracked table is expected to NOTIFY the
// shared channel with a JSON ChangeEvent payload; this side only listens and
// filters.
package pgfeed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"github.com/goliatone/go-tenant-sync/query"
	"github.com/goliatone/go-tenant-sync/remote"
)

// DefaultChannel is the NOTIFY channel change events arrive on.
const DefaultChannel = "changefeed"

// Feed is a LISTEN/NOTIFY-backed remote.Feed. Each Subscribe opens its own
// listener connection; pq handles reconnecting the underlying socket between
// MinReconnect and MaxReconnect.
type Feed struct {
	conninfo     string
	channel      string
	minReconnect time.Duration
	maxReconnect time.Duration
}

// Option configures a Feed.
type Option func(*Feed)

// WithChannel overrides the NOTIFY channel name.
func WithChannel(name string) Option {
	return func(f *Feed) { f.channel = name }
}

// WithReconnect overrides pq's reconnect interval bounds.
func WithReconnect(min, max time.Duration) Option {
	return func(f *Feed) {
		f.minReconnect = min
		f.maxReconnect = max
	}
}

// New creates a feed for the given connection string.
func New(conninfo string, opts ...Option) *Feed {
	f := &Feed{
		conninfo:     conninfo,
		channel:      DefaultChannel,
		minReconnect: 2 * time.Second,
		maxReconnect: time.Minute,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type subscription struct {
	listener *pq.Listener
	stream   *remote.EventStream
}

func (s *subscription) Events() <-chan remote.ChangeEvent { return s.stream.Events() }
func (s *subscription) Errs() <-chan error                { return s.stream.Errs() }

// Close tears down the subscription once. The pump goroutine may still be
// handling a notification when the listener closes; its sends land on the
// closed stream and are dropped there rather than hitting a closed channel.
func (s *subscription) Close() error {
	if !s.stream.Close() {
		return nil
	}
	return s.listener.Close()
}

// Subscribe implements remote.Feed.
func (f *Feed) Subscribe(ctx context.Context, table query.TableID, kind remote.EventKind) (remote.FeedSubscription, error) {
	listener := pq.NewListener(f.conninfo, f.minReconnect, f.maxReconnect, nil)
	if err := listener.Listen(f.channel); err != nil {
		listener.Close()
		return nil, remote.WrapError(remote.KindNetwork, "listen "+f.channel, err)
	}

	sub := &subscription{listener: listener, stream: remote.NewEventStream(256)}

	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-listener.Notify:
				if !ok {
					return
				}
				if n == nil {
					// pq sends nil after re-establishing the connection.
					// Notifications may have been missed in between, which
					// looks like transport loss to the subscriber: surface
					// it and let the reconnect path invalidate.
					sub.stream.Fail(remote.NewError(remote.KindNetwork,
						"listener reconnected, notifications may have been missed"))
					return
				}
				var ev remote.ChangeEvent
				if err := json.Unmarshal([]byte(n.Extra), &ev); err != nil {
					sub.stream.Fail(remote.WrapError(remote.KindServer, "malformed change event", err))
					continue
				}
				if ev.Table != table || !kind.Matches(ev.Kind) {
					continue
				}
				sub.stream.Send(ev)
			}
		}
	}()

	return sub, nil
}
