// Package natsfeed delivers the remote change-feed over NATS. Each table maps
// to one subject under a common prefix; events are JSON-encoded ChangeEvent
// payloads tagged with the owning tenant.
package natsfeed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/goliatone/go-tenant-sync/query"
	"github.com/goliatone/go-tenant-sync/remote"
)

// DefaultSubjectPrefix is the subject namespace change events travel under.
const DefaultSubjectPrefix = "changefeed"

// Feed is a NATS-backed remote.Feed.
type Feed struct {
	conn   *nats.Conn
	prefix string
}

// Option configures a Feed.
type Option func(*Feed)

// WithSubjectPrefix overrides the subject namespace.
func WithSubjectPrefix(prefix string) Option {
	return func(f *Feed) { f.prefix = prefix }
}

// New wraps an established NATS connection.
func New(conn *nats.Conn, opts ...Option) *Feed {
	f := &Feed{conn: conn, prefix: DefaultSubjectPrefix}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Subject returns the subject a table's events travel on.
func Subject(prefix string, table query.TableID) string {
	return fmt.Sprintf("%s.%s", prefix, table)
}

// Publish sends a change event on the table's subject. Producers (or tests)
// use it; the sync layer itself only subscribes.
func Publish(conn *nats.Conn, prefix string, ev remote.ChangeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return conn.Publish(Subject(prefix, ev.Table), data)
}

type subscription struct {
	nsub   *nats.Subscription
	stream *remote.EventStream
}

func (s *subscription) Events() <-chan remote.ChangeEvent { return s.stream.Events() }
func (s *subscription) Errs() <-chan error                { return s.stream.Errs() }

// Close tears down the subscription once. A NATS callback still running when
// Unsubscribe returns lands on the closed stream and is dropped there rather
// than sending on a closed channel.
func (s *subscription) Close() error {
	if !s.stream.Close() {
		return nil
	}
	return s.nsub.Unsubscribe()
}

// Subscribe implements remote.Feed. The subscription closes itself when ctx
// is cancelled.
func (f *Feed) Subscribe(ctx context.Context, table query.TableID, kind remote.EventKind) (remote.FeedSubscription, error) {
	stream := remote.NewEventStream(256)

	nsub, err := f.conn.Subscribe(Subject(f.prefix, table), func(msg *nats.Msg) {
		var ev remote.ChangeEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			stream.Fail(remote.WrapError(remote.KindServer, "malformed change event", err))
			return
		}
		if !kind.Matches(ev.Kind) {
			return
		}
		stream.Send(ev)
	})
	if err != nil {
		return nil, remote.WrapError(remote.KindNetwork, "subscribe "+Subject(f.prefix, table), err)
	}
	sub := &subscription{nsub: nsub, stream: stream}

	go func() {
		<-ctx.Done()
		sub.Close()
	}()

	return sub, nil
}
