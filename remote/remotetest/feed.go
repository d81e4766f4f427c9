package remotetest

import (
	"context"
	"sync"

	"github.com/goliatone/go-tenant-sync/query"
	"github.com/goliatone/go-tenant-sync/remote"
)

// Feed is an in-memory remote.Feed. Tests push events with Emit and simulate
// transport loss with Fail or Drop.
type Feed struct {
	mu   sync.Mutex
	subs []*feedSub

	// SubscribeErrs is an error queue consumed by Subscribe calls; a nil
	// entry means the subscribe succeeds. Used to exercise reconnect paths.
	SubscribeErrs []error

	subscribeCalls int
}

// NewFeed returns an empty fake feed.
func NewFeed() *Feed {
	return &Feed{}
}

type feedSub struct {
	table  query.TableID
	kind   remote.EventKind
	stream *remote.EventStream
}

func (s *feedSub) Events() <-chan remote.ChangeEvent { return s.stream.Events() }
func (s *feedSub) Errs() <-chan error                { return s.stream.Errs() }

func (s *feedSub) Close() error {
	s.stream.Close()
	return nil
}

// Subscribe implements remote.Feed.
func (f *Feed) Subscribe(_ context.Context, table query.TableID, kind remote.EventKind) (remote.FeedSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribeCalls++
	if err := shiftErr(&f.SubscribeErrs); err != nil {
		return nil, err
	}

	sub := &feedSub{
		table:  table,
		kind:   kind,
		stream: remote.NewEventStream(16),
	}
	f.subs = append(f.subs, sub)
	return sub, nil
}

// SubscribeCalls reports how many Subscribe calls were made, failed included.
func (f *Feed) SubscribeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribeCalls
}

// ActiveSubs reports how many transport channels are open.
func (f *Feed) ActiveSubs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, sub := range f.subs {
		if !sub.stream.Closed() {
			n++
		}
	}
	return n
}

// Emit delivers an event to every open subscription matching its table and
// kind. Subscriptions the consumer already closed are skipped.
func (f *Feed) Emit(ev remote.ChangeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		if sub.table == ev.Table && sub.kind.Matches(ev.Kind) {
			sub.stream.Send(ev)
		}
	}
}

// Fail pushes a transport error to every open subscription.
func (f *Feed) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		sub.stream.Fail(err)
	}
}

// Drop closes every open subscription, simulating a hard transport loss.
func (f *Feed) Drop() {
	f.mu.Lock()
	subs := f.subs
	f.subs = nil
	f.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
}
