package remote

import "sync"

// EventStream is the channel pair behind a FeedSubscription. Transport
// callbacks produce into it while the consumer may Close it concurrently;
// sends and the close are serialized under one mutex so a send can never hit
// a closed channel.
type EventStream struct {
	events chan ChangeEvent
	errs   chan error

	mu     sync.Mutex
	closed bool
}

// NewEventStream creates a stream with the given event buffer. The error
// channel holds a single pending error.
func NewEventStream(buf int) *EventStream {
	return &EventStream{
		events: make(chan ChangeEvent, buf),
		errs:   make(chan error, 1),
	}
}

// Events returns the receive side of the event channel.
func (s *EventStream) Events() <-chan ChangeEvent { return s.events }

// Errs returns the receive side of the error channel.
func (s *EventStream) Errs() <-chan error { return s.errs }

// Send delivers an event without blocking. The event is dropped when the
// stream is closed or the consumer fell behind; a dropped event costs at most
// one refetch, since events only trigger invalidation. Reports whether the
// event was delivered.
func (s *EventStream) Send(ev ChangeEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

// Fail surfaces a transport error without blocking. An error already pending
// is kept; the newer one is dropped.
func (s *EventStream) Fail(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.errs <- err:
		return true
	default:
		return false
	}
}

// Close closes both channels. Reports whether this call performed the close,
// so callers can tie transport teardown to the first Close.
func (s *EventStream) Close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	close(s.events)
	close(s.errs)
	return true
}

// Closed reports whether the stream has been closed.
func (s *EventStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
