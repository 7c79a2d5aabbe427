package bus

import "sync"

// Subscription is one consumer's stream on a channel. Several subscriptions
// can share the same channel; each gets its own event buffer and tears down
// independently, so closing one never disturbs the others.
type Subscription struct {
	channel string

	mu      sync.Mutex
	events  chan *Event
	closed  bool
	closeFn func()
}

// NewSubscription creates a consumer stream. closeFn runs once, on the
// first Close, and is where the owning bus drops its reference.
func NewSubscription(channel string, buffer int, closeFn func()) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	return &Subscription{
		channel: channel,
		events:  make(chan *Event, buffer),
		closeFn: closeFn,
	}
}

// Channel returns the channel name this subscription consumes.
func (s *Subscription) Channel() string {
	return s.channel
}

// Events returns the stream. It is closed by Close.
func (s *Subscription) Events() <-chan *Event {
	return s.events
}

// Deliver enqueues an event without blocking. A saturated consumer drops
// the event; presence and chat state is re-sent by the next snapshot.
func (s *Subscription) Deliver(event *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- event:
	default:
	}
}

// Close ends the stream and releases the bus-side reference. It is safe to
// call more than once and safe to call concurrently with Deliver.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.events)
	fn := s.closeFn
	s.closeFn = nil
	s.mu.Unlock()

	if fn != nil {
		fn()
	}
}
