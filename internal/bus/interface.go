package bus

import "context"

// Bus is the fan-out event bus between service instances. Each Subscribe
// call yields an independent stream; multiple consumers may subscribe to
// the same channel and every one of them receives every event. A consumer
// tears its own stream down with Subscription.Close.
type Bus interface {
	// Publish publishes an event to the specified channel.
	Publish(ctx context.Context, channel string, event *Event) error

	// Subscribe opens a consumer stream on a channel. The stream ends when
	// the returned subscription is closed or the bus shuts down.
	Subscribe(ctx context.Context, channel string) (*Subscription, error)

	// Close shuts down every subscription and the underlying connection.
	Close() error
}
