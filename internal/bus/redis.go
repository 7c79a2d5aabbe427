package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection configuration for the bus.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// channelSub is the shared Redis-side state behind one channel name. It is
// refcounted by its consumer set: the Redis subscription opens with the
// first consumer and closes with the last one.
type channelSub struct {
	pubsub    *redis.PubSub
	cancel    context.CancelFunc
	consumers map[*Subscription]struct{}
}

// RedisBus implements Bus using Redis Pub/Sub. One dedicated client serves
// subscriptions (a connection in subscriber mode cannot run other commands);
// publishing goes through a second client. Any number of local consumers
// can share a channel; events fan out to all of them.
type RedisBus struct {
	pub      *redis.Client
	sub      *redis.Client
	channels map[string]*channelSub
	mu       sync.Mutex
}

// NewRedisBus creates a Redis-backed event bus.
func NewRedisBus(cfg RedisConfig) (*RedisBus, error) {
	opts := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	pub := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pub.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisBus{
		pub:      pub,
		sub:      redis.NewClient(opts),
		channels: make(map[string]*channelSub),
	}, nil
}

// Publish publishes an event to the specified channel.
func (b *RedisBus) Publish(ctx context.Context, channel string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return b.pub.Publish(ctx, channel, data).Err()
}

// Subscribe opens a consumer stream on a channel. The first consumer of a
// channel opens the Redis subscription; later consumers attach to it.
func (b *RedisBus) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.channels[channel]
	if !ok {
		pubsub := b.sub.Subscribe(ctx, channel)
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
		}

		// The forward loop outlives the subscribing caller's context; it
		// stops when the last consumer detaches.
		fwdCtx, cancel := context.WithCancel(context.Background())
		entry = &channelSub{
			pubsub:    pubsub,
			cancel:    cancel,
			consumers: make(map[*Subscription]struct{}),
		}
		b.channels[channel] = entry
		go b.forward(fwdCtx, channel, pubsub)
	}

	var sub *Subscription
	sub = NewSubscription(channel, 64, func() { b.detach(channel, sub) })
	entry.consumers[sub] = struct{}{}
	return sub, nil
}

// detach removes one consumer; the last one out closes the Redis side.
func (b *RedisBus) detach(channel string, sub *Subscription) {
	b.mu.Lock()
	entry, ok := b.channels[channel]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(entry.consumers, sub)
	if len(entry.consumers) > 0 {
		b.mu.Unlock()
		return
	}
	delete(b.channels, channel)
	b.mu.Unlock()

	entry.cancel()
	entry.pubsub.Close()
}

// Close closes all subscriptions and both Redis clients.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	var subs []*Subscription
	for channel, entry := range b.channels {
		entry.cancel()
		entry.pubsub.Close()
		for sub := range entry.consumers {
			subs = append(subs, sub)
		}
		delete(b.channels, channel)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}

	if err := b.sub.Close(); err != nil {
		b.pub.Close()
		return err
	}
	return b.pub.Close()
}

func (b *RedisBus) forward(ctx context.Context, channel string, pubsub *redis.PubSub) {
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}

			b.mu.Lock()
			entry, ok := b.channels[channel]
			if !ok {
				b.mu.Unlock()
				return
			}
			consumers := make([]*Subscription, 0, len(entry.consumers))
			for sub := range entry.consumers {
				consumers = append(consumers, sub)
			}
			b.mu.Unlock()

			for _, sub := range consumers {
				sub.Deliver(&event)
			}
		}
	}
}
