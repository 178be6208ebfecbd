package realtime

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Notifier carries "the report collection changed" signals. Signals carry no
// data and may coalesce: listeners always re-read the full collection.
type Notifier interface {
	Notify(ctx context.Context) error
	Changes(ctx context.Context) (<-chan struct{}, error)
}

// RedisNotifier fans change signals out across API instances over Pub/Sub.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel}
}

func (n *RedisNotifier) Notify(ctx context.Context) error {
	return n.client.Publish(ctx, n.channel, "changed").Err()
}

func (n *RedisNotifier) Changes(ctx context.Context) (<-chan struct{}, error) {
	pubsub := n.client.Subscribe(ctx, n.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				signal(out)
			}
		}
	}()
	return out, nil
}

// LocalNotifier is the single-process notifier.
type LocalNotifier struct {
	mu        sync.Mutex
	listeners map[chan struct{}]struct{}
}

func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{listeners: make(map[chan struct{}]struct{})}
}

func (n *LocalNotifier) Notify(context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.listeners {
		signal(ch)
	}
	return nil
}

func (n *LocalNotifier) Changes(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)

	n.mu.Lock()
	n.listeners[ch] = struct{}{}
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		delete(n.listeners, ch)
		close(ch)
		n.mu.Unlock()
	}()
	return ch, nil
}

// signal never blocks; a pending signal already covers this one.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
