// Package notify provides wake-on-change semantics over Redis pub/sub.
// A publish is a hint that something behind the key changed; it carries no
// interpretable payload and offers no delivery guarantee to late
// subscribers. Waiters must re-read authoritative state after waking and
// tolerate spurious or coalesced wakeups.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrNoChange is returned by WaitForChange when the deadline elapsed
// before any publish. It is a normal "try again" signal, not a failure.
var ErrNoChange = errors.New("notify: no change before deadline")

// Bus is a broadcast channel per key. Every waiter subscribed at publish
// time wakes; a publish with no subscribers is a no-op.
type Bus struct {
	client *redis.Client
}

// NewBus wraps an established Redis client.
func NewBus(client *redis.Client) *Bus {
	return &Bus{client: client}
}

// Publish wakes all current waiters on key. The payload is advisory only.
func (b *Bus) Publish(ctx context.Context, key, payload string) error {
	if err := b.client.Publish(ctx, key, payload).Err(); err != nil {
		return fmt.Errorf("notify: publish %q: %w", key, err)
	}
	return nil
}

// WaitForChange blocks until a publish on key or the context deadline.
// It returns ErrNoChange on deadline expiry or caller cancellation, nil
// on a wake, and a wrapped error only for infrastructural failures. The
// subscription is always released before returning.
func (b *Bus) WaitForChange(ctx context.Context, key string) error {
	sub := b.client.Subscribe(ctx, key)
	defer sub.Close()

	if _, err := sub.ReceiveMessage(ctx); err != nil {
		if ctx.Err() != nil {
			return ErrNoChange
		}
		return fmt.Errorf("notify: wait %q: %w", key, err)
	}
	return nil
}
