// Package bus is an in-process pub/sub used to fan execution progress out
// to the WebSocket hub and the notifier. It keeps the engines decoupled
// from delivery: publishers never block on slow subscribers.
package bus

import (
	"context"
	"sync"

	"dexguard/internal/domain"
)

const subscriberBuffer = 128

// Bus implements domain.EventBus over in-memory channels. Subscriptions
// are removed when their context is cancelled; slow subscribers drop
// messages instead of stalling publishers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[int]chan []byte
	nextID int
	closed bool
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[string]map[int]chan []byte)}
}

// Publish delivers the payload to every live subscriber of the channel.
// Subscribers with a full buffer miss the message.
func (b *Bus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil
	}
	for _, ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of payloads published to the named channel.
// The returned channel is closed when ctx is cancelled or the bus shuts
// down.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		closed := make(chan []byte)
		close(closed)
		return closed, nil
	}
	id := b.nextID
	b.nextID++
	ch := make(chan []byte, subscriberBuffer)
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[int]chan []byte)
	}
	b.subs[channel][id] = ch
	b.mu.Unlock()

	out := make(chan []byte, subscriberBuffer)
	go func() {
		defer close(out)
		defer b.unsubscribe(channel, id)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close drops every subscription. Publish becomes a no-op afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, ch := range subs {
			close(ch)
		}
	}
	b.subs = make(map[string]map[int]chan []byte)
}

func (b *Bus) unsubscribe(channel string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if subs, ok := b.subs[channel]; ok {
		if ch, ok := subs[id]; ok {
			delete(subs, id)
			close(ch)
		}
		if len(subs) == 0 {
			delete(b.subs, channel)
		}
	}
}

// Compile-time interface check.
var _ domain.EventBus = (*Bus)(nil)
