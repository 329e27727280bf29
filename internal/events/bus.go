package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Envelope wraps a published payload.
type Envelope struct {
	ID      string    `json:"id"`
	Topic   Event     `json:"topic"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload"`
}

// Bus is a lightweight pub/sub broker using channels.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Event][]chan Envelope
	all     []chan Envelope
	dropped atomic.Uint64
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Event][]chan Envelope)}
}

// Subscribe registers a listener for an event and returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan Envelope, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Envelope, buffer)
	b.subs[e] = append(b.subs[e], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.subs[e] = removeChan(b.subs[e], ch)
	}
	return ch, unsub
}

// SubscribeAll registers a listener for every topic.
func (b *Bus) SubscribeAll(buffer int) (<-chan Envelope, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Envelope, buffer)
	b.all = append(b.all, ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = removeChan(b.all, ch)
	}
	return ch, unsub
}

func removeChan(subs []chan Envelope, ch chan Envelope) []chan Envelope {
	for i, c := range subs {
		if c == ch {
			close(c)
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}

// Publish fan-outs the payload to subscribers without blocking. Slow
// subscribers lose messages; the loss is counted in Dropped.
func (b *Bus) Publish(e Event, payload any) {
	env := Envelope{
		ID:      uuid.NewString(),
		Topic:   e,
		Time:    time.Now(),
		Payload: payload,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[e] {
		b.offer(ch, env)
	}
	for _, ch := range b.all {
		b.offer(ch, env)
	}
}

func (b *Bus) offer(ch chan Envelope, env Envelope) {
	select {
	case ch <- env:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
