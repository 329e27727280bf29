package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusRoutesByTopic(t *testing.T) {
	bus := NewBus()
	opened, unsubOpened := bus.Subscribe(EventSessionOpened, 4)
	defer unsubOpened()
	all, unsubAll := bus.SubscribeAll(4)
	defer unsubAll()

	bus.Publish(EventSessionOpened, SessionChanged{State: "OPEN"})
	bus.Publish(EventOrderQueued, nil)

	env := <-opened
	assert.Equal(t, EventSessionOpened, env.Topic)
	assert.NotEmpty(t, env.ID)
	assert.Equal(t, "OPEN", env.Payload.(SessionChanged).State)
	assert.Len(t, opened, 0)

	require.Len(t, all, 2)
	first, second := <-all, <-all
	assert.Equal(t, EventSessionOpened, first.Topic)
	assert.Equal(t, EventOrderQueued, second.Topic)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestBusDropsWhenFull(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventOrderQueued, 1)
	defer unsub()

	bus.Publish(EventOrderQueued, 1)
	bus.Publish(EventOrderQueued, 2)
	bus.Publish(EventOrderQueued, 3)

	assert.Equal(t, uint64(2), bus.Dropped())
	assert.Equal(t, 1, (<-ch).Payload)
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.SubscribeAll(1)
	unsub()
	unsub()

	_, ok := <-ch
	assert.False(t, ok)

	bus.Publish(EventOrderQueued, nil)
	assert.Zero(t, bus.Dropped())
}
