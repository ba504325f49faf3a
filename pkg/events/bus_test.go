package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()

	var got []Event
	sub := bus.Subscribe(FetchCompleted, "test", func(ev Event) {
		got = append(got, ev)
	})
	defer sub.Dispose()

	bus.Publish(Event{Type: FetchCompleted, Item: 42, Total: 100})
	bus.Publish(Event{Type: FetchFailed, Item: 43}) // different type, not delivered

	assert.Len(t, got, 1)
	assert.Equal(t, FetchCompleted, got[0].Type)
	assert.EqualValues(t, 42, got[0].Item)
}

func TestDispose(t *testing.T) {
	bus := NewBus()

	calls := 0
	sub := bus.Subscribe(ItemServed, "test", func(Event) { calls++ })

	bus.Publish(Event{Type: ItemServed})
	sub.Dispose()
	sub.Dispose() // idempotent
	bus.Publish(Event{Type: ItemServed})

	assert.Equal(t, 1, calls)
}

func TestUnsubscribeOwner(t *testing.T) {
	bus := NewBus()

	calls := 0
	bus.Subscribe(ItemServed, "viewer", func(Event) { calls++ })
	bus.Subscribe(WindowChanged, "viewer", func(Event) { calls++ })
	bus.Subscribe(ItemServed, "other", func(Event) { calls++ })

	removed := bus.UnsubscribeOwner("viewer")
	assert.Equal(t, 2, removed)

	bus.Publish(Event{Type: ItemServed})
	bus.Publish(Event{Type: WindowChanged})
	assert.Equal(t, 1, calls)
}

func TestPanickingHandlerSkipped(t *testing.T) {
	bus := NewBus()

	calls := 0
	bus.Subscribe(FetchFailed, "a", func(Event) { panic("boom") })
	bus.Subscribe(FetchFailed, "b", func(Event) { calls++ })

	assert.NotPanics(t, func() {
		bus.Publish(Event{Type: FetchFailed})
	})
	assert.Equal(t, 1, calls)
}
