package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishInvokesListenersInRegistrationOrder(t *testing.T) {
	bus := NewBus()
	var order []int

	bus.Subscribe(Pushed, func(Event) { order = append(order, 1) })
	bus.Subscribe(Pushed, func(Event) { order = append(order, 2) })
	bus.Subscribe(Pushed, func(Event) { order = append(order, 3) })

	bus.Publish(Event{Type: Pushed, Path: "/a"})
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestPublishOnlyReachesMatchingType(t *testing.T) {
	bus := NewBus()
	var pushedCount, pulledCount int

	bus.Subscribe(Pushed, func(Event) { pushedCount++ })
	bus.Subscribe(Pulled, func(Event) { pulledCount++ })

	bus.Publish(Event{Type: Pushed})
	bus.Publish(Event{Type: Pushed})

	assert.Equal(t, 2, pushedCount)
	assert.Equal(t, 0, pulledCount)
}

func TestLateSubscriberMissesEarlierEvents(t *testing.T) {
	bus := NewBus()
	bus.Publish(Event{Type: Pulled, Path: "/early"})

	var seen []string
	bus.Subscribe(Pulled, func(e Event) { seen = append(seen, e.Path) })
	bus.Publish(Event{Type: Pulled, Path: "/late"})

	assert.Equal(t, []string{"/late"}, seen)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	count := 0
	unsub := bus.Subscribe(PushedError, func(Event) { count++ })

	bus.Publish(Event{Type: PushedError})
	unsub()
	bus.Publish(Event{Type: PushedError})

	assert.Equal(t, 1, count)
}

func TestPublishCarriesErrForErrorEvents(t *testing.T) {
	bus := NewBus()
	var gotErr error
	bus.Subscribe(PulledError, func(e Event) { gotErr = e.Err })

	want := errors.New("technical difficulties")
	bus.Publish(Event{Type: PulledError, Path: "/a", Err: want})

	assert.Equal(t, want, gotErr)
}

func TestNoEventDroppedAcrossManyPublishes(t *testing.T) {
	bus := NewBus()
	var received int
	bus.Subscribe(Rewrote, func(Event) { received++ })

	const n = 500
	for i := 0; i < n; i++ {
		bus.Publish(Event{Type: Rewrote})
	}
	assert.Equal(t, n, received)
}
