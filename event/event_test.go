package event

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	b := NewBus()

	var got1, got2 atomic.Int32
	b.Subscribe(func(ev Event) { got1.Add(1) })
	b.Subscribe(func(ev Event) { got2.Add(1) })

	b.Publish(Event{Kind: Connected, DeviceID: "TCP:127.0.0.1:502"})

	require.EqualValues(t, 1, got1.Load())
	require.EqualValues(t, 1, got2.Load())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus()

	var count atomic.Int32
	unsubscribe := b.Subscribe(func(ev Event) { count.Add(1) })

	b.Publish(Event{Kind: Connected})
	unsubscribe()
	b.Publish(Event{Kind: Disconnected})

	require.EqualValues(t, 1, count.Load())
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := NewBus()
	unsubscribe := b.Subscribe(func(ev Event) {})
	unsubscribe()
	require.NotPanics(t, unsubscribe)
}

func TestPanickingListenerDoesNotBlockOthers(t *testing.T) {
	b := NewBus()

	var after atomic.Bool
	b.Subscribe(func(ev Event) { panic("boom") })
	b.Subscribe(func(ev Event) { after.Store(true) })

	require.NotPanics(t, func() {
		b.Publish(Event{Kind: PingFailed, DeviceID: "RTU:/dev/ttyUSB0"})
	})
	require.True(t, after.Load())

	// a second publish after a panicking listener must still reach survivors
	var second atomic.Bool
	b.Subscribe(func(ev Event) { second.Store(true) })
	b.Publish(Event{Kind: Recovered})
	require.True(t, second.Load())
}

func TestPublishIsConcurrencySafe(t *testing.T) {
	b := NewBus()
	var count atomic.Int32
	b.Subscribe(func(ev Event) { count.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Publish(Event{Kind: Connected, Timestamp: time.Now()})
		}()
	}
	wg.Wait()

	require.EqualValues(t, 50, count.Load())
}

func TestKindString(t *testing.T) {
	require.Equal(t, "Connected", Connected.String())
	require.Equal(t, "Removed", Removed.String())
}
