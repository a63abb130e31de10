package stream

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain[T any](sub *Subscription[T]) []T {
	var out []T
	for {
		select {
		case v, ok := <-sub.C():
			if !ok {
				return out
			}
			out = append(out, v)
		default:
			return out
		}
	}
}

func TestBroadcaster_EverySubscriberSeesSameSequence(t *testing.T) {
	b := NewBroadcaster[int](8)
	a := b.Subscribe()
	c := b.Subscribe()

	for i := 1; i <= 5; i++ {
		b.Publish(i)
	}

	assert.Equal(t, []int{1, 2, 3, 4, 5}, drain(a))
	assert.Equal(t, []int{1, 2, 3, 4, 5}, drain(c))
}

func TestBroadcaster_SlowSubscriberDropsOldest(t *testing.T) {
	drops := 0
	b := NewBroadcaster[int](3, WithDropHook[int](func() { drops++ }))
	slow := b.Subscribe()
	fast := b.SubscribeBuffered(16)

	done := make(chan struct{})
	go func() {
		for i := 1; i <= 10; i++ {
			b.Publish(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	assert.Equal(t, []int{8, 9, 10}, drain(slow))
	assert.Equal(t, uint64(7), slow.Dropped())
	assert.Len(t, drain(fast), 10)
	assert.Equal(t, 7, drops)
}

func TestBroadcaster_CloseClosesSubscriptions(t *testing.T) {
	b := NewBroadcaster[string](4)
	sub := b.Subscribe()
	b.Publish("a")
	b.Close()

	v, ok := <-sub.C()
	require.True(t, ok)
	assert.Equal(t, "a", v)
	_, ok = <-sub.C()
	assert.False(t, ok)

	late := b.Subscribe()
	_, ok = <-late.C()
	assert.False(t, ok)

	b.Publish("ignored")
}

func TestBroadcaster_UnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroadcaster[int](4)
	sub := b.Subscribe()
	require.Equal(t, 1, b.Len())

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, b.Len())

	b.Publish(1)
	assert.Empty(t, drain(sub))
}

func TestBroadcaster_ReplayLast(t *testing.T) {
	b := NewBroadcaster[string](4, WithReplayLast[string]())
	b.Publish("connecting")
	b.Publish("connected")

	sub := b.Subscribe()
	assert.Equal(t, []string{"connected"}, drain(sub))
}

func TestBroadcaster_ConcurrentPublishAndSubscribe(t *testing.T) {
	b := NewBroadcaster[int](4)
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Publish(j)
			}
		}()
		go func() {
			defer wg.Done()
			sub := b.Subscribe()
			drain(sub)
			sub.Close()
		}()
	}
	wg.Wait()
	b.Close()
}

func TestBroadcaster_ConcurrentPublishersKeepOneOrder(t *testing.T) {
	const publishers, perPublisher = 8, 200
	b := NewBroadcaster[int](publishers * perPublisher)
	a := b.Subscribe()
	c := b.Subscribe()

	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for j := 0; j < perPublisher; j++ {
				b.Publish(p*perPublisher + j)
			}
		}(p)
	}
	wg.Wait()

	gotA, gotC := drain(a), drain(c)
	require.Len(t, gotA, publishers*perPublisher)
	assert.Equal(t, gotA, gotC)
	assert.Zero(t, a.Dropped())
	assert.Zero(t, c.Dropped())
}
