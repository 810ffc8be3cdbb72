// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package events

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func drain(ch <-chan Event) []Event {
	var out []Event
	for e := range ch {
		out = append(out, e)
	}
	return out
}

func TestBus_DeliversInOrder(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(16)

	for i := range 10 {
		b.Publish(Event{Type: JobChunk, Chunk: strconv.Itoa(i)})
	}
	cancel()

	got := drain(ch)
	require.Len(t, got, 10)
	for i, e := range got {
		assert.Equal(t, strconv.Itoa(i), e.Chunk)
		assert.False(t, e.At.IsZero())
	}
}

func TestBus_FanOut(t *testing.T) {
	b := NewBus()
	a, cancelA := b.Subscribe(4)
	c, cancelC := b.Subscribe(4)

	b.Publish(Event{Type: JobProgress, Percentage: 50})
	cancelA()
	cancelC()

	assert.Len(t, drain(a), 1)
	assert.Len(t, drain(c), 1)
}

func TestBus_DropsSlowSubscriber(t *testing.T) {
	b := NewBus()
	slow, cancel := b.Subscribe(2)
	defer cancel()

	for range 3 {
		b.Publish(Event{Type: JobChunk})
	}

	assert.Equal(t, 0, b.Subscribers())
	assert.Len(t, drain(slow), 2, "buffered events stay readable after drop")
}

func TestBus_CancelIsIdempotent(t *testing.T) {
	b := NewBus()
	_, cancel := b.Subscribe(1)
	cancel()
	cancel()
	assert.Equal(t, 0, b.Subscribers())
}

func TestBus_Close(t *testing.T) {
	b := NewBus()
	ch, _ := b.Subscribe(1)
	b.Close()
	b.Publish(Event{Type: JobFailed})

	assert.Empty(t, drain(ch))

	late, _ := b.Subscribe(1)
	_, open := <-late
	assert.False(t, open)
}

func TestBus_ConcurrentPublish(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(1000)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				b.Publish(Event{Type: PoolStatusChanged})
			}
		}()
	}
	wg.Wait()
	cancel()

	assert.Len(t, drain(ch), 500)
}
