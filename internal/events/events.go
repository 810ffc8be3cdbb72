// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package events carries typed state-change notifications from the core to
// presentation-layer subscribers.
package events

import (
	"sync"
	"time"

	"github.com/pdiddy/review-engine/pkg/types"
)

// Type names an event kind.
type Type string

const (
	PoolStatusChanged Type = "pool_status_changed"
	JobProgress       Type = "job_progress"
	JobChunk          Type = "job_chunk"
	JobCompleted      Type = "job_completed"
	JobFailed         Type = "job_failed"
	JobCancelled      Type = "job_cancelled"
	StepChanged       Type = "step_changed"
)

// Event is one notification. Fields not relevant to Type are zero.
type Event struct {
	Type  Type        `json:"type"`
	At    time.Time   `json:"at"`
	Stage types.Stage `json:"stage,omitempty"`
	JobID string      `json:"job_id,omitempty"`

	Pool *types.PoolStatus `json:"pool,omitempty"`

	Percentage int    `json:"percentage,omitempty"`
	Message    string `json:"message,omitempty"`

	Chunk string              `json:"chunk,omitempty"`
	Text  string              `json:"text,omitempty"`
	Stats *types.CitationStats `json:"citation_stats,omitempty"`

	Reason string            `json:"reason,omitempty"`
	Steps  []types.StepState `json:"steps,omitempty"`
}

// Publisher accepts events. Implementations must not block the caller.
type Publisher interface {
	Publish(Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) {}

// Multi publishes each event to every publisher in order.
type Multi []Publisher

func (m Multi) Publish(e Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(e)
		}
	}
}

// DefaultBuffer is the per-subscriber channel capacity used when
// Subscribe is given a non-positive size.
const DefaultBuffer = 256

// Bus fans events out to subscribers in publish order. A subscriber whose
// buffer is full is dropped and its channel closed, so a slow consumer
// never stalls the core and never sees a gap in the middle of a stream.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	next   int
	closed bool
	now    func() time.Time
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event), now: time.Now}
}

// Subscribe registers a consumer. The returned cancel func unregisters it
// and closes the channel; calling it more than once is safe.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

// Publish stamps the event and delivers it to every subscriber.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if e.At.IsZero() {
		e.At = b.now()
	}
	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			delete(b.subs, id)
			close(ch)
		}
	}
}

// Subscribers returns the number of live subscribers.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
