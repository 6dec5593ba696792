// Package events fans out link outcomes to live subscribers over SSE.
package events

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dgnsrekt/visionary/internal/storage"
)

const subscriberBufSize = 256

// Event is one outcome, named by its kind.
type Event struct {
	Kind    string
	Payload string
}

// Broker fans out events to all subscribed clients.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Event
	nextID      atomic.Int64
	dropped     atomic.Int64
}

func NewBroker() *Broker {
	return &Broker{subscribers: make(map[int64]chan Event)}
}

// Subscribe registers a client. The channel is buffered; a slow client loses events.
func (b *Broker) Subscribe() (int64, <-chan Event) {
	id := b.nextID.Add(1)
	ch := make(chan Event, subscriberBufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	ch, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish never blocks.
func (b *Broker) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// PublishRecord publishes a history record under its outcome.
func (b *Broker) PublishRecord(rec storage.Record) {
	payload, err := json.Marshal(rec)
	if err != nil {
		slog.Debug("event marshal failed", "error", err)
		return
	}
	b.Publish(Event{Kind: rec.Outcome, Payload: string(payload)})
}

func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped counts events lost to full subscriber buffers.
func (b *Broker) Dropped() int64 { return b.dropped.Load() }
