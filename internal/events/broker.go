// Package events fans presenter notifications out to stream clients. The
// presenter (a sidebar, a CLI, a test) subscribes over SSE or WebSocket and
// receives one JSON payload per event.
package events

import (
	"slices"
	"sync"
	"sync/atomic"
)

const subscriberBufSize = 256

// Feed names.
const (
	FeedFrames        = "frames"
	FeedCaptureState  = "capture_state"
	FeedQuotaExceeded = "quota_exceeded"
	FeedQuota         = "quota"
	FeedNotice        = "notice"
)

var retainedFeeds = []string{FeedCaptureState, FeedFrames, FeedQuota}

// Event is one presenter notification.
type Event struct {
	Feed    string
	Payload string
}

// Broker fans out events to all subscribed clients. The latest frames,
// capture_state and quota events are retained so late subscribers start
// from the current state.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Event
	nextID      atomic.Int64
	latest      map[string]Event
}

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[int64]chan Event),
		latest:      make(map[string]Event),
	}
}

// Subscribe registers a new client. Returns the subscriber ID and a channel
// to receive events on. The channel is buffered; slow consumers will have
// events dropped. Retained state events are queued first.
func (b *Broker) Subscribe() (int64, <-chan Event) {
	id := b.nextID.Add(1)
	ch := make(chan Event, subscriberBufSize)
	b.mu.Lock()
	for _, feed := range retainedFeeds {
		if evt, ok := b.latest[feed]; ok {
			ch <- evt
		}
	}
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

// Publish sends an event to all subscribers. Non-blocking: slow clients
// have events dropped.
func (b *Broker) Publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if slices.Contains(retainedFeeds, evt.Feed) {
		b.latest[evt.Feed] = evt
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}

// ClientCount returns the number of active subscribers.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
