package events

import (
	"sync"
	"time"

	"github.com/kwgt/luwiki-sub000/pkg/types"
)

// EventType is the kind of change an Event describes.
type EventType string

const (
	EventPageCreated   EventType = "page.created"
	EventPageUpdated   EventType = "page.updated"
	EventPageRenamed   EventType = "page.renamed"
	EventPageDeleted   EventType = "page.deleted"
	EventPageUndeleted EventType = "page.undeleted"
	EventAssetCreated  EventType = "asset.created"
	EventAssetDeleted  EventType = "asset.deleted"
	EventAssetMoved    EventType = "asset.moved"
)

// Event is a post-commit notification describing a change the core just
// persisted. The core never reads its own events back; it publishes them
// purely so an external full-text index can react after the fact (see
// the package doc for the ordering guarantee this relies on).
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	PageId    types.PageId
	AssetId   *types.AssetId
	Path      string
	Message   string
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// Broker manages event subscriptions and distribution. Publish never
// blocks the caller on a slow subscriber: a subscriber with a full buffer
// simply misses the event.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel. Typically
// called once, by the full-text indexer.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers. Callers invoke this
// strictly after the write transaction that produced it has committed —
// the core never publishes speculatively.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip. The full-text index is a
			// best-effort observer, not a durable consumer.
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
