package events

import (
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	EventServiceApplied  EventType = "service.applied"
	EventServiceRemoved  EventType = "service.removed"
	EventTaskCreated     EventType = "task.created"
	EventTaskRunning     EventType = "task.running"
	EventTaskFailed      EventType = "task.failed"
	EventTaskShutdown    EventType = "task.shutdown"
	EventNodeJoined      EventType = "node.joined"
	EventNodeLeft        EventType = "node.left"
	EventNodeDrained     EventType = "node.drained"
	EventNodeUnreachable EventType = "node.unreachable"
	EventAlertFiring     EventType = "alert.firing"
	EventAlertResolved   EventType = "alert.resolved"
	EventScrapeDown      EventType = "scrape.target_down"
)

// historySize bounds the in-memory recent-event log served by the API
const historySize = 256

// Event represents a cluster event
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution. Control loops
// subscribe to trigger edge-driven work (e.g. a task failure triggering an
// immediate reconciliation) instead of waiting for the next periodic tick.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}

	history []*Event // Ring of recent events, newest last
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

// Recent returns up to historySize most recent events, oldest first
func (b *Broker) Recent() []*Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*Event, len(b.history))
	copy(out, b.history)
	return out
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
	b.mu.Lock()
	b.history = append(b.history, event)
	if len(b.history) > historySize {
		b.history = b.history[len(b.history)-historySize:]
	}
	b.mu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
