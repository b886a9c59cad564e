package cluster

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// CoordinationEventType is one of the five coordinator-loop event kinds
// spec.md §4.10 names.
type CoordinationEventType string

const (
	EventNodeJoined        CoordinationEventType = "node.joined"
	EventNodeLeft          CoordinationEventType = "node.left"
	EventNodeFailed        CoordinationEventType = "node.failed"
	EventLeaderChanged     CoordinationEventType = "leader.changed"
	EventMembershipChanged CoordinationEventType = "membership.changed"
)

// CoordinationEvent is one emission from the coordinator loop.
type CoordinationEvent struct {
	ID        string
	Type      CoordinationEventType
	Timestamp time.Time
	NodeID    string
	Message   string
}

// Subscriber is a channel that receives coordination events.
type Subscriber chan *CoordinationEvent

// EventBroker fans out CoordinationEvents to any number of subscribers,
// dropping events to a slow subscriber rather than blocking the
// coordinator loop.
type EventBroker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]bool
	eventCh     chan *CoordinationEvent
	stopCh      chan struct{}
}

// NewEventBroker builds an EventBroker. Call Start to begin distribution.
func NewEventBroker() *EventBroker {
	return &EventBroker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *CoordinationEvent, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's distribution loop in a background goroutine.
func (b *EventBroker) Start() {
	go b.run()
}

// Stop halts distribution. Subsequent Publish calls are no-ops.
func (b *EventBroker) Stop() {
	close(b.stopCh)
}

// Subscribe returns a new channel that receives every published event
// until Unsubscribe is called.
func (b *EventBroker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes and closes sub.
func (b *EventBroker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish emits an event to every current subscriber. ID and Timestamp are
// assigned if unset.
func (b *EventBroker) Publish(ev *CoordinationEvent) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case b.eventCh <- ev:
	case <-b.stopCh:
	}
}

func (b *EventBroker) run() {
	for {
		select {
		case ev := <-b.eventCh:
			b.broadcast(ev)
		case <-b.stopCh:
			return
		}
	}
}

func (b *EventBroker) broadcast(ev *CoordinationEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		select {
		case sub <- ev:
		default: // subscriber buffer full, drop
		}
	}
}
