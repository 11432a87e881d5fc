// Package events is an in-process publish/subscribe bus for coordinator lifecycle events.
package events

import "sync"

// EventType represents the type of event
type EventType string

// Define event types
const (
	EventConnectionOpened EventType = "CONNECTION_OPENED"
	EventConnectionClosed EventType = "CONNECTION_CLOSED"
	EventSessionCreated   EventType = "SESSION_CREATED"
	EventSessionJoined    EventType = "SESSION_JOINED"
	EventSessionLeft      EventType = "SESSION_LEFT"
	EventSessionReclaimed EventType = "SESSION_RECLAIMED"
	EventMoveApplied      EventType = "MOVE_APPLIED"
	EventMoveRejected     EventType = "MOVE_REJECTED"
	EventDeliveryDropped  EventType = "DELIVERY_DROPPED"
)

const allEvents EventType = "*"

// Event represents an event in the system
type Event struct {
	Type       EventType
	SessionKey string // Optional, empty for connection-level events
	ClientID   string
	Payload    interface{}
}

// Handler is a function that processes events
type Handler func(event Event)

// Publisher is the central event publisher
type Publisher struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Handler
}

// NewPublisher creates a new event publisher
func NewPublisher() *Publisher {
	return &Publisher{
		subscribers: make(map[EventType][]Handler),
	}
}

// Subscribe registers a handler for a specific event type
func (p *Publisher) Subscribe(eventType EventType, handler Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.subscribers[eventType] = append(p.subscribers[eventType], handler)
}

// SubscribeAll registers a handler for all event types
func (p *Publisher) SubscribeAll(handler Handler) {
	p.Subscribe(allEvents, handler)
}

// Publish hands the event to every matching subscriber, including "all events" handlers.
// Handlers run on their own goroutines so a slow subscriber never holds up the publisher.
func (p *Publisher) Publish(event Event) {
	if p == nil {
		return
	}

	p.mu.RLock()
	handlers := p.subscribers[event.Type]
	all := p.subscribers[allEvents]
	p.mu.RUnlock()

	for _, handler := range handlers {
		go handler(event)
	}

	for _, handler := range all {
		go handler(event)
	}
}
