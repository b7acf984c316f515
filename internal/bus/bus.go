// Package bus provides the in-process publish/subscribe channel that feeds
// UI live updates. Publishers never block: slow subscribers drop their
// oldest queued events.
package bus

import (
	"context"
	"sync"
	"time"
)

const defaultQueueSize = 64

// EventType identifies the kind of event on the bus.
type EventType string

const (
	// EventTurnStarted is published when an agent turn begins.
	EventTurnStarted EventType = "turn_started"
	// EventTurnEnded is published when an agent turn completes.
	EventTurnEnded EventType = "turn_ended"
	// EventTaskChanged is published on every task status transition.
	EventTaskChanged EventType = "task_changed"
	// EventMessageDelivered is published when a message reaches an inbox.
	EventMessageDelivered EventType = "message_delivered"
	// EventMergeStarted is published when a merge attempt begins.
	EventMergeStarted EventType = "merge_started"
	// EventMergeCompleted is published when a merge attempt finishes.
	EventMergeCompleted EventType = "merge_completed"
	// EventTeamsRefresh signals the UI to reload team rosters.
	EventTeamsRefresh EventType = "teams_refresh"
)

// Event is one bus payload. Timestamp is set by Broadcast; the remaining
// fields are type-specific and may be empty.
type Event struct {
	// Type is the kind of event.
	Type EventType `json:"type"`
	// Timestamp is when the event was broadcast.
	Timestamp time.Time `json:"timestamp"`
	// Team is the team the event concerns, if any.
	Team string `json:"team,omitempty"`
	// Agent is the agent the event concerns, if any.
	Agent string `json:"agent,omitempty"`
	// TaskID is the task the event concerns, if any.
	TaskID int64 `json:"task_id,omitempty"`
	// Sender is the message sender for message events.
	Sender string `json:"sender,omitempty"`
	// Message provides human-readable context.
	Message string `json:"message,omitempty"`
	// Error carries failure detail for failure events.
	Error string `json:"error,omitempty"`
}

// Bus fans events out to subscribers over bounded FIFO queues.
type Bus struct {
	mu        sync.RWMutex
	subs      map[chan Event]struct{}
	queueSize int
	closed    bool
}

// New creates a Bus with the default per-subscriber queue size.
func New() *Bus {
	return NewWithQueueSize(defaultQueueSize)
}

// NewWithQueueSize creates a Bus with a custom per-subscriber queue size.
func NewWithQueueSize(size int) *Bus {
	if size < 1 {
		size = 1
	}
	return &Bus{
		subs:      make(map[chan Event]struct{}),
		queueSize: size,
	}
}

// Subscribe returns a channel receiving every subsequent broadcast.
// The channel is removed and closed when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	sub := make(chan Event, b.queueSize)
	b.subs[sub] = struct{}{}

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.closed {
			return
		}
		if _, ok := b.subs[sub]; ok {
			delete(b.subs, sub)
			close(sub)
		}
	}()

	return sub
}

// Broadcast publishes an event to every subscriber. When a subscriber's
// queue is full its oldest event is dropped to make room.
func (b *Bus) Broadcast(eventType EventType, event Event) {
	event.Type = eventType
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for sub := range b.subs {
		select {
		case sub <- event:
		default:
			// Queue full: drop the oldest queued event, then enqueue.
			select {
			case <-sub:
			default:
			}
			select {
			case sub <- event:
			default:
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close shuts down the bus and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub)
	}
	b.subs = nil
}
