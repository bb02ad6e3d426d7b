// Package events provides the in-process event bus used to observe
// research cycles. Emitters never block: subscriber channels are
// buffered and events are dropped when a subscriber falls behind.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Type identifies an event kind.
type Type string

const (
	CycleStarted   Type = "cycle.started"
	CycleStep      Type = "cycle.step"
	CycleCompleted Type = "cycle.completed"
	CycleFailed    Type = "cycle.failed"

	AgentStarted   Type = "agent.started"
	AgentSearch    Type = "agent.search"
	AgentCompleted Type = "agent.completed"

	SynthesisStarted   Type = "synthesis.started"
	SynthesisCompleted Type = "synthesis.completed"

	NodeCreated Type = "node.created"
	NodeUpdated Type = "node.updated"
)

// Event is one observation emitted during a cycle.
type Event struct {
	Seq         uint64         `json:"seq"`
	Type        Type           `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	WorkspaceID string         `json:"workspace_id"`
	Data        map[string]any `json:"data,omitempty"`
}

// Subscription is a handle for one subscriber.
type Subscription struct {
	id          uint64
	workspaceID string
	ch          chan Event
}

// Events returns the subscriber's receive channel.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Bus dispatches events to workspace-scoped subscribers.
type Bus struct {
	mu       sync.RWMutex
	subs     map[string]map[uint64]*Subscription
	nextID   uint64
	sequence atomic.Uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[uint64]*Subscription)}
}

// Subscribe registers a subscriber for one workspace. An empty
// workspace ID subscribes to all workspaces.
func (b *Bus) Subscribe(workspaceID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:          b.nextID,
		workspaceID: workspaceID,
		ch:          make(chan Event, 64),
	}
	if b.subs[workspaceID] == nil {
		b.subs[workspaceID] = make(map[uint64]*Subscription)
	}
	b.subs[workspaceID][sub.id] = sub
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	set := b.subs[sub.workspaceID]
	if _, ok := set[sub.id]; !ok {
		return
	}
	delete(set, sub.id)
	if len(set) == 0 {
		delete(b.subs, sub.workspaceID)
	}
	close(sub.ch)
}

// Emit dispatches an event to the workspace's subscribers and to
// all-workspace subscribers. Safe to call from any goroutine; a full
// subscriber channel drops the event rather than blocking the emitter.
func (b *Bus) Emit(workspaceID string, typ Type, data map[string]any) {
	event := Event{
		Seq:         b.sequence.Add(1),
		Type:        typ,
		Timestamp:   time.Now().UTC(),
		WorkspaceID: workspaceID,
		Data:        data,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[workspaceID] {
		select {
		case sub.ch <- event:
		default:
		}
	}
	if workspaceID != "" {
		for _, sub := range b.subs[""] {
			select {
			case sub.ch <- event:
			default:
			}
		}
	}
}

// SubscriberCount reports the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, set := range b.subs {
		n += len(set)
	}
	return n
}

// Close removes every subscriber and closes their channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ws, set := range b.subs {
		for _, sub := range set {
			close(sub.ch)
		}
		delete(b.subs, ws)
	}
}
