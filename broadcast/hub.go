package broadcast

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Broadcaster is the publish side of the hub, consumed by the ingestion
// pipeline. Publish returns how many subscribers the message was queued
// for; zero is normal for a rover nobody is watching.
type Broadcaster interface {
	Publish(group string, data []byte) int
}

// Subscriber is one group member. Messages are queued on Out; when the
// queue is full the newest message for that subscriber is dropped.
type Subscriber struct {
	id     string
	out    chan []byte
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once

	// dropped counts messages lost to a full queue, for flow metrics.
	dropped atomic.Int64
}

// NewSubscriber creates a subscriber with the given queue depth
// (16 when non-positive).
func NewSubscriber(queueSize int) *Subscriber {
	if queueSize <= 0 {
		queueSize = 16
	}
	return &Subscriber{
		id:   uuid.NewString(),
		out:  make(chan []byte, queueSize),
		done: make(chan struct{}),
	}
}

// ID returns the subscriber's unique id.
func (s *Subscriber) ID() string { return s.id }

// Out is the subscriber's receive channel. The channel is never closed;
// consumers select on Done to learn the subscriber is finished.
func (s *Subscriber) Out() <-chan []byte { return s.out }

// Done is closed when the subscriber shuts down.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Dropped returns how many messages this subscriber lost to backpressure.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

// Close marks the subscriber dead. Safe to call more than once and
// concurrently with Publish; the out channel stays open so a racing
// Publish can never panic, queued messages are simply collected with the
// subscriber.
func (s *Subscriber) Close() {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.done)
	})
}

// Hub is the concurrency-safe group registry. A group exists while it has
// at least one subscriber and vanishes when the last one leaves.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[*Subscriber]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{groups: make(map[string]map[*Subscriber]struct{})}
}

// Join adds a subscriber to a group, creating the group on first join.
func (h *Hub) Join(group string, sub *Subscriber) {
	if sub == nil || sub.closed.Load() {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[group]
	if !ok {
		members = make(map[*Subscriber]struct{})
		h.groups[group] = members
	}
	members[sub] = struct{}{}
}

// Leave removes a subscriber from a group, deleting the group when the
// last member leaves. The subscriber itself is not closed; the caller owns
// its lifecycle.
func (h *Hub) Leave(group string, sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.groups[group]; ok {
		delete(members, sub)
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}
}

// Publish queues data for every live member of the group. Dead members
// found during iteration are pruned; a member with a full queue loses this
// message but stays joined. Never blocks.
func (h *Hub) Publish(group string, data []byte) int {
	h.mu.RLock()
	members := h.groups[group]
	snapshot := make([]*Subscriber, 0, len(members))
	for sub := range members {
		snapshot = append(snapshot, sub)
	}
	h.mu.RUnlock()

	delivered := 0
	var dead []*Subscriber
	for _, sub := range snapshot {
		if sub.closed.Load() {
			dead = append(dead, sub)
			continue
		}
		select {
		case sub.out <- data:
			delivered++
		default:
			sub.dropped.Add(1)
		}
	}

	for _, sub := range dead {
		h.Leave(group, sub)
	}
	return delivered
}

// GroupSize returns the current member count of a group (0 for a group in
// the empty state).
func (h *Hub) GroupSize(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

// Groups lists the currently active group names.
func (h *Hub) Groups() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.groups))
	for name := range h.groups {
		out = append(out, name)
	}
	return out
}

// SubscriberCount returns the total member count across all groups.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, members := range h.groups {
		n += len(members)
	}
	return n
}
