// Package events fans out state-change notifications to subscribers without
// ever blocking the publisher.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

type Type string

const (
	AgentCreated           Type = "agent_created"
	AgentStatusChanged     Type = "agent_status_changed"
	TaskCreated            Type = "task_created"
	TaskAssigned           Type = "task_assigned"
	TaskStarted            Type = "task_started"
	TaskProgress           Type = "task_progress"
	TaskCompleted          Type = "task_completed"
	TaskFailed             Type = "task_failed"
	TaskCancelled          Type = "task_cancelled"
	LearningCycleStarted   Type = "learning_cycle_started"
	LearningCycleCompleted Type = "learning_cycle_completed"
	ResourceAlert          Type = "resource_alert"
	SwarmSnapshot          Type = "swarm_snapshot"
)

var allTypes = []Type{
	AgentCreated, AgentStatusChanged, TaskCreated, TaskAssigned, TaskStarted,
	TaskProgress, TaskCompleted, TaskFailed, TaskCancelled, LearningCycleStarted,
	LearningCycleCompleted, ResourceAlert, SwarmSnapshot,
}

// Types returns every event type in declaration order.
func Types() []Type {
	out := make([]Type, len(allTypes))
	copy(out, allTypes)
	return out
}

func (t Type) Valid() bool {
	for _, k := range allTypes {
		if k == t {
			return true
		}
	}
	return false
}

// Event carries the ids of the entities it concerns and a payload holding a
// snapshot of the entity after the change.
type Event struct {
	Type      Type      `json:"type"`
	AgentID   string    `json:"agent_id,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"data,omitempty"`
}

// Alert is the payload of a resource_alert event.
type Alert struct {
	Resource  string  `json:"resource"`
	Level     string  `json:"level"`
	Message   string  `json:"message"`
	Value     float64 `json:"value,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	AgentID   string  `json:"agent_id,omitempty"`
}

// Progress is the payload of a task_progress event.
type Progress struct {
	Percent float64 `json:"percent"`
	Note    string  `json:"note,omitempty"`
}

// Publisher is the side of the bus used by core components.
type Publisher interface {
	Publish(ev Event)
}

const DefaultBuffer = 256

type Bus struct {
	mu        sync.Mutex
	subs      map[*Subscription]struct{}
	buffer    int
	now       func() time.Time
	published atomic.Uint64
}

func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
		now:    time.Now,
	}
}

// Publish delivers ev to every matching subscriber. When a subscriber's
// queue is full its oldest event is discarded to make room.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published.Add(1)
	for s := range b.subs {
		if !s.wants(ev.Type) {
			continue
		}
		s.offer(ev)
	}
}

// Published returns the number of events accepted by Publish.
func (b *Bus) Published() uint64 {
	return b.published.Load()
}

type SubscribeOptions struct {
	Buffer int
	Types  []Type
}

// Subscribe registers a new subscriber. Events published before the call are
// not replayed.
func (b *Bus) Subscribe(opts SubscribeOptions) *Subscription {
	size := opts.Buffer
	if size <= 0 {
		size = b.buffer
	}
	s := &Subscription{bus: b, ch: make(chan Event, size)}
	if len(opts.Types) > 0 {
		s.types = make(map[Type]bool, len(opts.Types))
		for _, t := range opts.Types {
			s.types[t] = true
		}
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close unsubscribes everyone.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		delete(b.subs, s)
		close(s.ch)
	}
}

type Subscription struct {
	bus     *Bus
	ch      chan Event
	types   map[Type]bool
	dropped atomic.Uint64
	once    sync.Once
}

// Events returns the receive side. It is closed after Close.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Dropped returns how many events were discarded for this subscriber.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		if _, ok := s.bus.subs[s]; ok {
			delete(s.bus.subs, s)
			close(s.ch)
		}
	})
}

func (s *Subscription) wants(t Type) bool {
	return s.types == nil || s.types[t]
}

// offer runs under the bus lock, so the subscriber is the only other party
// touching the channel.
func (s *Subscription) offer(ev Event) {
	select {
	case s.ch <- ev:
		return
	default:
	}
	select {
	case <-s.ch:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.ch <- ev:
	default:
		s.dropped.Add(1)
	}
}
