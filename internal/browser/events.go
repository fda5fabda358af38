package browser

import (
	"sort"
	"sync"
	"time"
)

// EventKind classifies page events.
type EventKind string

const (
	EventConsole       EventKind = "console"
	EventPageError     EventKind = "pageerror"
	EventRequestFailed EventKind = "requestfailed"
)

// Event is one observation published by a page or by the session's API
// client.
type Event struct {
	Kind  EventKind `json:"kind"`
	Level string    `json:"level,omitempty"` // console level: log, warning, error...
	Text  string    `json:"text"`
	URL   string    `json:"url,omitempty"`
	Time  time.Time `json:"time"`
}

// EventBus fans events out to explicit subscriptions.
//
// Subscriptions are released individually with Release or all at once by
// Close. After Close, Publish is a no-op and Subscribe returns an already
// released subscription.
type EventBus struct {
	mu     sync.Mutex
	subs   map[int]*Subscription
	nextID int
	closed bool
}

// Subscription is a handle on one registered listener.
type Subscription struct {
	bus   *EventBus
	id    int
	kinds map[EventKind]bool
	fn    func(Event)
}

// NewEventBus creates an open bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[int]*Subscription)}
}

// Subscribe registers fn for the given kinds, or for every kind when none
// are given.
func (b *EventBus) Subscribe(fn func(Event), kinds ...EventKind) *Subscription {
	s := &Subscription{bus: b, fn: fn}
	if len(kinds) > 0 {
		s.kinds = make(map[EventKind]bool, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return s
	}
	b.nextID++
	s.id = b.nextID
	b.subs[s.id] = s
	return s
}

// Publish delivers ev to matching subscriptions in subscription order.
// Listeners run on the publishing goroutine, outside the bus lock.
func (b *EventBus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	targets := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.kinds == nil || s.kinds[ev.Kind] {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	sort.Slice(targets, func(i, j int) bool { return targets[i].id < targets[j].id })
	for _, s := range targets {
		s.fn(ev)
	}
}

// Active returns the number of live subscriptions.
func (b *EventBus) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close releases every subscription. It is safe to call more than once.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id := range b.subs {
		delete(b.subs, id)
	}
}

// Release unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Release() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs, s.id)
}
