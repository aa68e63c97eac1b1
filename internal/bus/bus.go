// Package bus implements the hat registry and the publish/subscribe event
// bus that routes parsed agent events between hats. One bus belongs to one
// event loop; it is in-memory state, never shared across processes.
package bus

// Hat is a named role an agent can wear for one iteration. Configured once
// at loop start; immutable during a run.
type Hat struct {
	// ID is the hat's identity on the bus (e.g. "planner", "builder").
	ID string
	// Name is the display name injected into prompts.
	Name string
	// Instructions override the default prompt template when non-empty.
	Instructions string
	// Triggers are the topics that activate this hat.
	Triggers []string
	// Publishes are the topics this hat is allowed to emit.
	Publishes []string
	// Backend optionally overrides the agent backend for this hat.
	Backend string
	// MaxActivations caps how often the hat may run; zero means unlimited.
	MaxActivations int
}

// Subscribes reports whether the hat listens on the topic.
func (h Hat) Subscribes(topic string) bool {
	for _, t := range h.Triggers {
		if t == topic {
			return true
		}
	}
	return false
}

// Event is one routed message: either synthesized by the orchestrator
// (task.start, task.continue) or parsed from agent output.
type Event struct {
	Topic   string
	Payload string
	// Source is the hat that emitted the event, when known.
	Source string
	// Target restricts delivery to a single hat.
	Target string
}

// Bus routes events to hats and queues them until the event loop drains
// them. Delivery order within a hat is publish order; hat scan order is
// registration order.
type Bus struct {
	order   []string
	hats    map[string]Hat
	pending map[string][]Event
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{
		hats:    make(map[string]Hat),
		pending: make(map[string][]Event),
	}
}

// Register adds a hat to the registry. Re-registering an id replaces the
// hat but keeps its queue and scan position.
func (b *Bus) Register(h Hat) {
	if _, ok := b.hats[h.ID]; !ok {
		b.order = append(b.order, h.ID)
	}
	b.hats[h.ID] = h
}

// Hat looks up a registered hat.
func (b *Bus) Hat(id string) (Hat, bool) {
	h, ok := b.hats[id]
	return h, ok
}

// HatCount returns the number of registered hats.
func (b *Bus) HatCount() int { return len(b.order) }

// Hats returns the registered hats in registration order.
func (b *Bus) Hats() []Hat {
	out := make([]Hat, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.hats[id])
	}
	return out
}

// Publish queues the event for every subscribed hat, or for the target hat
// only when the event is targeted. Events nobody listens to are dropped.
func (b *Bus) Publish(ev Event) {
	if ev.Target != "" {
		if _, ok := b.hats[ev.Target]; ok {
			b.pending[ev.Target] = append(b.pending[ev.Target], ev)
		}
		return
	}
	for _, id := range b.order {
		if b.hats[id].Subscribes(ev.Topic) {
			b.pending[id] = append(b.pending[id], ev)
		}
	}
}

// NextHatWithPending returns the first hat, in registration order, that has
// at least one undelivered event.
func (b *Bus) NextHatWithPending() (string, bool) {
	for _, id := range b.order {
		if len(b.pending[id]) > 0 {
			return id, true
		}
	}
	return "", false
}

// TakePending removes and returns the hat's queued events.
func (b *Bus) TakePending(hatID string) []Event {
	events := b.pending[hatID]
	delete(b.pending, hatID)
	return events
}

// HasPending reports whether any hat has undelivered events.
func (b *Bus) HasPending() bool {
	_, ok := b.NextHatWithPending()
	return ok
}
