// Package telemetry defines the world-state events the host simulation reports and a
// synchronous in-memory hub that fans them out to subscribers.
package telemetry

import "sort"

// Kind names an event type.
type Kind string

const (
	SampleReceived  Kind = "sample.received"
	OrbitEntered    Kind = "orbit.entered"
	OrbitExited     Kind = "orbit.exited"
	Landed          Kind = "vessel.landed"
	VesselCreated   Kind = "vessel.created"
	PartsCoupled    Kind = "parts.coupled"
	PartsDecoupled  Kind = "parts.decoupled"
	AnomalySampled  Kind = "anomaly.sampled"
	AsteroidSampled Kind = "asteroid.sampled"
)

// Known lists every kind the hub accepts.
var Known = []Kind{
	SampleReceived, OrbitEntered, OrbitExited, Landed, VesselCreated,
	PartsCoupled, PartsDecoupled, AnomalySampled, AsteroidSampled,
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Known {
		if k == known {
			return true
		}
	}
	return false
}

// Event is one occurrence in the world. Only the fields relevant to Kind are set:
//   - SampleReceived: Subject, Value, Vessel
//   - OrbitEntered / OrbitExited / Landed: Vessel, Body
//   - VesselCreated: Vessel
//   - PartsCoupled / PartsDecoupled: Vessel (from), Other (to)
//   - AnomalySampled: Body, Experiment, Biome, Vessel
//   - AsteroidSampled: SizeClass, Experiment, Vessel
type Event struct {
	Kind       Kind    `json:"kind"`
	Vessel     string  `json:"vessel,omitempty"`
	Other      string  `json:"other,omitempty"`
	Body       string  `json:"body,omitempty"`
	Subject    string  `json:"subject,omitempty"`
	Value      float64 `json:"value,omitempty"`
	Experiment string  `json:"experiment,omitempty"`
	Biome      string  `json:"biome,omitempty"`
	SizeClass  string  `json:"size_class,omitempty"`
}

// Handler receives events synchronously on the simulation thread.
type Handler func(Event)

// Subscription is released exactly once; later calls are no-ops.
type Subscription interface {
	Unsubscribe()
}

// Bus is what objective nodes register against.
type Bus interface {
	Subscribe(h Handler, kinds ...Kind) Subscription
}

// Hub is the in-memory Bus. It is not safe for concurrent use; the host owns the thread.
type Hub struct {
	next int
	subs map[int]*hubSub
}

type hubSub struct {
	hub   *Hub
	id    int
	kinds map[Kind]bool
	fn    Handler
}

func NewHub() *Hub {
	return &Hub{subs: map[int]*hubSub{}}
}

// Subscribe registers h for kinds. With no kinds, h receives everything.
func (h *Hub) Subscribe(fn Handler, kinds ...Kind) Subscription {
	h.next++
	s := &hubSub{hub: h, id: h.next, fn: fn}
	if len(kinds) > 0 {
		s.kinds = map[Kind]bool{}
		for _, k := range kinds {
			s.kinds[k] = true
		}
	}
	h.subs[s.id] = s
	return s
}

func (s *hubSub) Unsubscribe() {
	if s.hub == nil {
		return
	}
	delete(s.hub.subs, s.id)
	s.hub = nil
}

// Publish delivers ev to every matching subscriber in subscription order. Subscribers
// added by a handler first hear the next event. Subscribers removed by a handler are skipped
// for the rest of this one.
func (h *Hub) Publish(ev Event) int {
	ids := make([]int, 0, len(h.subs))
	for id, s := range h.subs {
		if s.kinds == nil || s.kinds[ev.Kind] {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	delivered := 0
	for _, id := range ids {
		s, ok := h.subs[id]
		if !ok {
			continue
		}
		s.fn(ev)
		delivered++
	}
	return delivered
}

// Len is the number of live subscriptions.
func (h *Hub) Len() int { return len(h.subs) }
