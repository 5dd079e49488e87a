package telemetry

import "testing"

func TestHubFiltersByKind(t *testing.T) {
	hub := NewHub()
	var orbits, all int
	hub.Subscribe(func(Event) { orbits++ }, OrbitEntered, OrbitExited)
	hub.Subscribe(func(Event) { all++ })

	hub.Publish(Event{Kind: OrbitEntered})
	hub.Publish(Event{Kind: SampleReceived})
	if orbits != 1 || all != 2 {
		t.Fatalf("got orbits=%d all=%d", orbits, all)
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	hub := NewHub()
	count := 0
	sub := hub.Subscribe(func(Event) { count++ })
	sub.Unsubscribe()
	sub.Unsubscribe()
	if n := hub.Publish(Event{Kind: VesselCreated}); n != 0 || count != 0 {
		t.Fatalf("expected no delivery, got %d", n)
	}
	if hub.Len() != 0 {
		t.Fatalf("expected empty hub")
	}
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	hub := NewHub()
	var second Subscription
	calls := 0
	hub.Subscribe(func(Event) { second.Unsubscribe() })
	second = hub.Subscribe(func(Event) { calls++ })
	hub.Publish(Event{Kind: Landed})
	if calls != 0 {
		t.Fatalf("removed subscriber must not be called")
	}
}

func TestKindValid(t *testing.T) {
	if !AnomalySampled.Valid() || Kind("bogus").Valid() {
		t.Fatalf("unexpected validity")
	}
}
