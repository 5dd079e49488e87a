package objective

import (
	"testing"

	"contractline/internal/orbit"
	"contractline/internal/telemetry"
	"contractline/internal/world"
)

func TestCollectScienceNeedsThirtyPercent(t *testing.T) {
	f := newFixture(t)
	n, err := NewCollectScience(f.experiment(t, "mysteryGoo"), f.body(t, "Kerbin"), world.SrfLanded, "Shores")
	id := f.add(t, Root, n, err)
	f.tree.RegisterAll()

	// mysteryGoo is worth 10 at Kerbin, so 3 is needed.
	sample := func(v float64) {
		f.hub.Publish(telemetry.Event{Kind: telemetry.SampleReceived, Subject: n.Subject(), Value: v})
	}
	sample(1)
	sample(1.5)
	if f.tree.State(id) != Incomplete {
		t.Fatalf("partial transmissions completed the objective at %.1f", n.Collected())
	}
	sample(0.5)
	if f.tree.State(id) != Complete {
		t.Fatalf("expected complete at %.1f", n.Collected())
	}
}

func TestCollectScienceWithBiomeNeedsExactSubject(t *testing.T) {
	f := newFixture(t)
	n, err := NewCollectScience(f.experiment(t, "mysteryGoo"), f.body(t, "Kerbin"), world.SrfLanded, "Shores")
	if err != nil {
		t.Fatal(err)
	}
	if n.Matches("mysteryGoo@KerbinSrfLandedShores_2") || !n.Matches("mysteryGoo@KerbinSrfLandedShores") {
		t.Fatalf("biome objective must match exactly")
	}
}

func TestCollectSciencePrefixBoundary(t *testing.T) {
	n := &CollectScience{experiment: "exp1", body: world.Body{Name: "Kerbin"}, situation: world.Situation("0")}
	if n.Subject() != "exp1@Kerbin0" {
		t.Fatalf("unexpected subject %s", n.Subject())
	}
	cases := []struct {
		subject string
		want    bool
	}{
		{"exp1@Kerbin0", true},
		{"exp1@Kerbin0_Highlands", true},
		{"exp1@Kerbin0 2", true},
		{"exp1@Kerbin0Highlands", false},
		{"exp1@Kerbin01", false},
		{"exp1@Kerbin", false},
		{"exp2@Kerbin0", false},
	}
	for _, tc := range cases {
		if got := n.Matches(tc.subject); got != tc.want {
			t.Errorf("Matches(%q) = %v, want %v", tc.subject, got, tc.want)
		}
	}

	f := newFixture(t)
	id := f.add(t, Root, n, nil)
	f.tree.RegisterAll()
	f.hub.Publish(telemetry.Event{Kind: telemetry.SampleReceived, Subject: "exp1@Kerbin0Highlands", Value: 100})
	if f.tree.State(id) != Incomplete || n.Collected() != 0 {
		t.Fatalf("suffix without a boundary must not count")
	}
}

func TestCollectScienceRejectsImpossiblePairings(t *testing.T) {
	f := newFixture(t)
	atmo := f.experiment(t, "atmosphereAnalysis")
	if _, err := NewCollectScience(atmo, f.body(t, "Mun"), world.FlyingLow, ""); err == nil {
		t.Fatalf("atmosphere experiment accepted on an airless body")
	}
	if _, err := NewCollectScience(f.experiment(t, "seismicScan"), f.body(t, "Kerbin"), world.InSpaceLow, ""); err == nil {
		t.Fatalf("surface-only experiment accepted in space")
	}
	if _, err := NewCollectScience(f.experiment(t, "mysteryGoo"), f.body(t, "Mun"), world.SrfLanded, "Shores"); err == nil {
		t.Fatalf("foreign biome accepted")
	}
}

func TestAnomalySampleNeedsCone(t *testing.T) {
	f := newFixture(t)
	mun := f.body(t, "Mun")
	n, err := NewAnomalySample(f.experiment(t, "anomalyScan"), mun, "Mun_Arch", "")
	id := f.add(t, Root, n, err)
	f.tree.RegisterAll()
	f.world.AddVessel(world.VesselDoc{ID: "far", Separations: map[string]world.Separation{"Mun_Arch": {Vertical: 500, Distance: 5000}}})
	f.world.AddVessel(world.VesselDoc{ID: "near", Separations: map[string]world.Separation{"Mun_Arch": {Vertical: 500, Distance: 550}}})

	ev := telemetry.Event{Kind: telemetry.AnomalySampled, Body: "Mun", Experiment: "anomalyScan", Vessel: "far"}
	f.hub.Publish(ev)
	if f.tree.State(id) != Incomplete {
		t.Fatalf("sample far from the anomaly counted")
	}
	ev.Vessel = "near"
	f.hub.Publish(ev)
	if f.tree.State(id) != Complete {
		t.Fatalf("expected complete inside the cone")
	}
	if _, err := NewAnomalySample(f.experiment(t, "anomalyScan"), mun, "Duna_Face", ""); err == nil {
		t.Fatalf("anomaly from another body accepted")
	}
}

func TestAsteroidSampleMatchesClass(t *testing.T) {
	f := newFixture(t)
	n, err := NewAsteroidSample(f.experiment(t, "asteroidSample"), "C")
	id := f.add(t, Root, n, err)
	f.tree.RegisterAll()
	f.hub.Publish(telemetry.Event{Kind: telemetry.AsteroidSampled, Experiment: "asteroidSample", SizeClass: "B"})
	if f.tree.State(id) != Incomplete {
		t.Fatalf("wrong class counted")
	}
	f.hub.Publish(telemetry.Event{Kind: telemetry.AsteroidSampled, Experiment: "asteroidSample", SizeClass: "C"})
	if f.tree.State(id) != Complete {
		t.Fatalf("expected complete")
	}
	if _, err := NewAsteroidSample(f.experiment(t, "asteroidSample"), "Z"); err == nil {
		t.Fatalf("unknown class accepted")
	}
}

func TestReachLanded(t *testing.T) {
	f := newFixture(t)
	n, err := NewReachLocation(f.body(t, "Mun"), ReachLanded)
	id := f.add(t, Root, n, err)
	f.tree.RegisterAll()
	f.enterOrbit("v1", "Mun")
	if f.tree.State(id) != Incomplete {
		t.Fatalf("orbit must not satisfy a landing")
	}
	f.hub.Publish(telemetry.Event{Kind: telemetry.Landed, Vessel: "v1", Body: "Mun"})
	if f.tree.State(id) != Complete {
		t.Fatalf("expected complete after landing")
	}
	if _, err := NewReachLocation(f.body(t, "Jool"), ReachLanded); err == nil {
		t.Fatalf("landing on a gas giant accepted")
	}
}

func dockingFixture(t *testing.T) (*fixture, *EquipmentRequest, NodeID) {
	t.Helper()
	f := newFixture(t)
	kerbin := f.body(t, "Kerbin")
	parking := &orbit.Orbit{Body: "Kerbin", Elements: orbit.Elements{SemiMajorAxis: 700000}}
	f.world.AddVessel(world.VesselDoc{ID: "a", Orbit: parking, Groups: []string{"A"}})
	f.world.AddVessel(world.VesselDoc{ID: "b", Orbit: parking, Groups: []string{"B"}})
	eq, err := NewEquipmentRequest(kerbin, []string{"B", "A"})
	id := f.add(t, Root, eq, err)
	f.tree.RegisterAll()
	if f.tree.State(id) != Incomplete {
		t.Fatalf("split equipment should not satisfy the request")
	}
	if err := f.world.Dock("a", "b"); err != nil {
		t.Fatal(err)
	}
	f.hub.Publish(telemetry.Event{Kind: telemetry.PartsCoupled, Vessel: "a", Other: "b"})
	return f, eq, id
}

func TestEquipmentDockingIsDeferred(t *testing.T) {
	f, eq, id := dockingFixture(t)
	if f.tree.State(id) != Incomplete {
		t.Fatalf("dock must not be evaluated immediately")
	}
	if f.tree.Pending(id) != 1 {
		t.Fatalf("expected one deferred check, got %d", f.tree.Pending(id))
	}
	f.ticks(1, 29)
	if f.tree.State(id) != Incomplete {
		t.Fatalf("re-evaluated before the window elapsed")
	}
	f.tree.Tick(30)
	if f.tree.State(id) != Complete {
		t.Fatalf("expected complete after the deferred check")
	}
	if got := eq.Suitable(); len(got) != 1 || got[0] != "b" {
		t.Fatalf("unexpected suitable set %v", got)
	}
}

func TestEquipmentUnregisterCancelsDeferred(t *testing.T) {
	f, _, id := dockingFixture(t)
	f.tree.Unregister(id)
	if f.tree.Pending(id) != 0 {
		t.Fatalf("deferred check survived unregister")
	}
	f.tree.Register(id)
	if f.tree.State(id) != Complete {
		t.Fatalf("registration rescan should find the docked vessel")
	}
}

func TestEquipmentTracksOrbitChanges(t *testing.T) {
	f := newFixture(t)
	kerbin := f.body(t, "Kerbin")
	eq, err := NewEquipmentRequest(kerbin, []string{"dmmagBoom"})
	id := f.add(t, Root, eq, err)
	f.tree.RegisterAll()
	f.world.AddVessel(world.VesselDoc{ID: "scout", Groups: []string{"dmmagBoom"}})
	f.enterOrbit("scout", "Kerbin")
	if f.tree.State(id) != Complete {
		t.Fatalf("expected complete on orbit entry")
	}
	f.hub.Publish(telemetry.Event{Kind: telemetry.OrbitExited, Vessel: "scout", Body: "Kerbin"})
	if f.tree.State(id) != Incomplete {
		t.Fatalf("expected revert on orbit exit")
	}
}

func TestInclinationNodeIsSymmetric(t *testing.T) {
	for _, incl := range []float64{20, 160} {
		f := newFixture(t)
		kerbin := f.body(t, "Kerbin")
		f.world.AddVessel(world.VesselDoc{ID: "v", Orbit: &orbit.Orbit{Body: "Kerbin", Elements: orbit.Elements{Inclination: incl, SemiMajorAxis: 700000}}})
		hold, err := NewOrbitHold(kerbin, 50)
		holdID := f.add(t, Root, hold, err)
		inc, err := NewInclination(kerbin, 15)
		incID := f.add(t, holdID, inc, err)
		f.tree.RegisterAll()
		f.tree.Tick(0)
		if f.tree.State(incID) != Complete {
			t.Fatalf("inclination %.0f should satisfy threshold 15", incl)
		}
	}
}
