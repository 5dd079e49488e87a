package world

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"contractline/internal/orbit"
)

func TestDefaultSandboxLoads(t *testing.T) {
	s := DefaultSandbox()
	mun, ok := s.BodyByName("Mun")
	if !ok || mun.Index != 2 {
		t.Fatalf("expected Mun at index 2, got %+v", mun)
	}
	if b, ok := s.BodyByIndex(9); !ok || b.Name != "Laythe" {
		t.Fatalf("expected Laythe at index 9")
	}
	if _, ok := s.Experiment("mysteryGoo"); !ok {
		t.Fatalf("missing stock experiment")
	}
	if len(s.Factions()) != 5 {
		t.Fatalf("expected 5 factions, got %d", len(s.Factions()))
	}
}

func TestSubjectMaxValueUsesBodyMultiplier(t *testing.T) {
	s := DefaultSandbox()
	cases := []struct {
		subject string
		want    float64
	}{
		{SubjectID("mysteryGoo", "Kerbin", SrfLanded, "Shores"), 10},
		{SubjectID("mysteryGoo", "Mun", InSpaceLow, ""), 30},
		{"mysteryGoo@Nowhere", 0},
		{"unknown@Kerbin", 0},
		{"no-separator", 0},
	}
	for _, tc := range cases {
		if got := s.SubjectMaxValue(tc.subject); got != tc.want {
			t.Errorf("SubjectMaxValue(%q) = %v, want %v", tc.subject, got, tc.want)
		}
	}
}

func TestProgression(t *testing.T) {
	s := DefaultSandbox()
	if got := s.NextUnreached(2); len(got) != 2 || got[0] != "Mun" || got[1] != "Minmus" {
		t.Fatalf("unexpected next unreached %v", got)
	}
	s.Reach("Mun")
	if !s.LocationReached("Mun") {
		t.Fatalf("reach not recorded")
	}
	if got := s.NextUnreached(1); got[0] != "Minmus" {
		t.Fatalf("unexpected next unreached %v", got)
	}
	if w := s.SituationWeight("Mun", SrfLanded); w != 3 {
		t.Fatalf("expected weight 3, got %v", w)
	}
	if w := s.SituationWeight("Nowhere", "Bogus"); w != 1 {
		t.Fatalf("expected neutral weight, got %v", w)
	}
}

func TestDockAndUndock(t *testing.T) {
	s := DefaultSandbox()
	o := &orbit.Orbit{Body: "Kerbin", Elements: orbit.Elements{SemiMajorAxis: 700000}}
	s.AddVessel(VesselDoc{ID: "a", Orbit: o, Groups: []string{"A"}})
	s.AddVessel(VesselDoc{ID: "b", Orbit: o, Groups: []string{"B"}})

	if err := s.Dock("a", "b"); err != nil {
		t.Fatal(err)
	}
	if s.VesselExists("a") || !s.VesselHasGroup("b", "A") || !s.VesselHasGroup("b", "B") {
		t.Fatalf("dock did not merge")
	}
	if err := s.Undock("b", "c", []string{"A"}); err != nil {
		t.Fatal(err)
	}
	if s.VesselHasGroup("b", "A") || !s.VesselHasGroup("c", "A") {
		t.Fatalf("undock did not split")
	}
	if got := OrbitingVessels(s, "Kerbin"); len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Fatalf("unexpected orbiting vessels %v", got)
	}
	if err := s.Dock("x", "b"); err == nil {
		t.Fatalf("dock of unknown vessel accepted")
	}
}

func TestSandboxFromFileRejectsDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.yml")
	doc := "bodies:\n  - {index: 1, name: Kerbin}\n  - {index: 1, name: Mun}\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := SandboxFromFile(path); err == nil {
		t.Fatalf("expected duplicate index error")
	}
}

func TestSandboxRejectsSeparatorsInNames(t *testing.T) {
	docs := []string{
		"bodies:\n  - {index: 1, name: \"Ker|bin\"}\n",
		"bodies:\n  - {index: 1, name: Kerbin, biomes: [\"Ice,Caps\"]}\n",
		"experiments:\n  - {id: \"goo|pod\", situations: [InSpaceLow]}\n",
		"equipment:\n  available: [\"boom,mag\"]\n",
		"vessels:\n  - {id: \"scout|1\"}\n",
	}
	for _, doc := range docs {
		_, err := SandboxFromYAML([]byte(doc))
		if err == nil || !strings.Contains(err.Error(), "must not contain") {
			t.Fatalf("%q: expected separator error, got %v", doc, err)
		}
	}
}

func TestSituationRules(t *testing.T) {
	mun := Body{Name: "Mun", Surface: true}
	if mun.Allows(FlyingLow) || mun.Allows(SrfSplashed) || !mun.Allows(SrfLanded) || !mun.Allows(InSpaceHigh) {
		t.Fatalf("unexpected situation rules for an airless body")
	}
	if !FlyingHigh.Atmospheric() || !SrfSplashed.Surface() || Situation("x").Valid() {
		t.Fatalf("unexpected situation classification")
	}
}

func TestSnapshotRestoresState(t *testing.T) {
	s := DefaultSandbox()
	s.Reach("Duna")
	s.Unlock("dmAsteroidDrill")
	s.AddVessel(VesselDoc{
		ID:     "scout",
		Orbit:  &orbit.Orbit{Body: "Duna", Elements: orbit.Elements{SemiMajorAxis: 600000, Eccentricity: 0.1}},
		Groups: []string{"dmmagBoom"},
	})
	if err := s.SetSeparation("scout", "Face", Separation{Vertical: 400, Distance: 420}); err != nil {
		t.Fatal(err)
	}
	data, err := s.YAML()
	if err != nil {
		t.Fatal(err)
	}
	back, err := SandboxFromYAML(data)
	if err != nil {
		t.Fatalf("snapshot does not reload: %v", err)
	}
	if !back.LocationReached("Duna") || !back.EquipmentUnlocked("dmAsteroidDrill") {
		t.Fatalf("progression lost")
	}
	o, ok := back.Orbit("scout")
	if !ok || o.Body != "Duna" || o.SemiMajorAxis != 600000 {
		t.Fatalf("vessel orbit lost: %+v", o)
	}
	if !back.VesselHasGroup("scout", "dmmagBoom") {
		t.Fatalf("vessel groups lost")
	}
	if v, d, ok := back.Separation("scout", "Face"); !ok || v != 400 || d != 420 {
		t.Fatalf("separation lost")
	}
	if len(back.Experiments()) != len(s.Experiments()) || len(back.Bodies()) != len(s.Bodies()) {
		t.Fatalf("catalog lost")
	}
}
