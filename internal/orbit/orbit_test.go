package orbit

import "testing"

func TestInclinationSymmetric(t *testing.T) {
	for _, threshold := range []float64{5, 15, 45, 89} {
		for _, inc := range []float64{0, 10, 20, 60, 90} {
			pro := InclinationSatisfied(Orbit{Elements: Elements{Inclination: inc}}, threshold)
			retro := InclinationSatisfied(Orbit{Elements: Elements{Inclination: 180 - inc}}, threshold)
			if pro != retro {
				t.Fatalf("threshold %.0f: inclination %.0f gave %v but %.0f gave %v", threshold, inc, pro, 180-inc, retro)
			}
		}
	}
	if InclinationSatisfied(Orbit{Elements: Elements{Inclination: 10}}, 15) {
		t.Fatalf("10 degrees should not satisfy 15")
	}
	if InclinationSatisfied(Orbit{Elements: Elements{Inclination: 170}}, 15) {
		t.Fatalf("170 degrees should not satisfy 15")
	}
	if !InclinationSatisfied(Orbit{Elements: Elements{Inclination: -40}}, 15) {
		t.Fatalf("negative inclination should use magnitude")
	}
}

func TestEccentricityStrict(t *testing.T) {
	if EccentricitySatisfied(Orbit{Elements: Elements{Eccentricity: 0.3}}, 0.3) {
		t.Fatalf("equal eccentricity must not satisfy")
	}
	if !EccentricitySatisfied(Orbit{Elements: Elements{Eccentricity: 0.31}}, 0.3) {
		t.Fatalf("expected eccentricity satisfied")
	}
}

func TestSpecificOrbit(t *testing.T) {
	el := Elements{Inclination: 30, Eccentricity: 0.2, SemiMajorAxis: 1_000_000, LAN: 40, ArgumentOfPeriapsis: 90}
	target, err := NewTarget("Kerbin", el, 0.1)
	if err != nil {
		t.Fatalf("new target: %v", err)
	}
	if !SpecificOrbitSatisfied(Orbit{Body: "Kerbin", Elements: el}, target) {
		t.Fatalf("identical orbit must match")
	}
	near := el
	near.SemiMajorAxis = 1_030_000
	near.Inclination = 31
	if !SpecificOrbitSatisfied(Orbit{Body: "Kerbin", Elements: near}, target) {
		t.Fatalf("near orbit should match, distance %.3f", Distance(Orbit{Body: "Kerbin", Elements: near}, target))
	}
	far := el
	far.SemiMajorAxis = 1_500_000
	if SpecificOrbitSatisfied(Orbit{Body: "Kerbin", Elements: far}, target) {
		t.Fatalf("far orbit must not match")
	}
	if SpecificOrbitSatisfied(Orbit{Body: "Mun", Elements: el}, target) {
		t.Fatalf("wrong body must not match")
	}
	wrapped := el
	wrapped.LAN = 40 + 360
	if !SpecificOrbitSatisfied(Orbit{Body: "Kerbin", Elements: wrapped}, target) {
		t.Fatalf("angles must wrap")
	}
}

func TestNewTargetRejects(t *testing.T) {
	cases := []struct {
		name string
		body string
		el   Elements
		dev  float64
	}{
		{"no body", "", Elements{SemiMajorAxis: 1}, 0.1},
		{"zero sma", "Kerbin", Elements{}, 0.1},
		{"hyperbolic", "Kerbin", Elements{SemiMajorAxis: 1, Eccentricity: 1.2}, 0.1},
		{"no deviation", "Kerbin", Elements{SemiMajorAxis: 1}, 0},
	}
	for _, tc := range cases {
		if _, err := NewTarget(tc.body, tc.el, tc.dev); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestAnomalyCone(t *testing.T) {
	cases := []struct {
		name string
		dv   float64
		d    float64
		want bool
	}{
		{"on top", 10, 10, true},
		{"close cylinder", 500, 550, true},
		{"outside cylinder", 500, 1000, false},
		{"cone low", 2000, 2050, true},
		{"cone edge outside", 2000, 2100, false},
		{"cone capped", 50000, 50636, false},
		{"cone under cap", 40000, 40200, true},
		{"above ceiling", 100000, 100000, false},
		{"negative distance", 0, -1, false},
	}
	for _, tc := range cases {
		if got := WithinAnomalyCone(tc.dv, tc.d); got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}
