// Package orbit holds the numeric predicates used to match a vessel's live orbit or position
// against contract targets. Everything here is pure; the live values come from the host.
package orbit

import (
	"errors"
	"math"
)

// Elements are the six classical orbital elements. Angles are degrees, distances metres.
type Elements struct {
	Inclination         float64 `json:"inclination" yaml:"inclination"`
	Eccentricity        float64 `json:"eccentricity" yaml:"eccentricity"`
	SemiMajorAxis       float64 `json:"semi_major_axis" yaml:"semi_major_axis"`
	LAN                 float64 `json:"lan" yaml:"lan"`
	ArgumentOfPeriapsis float64 `json:"argument_of_periapsis" yaml:"argument_of_periapsis"`
	MeanAnomalyAtEpoch  float64 `json:"mean_anomaly_at_epoch" yaml:"mean_anomaly_at_epoch"`
}

// Orbit is a live orbit around a named body.
type Orbit struct {
	Body     string `json:"body" yaml:"body"`
	Elements `yaml:",inline"`
}

// Target is an immutable orbit specification with a deviation window.
type Target struct {
	body      string
	elements  Elements
	deviation float64
}

// NewTarget validates and builds a Target. Deviation is a fraction (0.1 = 10%).
func NewTarget(body string, el Elements, deviation float64) (Target, error) {
	if body == "" {
		return Target{}, errors.New("target body is required")
	}
	if el.SemiMajorAxis <= 0 {
		return Target{}, errors.New("target semi-major axis must be positive")
	}
	if el.Eccentricity < 0 || el.Eccentricity >= 1 {
		return Target{}, errors.New("target eccentricity must be in [0,1)")
	}
	if deviation <= 0 || math.IsNaN(deviation) || math.IsInf(deviation, 0) {
		return Target{}, errors.New("deviation must be positive")
	}
	return Target{body: body, elements: el, deviation: deviation}, nil
}

func (t Target) Body() string       { return t.body }
func (t Target) Elements() Elements { return t.elements }
func (t Target) Deviation() float64 { return t.deviation }

// EccentricitySatisfied reports whether the orbit is more eccentric than threshold.
func EccentricitySatisfied(o Orbit, threshold float64) bool {
	return o.Eccentricity > threshold
}

// InclinationSatisfied treats prograde and retrograde orbits alike: 10° and 170° give the
// same answer for any threshold.
func InclinationSatisfied(o Orbit, threshold float64) bool {
	inc := math.Abs(o.Inclination)
	return inc > threshold && inc < 180-threshold
}

// Element weights for SpecificOrbitSatisfied. Angular elements that are undefined for
// circular or equatorial targets are scaled down by the target's e and sin(i).
const (
	weightSMA          = 1.0
	weightEccentricity = 1.0
	weightInclination  = 1.0
	weightLAN          = 0.5
	weightArgPe        = 0.5
	weightMeanAnomaly  = 0.1
)

// Distance is the weighted relative distance between a live orbit and the target elements.
func Distance(o Orbit, t Target) float64 {
	want := t.elements
	d := 0.0
	d += weightSMA * math.Abs(o.SemiMajorAxis-want.SemiMajorAxis) / want.SemiMajorAxis
	d += weightEccentricity * math.Abs(o.Eccentricity-want.Eccentricity)
	d += weightInclination * angleDelta(o.Inclination, want.Inclination) / 180
	d += weightLAN * math.Abs(math.Sin(want.Inclination*math.Pi/180)) * angleDelta(o.LAN, want.LAN) / 180
	d += weightArgPe * want.Eccentricity * angleDelta(o.ArgumentOfPeriapsis, want.ArgumentOfPeriapsis) / 180
	d += weightMeanAnomaly * angleDelta(o.MeanAnomalyAtEpoch, want.MeanAnomalyAtEpoch) / 180
	return d
}

// SpecificOrbitSatisfied reports whether o matches t within t's deviation window.
func SpecificOrbitSatisfied(o Orbit, t Target) bool {
	if o.Body != t.body || t.elements.SemiMajorAxis <= 0 {
		return false
	}
	return Distance(o, t) <= t.deviation
}

// angleDelta returns the shortest separation of two angles in degrees, in [0,180].
func angleDelta(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 360)
	if d > 180 {
		d = 360 - d
	}
	return d
}

// Anomaly cone geometry, metres.
const (
	SurfaceBand  = 1000.0
	ConeCeiling  = 100000.0
	CloseRadius  = 250.0
	ConeSlope    = 0.25
	MaxFootprint = 5000.0
)

// WithinAnomalyCone reports whether a vessel at vertical separation dv and straight-line
// distance d from an anomaly is close enough to sample it. Near the surface the region is a
// small cylinder; above SurfaceBand it widens with altitude up to MaxFootprint.
func WithinAnomalyCone(dv, d float64) bool {
	if math.IsNaN(dv) || math.IsNaN(d) || d < 0 {
		return false
	}
	adv := math.Abs(dv)
	dh := math.Sqrt(math.Max(d*d-dv*dv, 0))
	switch {
	case adv < SurfaceBand:
		return dh < CloseRadius
	case adv < ConeCeiling:
		return dh < math.Min(adv*ConeSlope, MaxFootprint)
	default:
		return false
	}
}
