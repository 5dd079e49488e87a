package objective

import (
	"fmt"
	"math"
	"strconv"

	"contractline/internal/codec"
	"contractline/internal/orbit"
	"contractline/internal/telemetry"
	"contractline/internal/world"
)

// Element objectives are driven by their OrbitHold parent, which supplies candidate vessels
// every tick. They are not latching: a candidate drifting out of range reverts them.

type elementNode struct{}

func (elementNode) Listens() []telemetry.Kind              { return nil }
func (elementNode) OnEvent(*Tree, NodeID, telemetry.Event) {}
func (elementNode) parentKinds() []Kind                    { return []Kind{KindOrbitHold} }

// anyCandidate sets id complete when some candidate orbiting the body passes ok, incomplete otherwise.
func anyCandidate(t *Tree, id NodeID, body string, candidates []string, ok func(orbit.Orbit) bool) {
	w := t.env.World
	if w != nil {
		for _, v := range candidates {
			o, found := w.Orbit(v)
			if found && o.Body == body && ok(o) {
				t.set(id, Complete)
				return
			}
		}
	}
	t.set(id, Incomplete)
}

// Eccentricity wants an orbit more eccentric than the threshold.
type Eccentricity struct {
	elementNode
	body      world.Body
	threshold float64
}

func NewEccentricity(body world.Body, threshold float64) (*Eccentricity, error) {
	if threshold < 0 || threshold >= 1 {
		return nil, fmt.Errorf("eccentricity threshold %v outside [0,1)", threshold)
	}
	return &Eccentricity{body: body, threshold: quantize(threshold)}, nil
}

func (e *Eccentricity) Kind() Kind         { return KindEccentricity }
func (e *Eccentricity) Threshold() float64 { return e.threshold }
func (e *Eccentricity) Body() world.Body   { return e.body }

func (e *Eccentricity) Identity() string {
	return identity(KindEccentricity, e.body.Name, formatFloat(e.threshold))
}

func (e *Eccentricity) Describe() string {
	return fmt.Sprintf("eccentricity > %.3f around %s", e.threshold, e.body.Name)
}

func (e *Eccentricity) evaluate(t *Tree, id NodeID, candidates []string) {
	anyCandidate(t, id, e.body.Name, candidates, func(o orbit.Orbit) bool {
		return orbit.EccentricitySatisfied(o, e.threshold)
	})
}

func (e *Eccentricity) save(w *codec.Writer) {
	w.Int(e.body.Index).Float(e.threshold)
}

func loadEccentricity(r *codec.Reader, w world.World) (Node, error) {
	bodyIndex := r.Int()
	threshold := r.Float()
	if err := r.Err(); err != nil {
		return nil, err
	}
	body, err := resolveBody(w, bodyIndex)
	if err != nil {
		return nil, err
	}
	return NewEccentricity(body, threshold)
}

// Inclination wants an orbit inclined past the threshold, prograde or retrograde.
type Inclination struct {
	elementNode
	body      world.Body
	threshold float64
}

func NewInclination(body world.Body, threshold float64) (*Inclination, error) {
	if threshold < 0 || threshold >= 90 {
		return nil, fmt.Errorf("inclination threshold %v outside [0,90)", threshold)
	}
	return &Inclination{body: body, threshold: quantize(threshold)}, nil
}

func (i *Inclination) Kind() Kind         { return KindInclination }
func (i *Inclination) Threshold() float64 { return i.threshold }
func (i *Inclination) Body() world.Body   { return i.body }

func (i *Inclination) Identity() string {
	return identity(KindInclination, i.body.Name, formatFloat(i.threshold))
}

func (i *Inclination) Describe() string {
	return fmt.Sprintf("inclination %.1f..%.1f around %s", i.threshold, 180-i.threshold, i.body.Name)
}

func (i *Inclination) evaluate(t *Tree, id NodeID, candidates []string) {
	anyCandidate(t, id, i.body.Name, candidates, func(o orbit.Orbit) bool {
		return orbit.InclinationSatisfied(o, i.threshold)
	})
}

func (i *Inclination) save(w *codec.Writer) {
	w.Int(i.body.Index).Float(i.threshold)
}

func loadInclination(r *codec.Reader, w world.World) (Node, error) {
	bodyIndex := r.Int()
	threshold := r.Float()
	if err := r.Err(); err != nil {
		return nil, err
	}
	body, err := resolveBody(w, bodyIndex)
	if err != nil {
		return nil, err
	}
	return NewInclination(body, threshold)
}

// SpecificOrbit wants a candidate on a fixed target orbit, within the deviation window.
type SpecificOrbit struct {
	elementNode
	bodyIndex int
	target    orbit.Target
}

func NewSpecificOrbit(body world.Body, el orbit.Elements, deviation float64) (*SpecificOrbit, error) {
	el = orbit.Elements{
		Inclination:         quantize(el.Inclination),
		Eccentricity:        quantize(el.Eccentricity),
		SemiMajorAxis:       quantize(el.SemiMajorAxis),
		LAN:                 quantize(el.LAN),
		ArgumentOfPeriapsis: quantize(el.ArgumentOfPeriapsis),
		MeanAnomalyAtEpoch:  quantize(el.MeanAnomalyAtEpoch),
	}
	target, err := orbit.NewTarget(body.Name, el, quantize(deviation))
	if err != nil {
		return nil, err
	}
	return &SpecificOrbit{bodyIndex: body.Index, target: target}, nil
}

func (s *SpecificOrbit) Kind() Kind           { return KindSpecificOrbit }
func (s *SpecificOrbit) Target() orbit.Target { return s.target }

func (s *SpecificOrbit) Identity() string {
	el := s.target.Elements()
	return identity(KindSpecificOrbit, s.target.Body(),
		formatFloat(el.Inclination), formatFloat(el.Eccentricity), formatFloat(el.SemiMajorAxis),
		formatFloat(el.LAN), formatFloat(el.ArgumentOfPeriapsis), formatFloat(el.MeanAnomalyAtEpoch))
}

func (s *SpecificOrbit) Describe() string {
	el := s.target.Elements()
	return fmt.Sprintf("orbit %s sma %.0f e %.3f i %.1f within %.3f",
		s.target.Body(), el.SemiMajorAxis, el.Eccentricity, el.Inclination, s.target.Deviation())
}

func (s *SpecificOrbit) evaluate(t *Tree, id NodeID, candidates []string) {
	anyCandidate(t, id, s.target.Body(), candidates, func(o orbit.Orbit) bool {
		return orbit.SpecificOrbitSatisfied(o, s.target)
	})
}

func (s *SpecificOrbit) save(w *codec.Writer) {
	el := s.target.Elements()
	w.Int(s.bodyIndex).
		Float(el.Inclination).
		Float(el.Eccentricity).
		Float(el.SemiMajorAxis).
		Float(el.LAN).
		Float(el.ArgumentOfPeriapsis).
		Float(el.MeanAnomalyAtEpoch).
		Float(s.target.Deviation())
}

func loadSpecificOrbit(r *codec.Reader, w world.World) (Node, error) {
	bodyIndex := r.Int()
	el := orbit.Elements{
		Inclination:         r.Float(),
		Eccentricity:        r.Float(),
		SemiMajorAxis:       r.Float(),
		LAN:                 r.Float(),
		ArgumentOfPeriapsis: r.Float(),
		MeanAnomalyAtEpoch:  r.Float(),
	}
	deviation := r.Float()
	if err := r.Err(); err != nil {
		return nil, err
	}
	body, err := resolveBody(w, bodyIndex)
	if err != nil {
		return nil, err
	}
	return NewSpecificOrbit(body, el, deviation)
}

// quantize rounds to the saved float precision so identities survive a save/load cycle.
func quantize(v float64) float64 {
	p := math.Pow10(codec.FloatPrecision)
	return math.Round(v*p) / p
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', codec.FloatPrecision, 64)
}
