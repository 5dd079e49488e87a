package objective

import (
	"fmt"

	"contractline/internal/codec"
	"contractline/internal/telemetry"
	"contractline/internal/world"
)

// Reach modes.
const (
	ReachOrbit  = "orbit"
	ReachLanded = "landed"
)

// ReachLocation completes the first time any vessel enters orbit around, or lands on, the
// target body.
type ReachLocation struct {
	body world.Body
	mode string
}

func NewReachLocation(body world.Body, mode string) (*ReachLocation, error) {
	switch mode {
	case ReachOrbit:
	case ReachLanded:
		if !body.Surface {
			return nil, fmt.Errorf("%s has no surface to land on", body.Name)
		}
	default:
		return nil, fmt.Errorf("unknown reach mode %q", mode)
	}
	return &ReachLocation{body: body, mode: mode}, nil
}

func (l *ReachLocation) Kind() Kind       { return KindReachLocation }
func (l *ReachLocation) Identity() string { return identity(KindReachLocation, l.body.Name, l.mode) }
func (l *ReachLocation) Body() world.Body { return l.body }
func (l *ReachLocation) Mode() string     { return l.mode }
func (l *ReachLocation) Describe() string { return l.mode + " " + l.body.Name }

func (l *ReachLocation) Listens() []telemetry.Kind {
	if l.mode == ReachLanded {
		return []telemetry.Kind{telemetry.Landed}
	}
	return []telemetry.Kind{telemetry.OrbitEntered}
}

func (l *ReachLocation) OnEvent(t *Tree, id NodeID, ev telemetry.Event) {
	if ev.Body == l.body.Name {
		t.set(id, Complete)
	}
}

func (l *ReachLocation) save(w *codec.Writer) {
	w.Int(l.body.Index).String(l.mode)
}

func loadReachLocation(r *codec.Reader, w world.World) (Node, error) {
	bodyIndex := r.Int()
	mode := r.RequiredString()
	if err := r.Err(); err != nil {
		return nil, err
	}
	body, err := resolveBody(w, bodyIndex)
	if err != nil {
		return nil, err
	}
	return NewReachLocation(body, mode)
}
