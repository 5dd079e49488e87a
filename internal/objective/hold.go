package objective

import (
	"fmt"

	"contractline/internal/codec"
	"contractline/internal/telemetry"
	"contractline/internal/world"
)

// OrbitHold requires its children to stay satisfied together for an uninterrupted duration
// of world time. Each tick it hands candidate vessels to its children, then starts, continues
// or resets its timer. On completion it disables itself and every descendant.
type OrbitHold struct {
	body     world.Body
	duration float64
	start    float64
	elapsed  float64
}

func NewOrbitHold(body world.Body, duration float64) (*OrbitHold, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("hold duration must be positive, got %v", duration)
	}
	return &OrbitHold{body: body, duration: quantize(duration), start: -1}, nil
}

func (h *OrbitHold) Kind() Kind                             { return KindOrbitHold }
func (h *OrbitHold) Listens() []telemetry.Kind              { return nil }
func (h *OrbitHold) OnEvent(*Tree, NodeID, telemetry.Event) {}
func (h *OrbitHold) container()                             {}

func (h *OrbitHold) Identity() string {
	return identity(KindOrbitHold, h.body.Name, formatFloat(h.duration))
}

func (h *OrbitHold) Body() world.Body   { return h.body }
func (h *OrbitHold) Duration() float64  { return h.duration }
func (h *OrbitHold) Elapsed() float64   { return h.elapsed }
func (h *OrbitHold) Timing() bool       { return h.start >= 0 }
func (h *OrbitHold) StartedAt() float64 { return h.start }

func (h *OrbitHold) Describe() string {
	return fmt.Sprintf("hold around %s %.0f/%.0fs", h.body.Name, h.elapsed, h.duration)
}

// Candidates are the vessels handed to element children: the suitable set of an
// EquipmentRequest child when there is one, otherwise everything orbiting the body.
func (h *OrbitHold) Candidates(t *Tree, id NodeID) []string {
	for _, c := range t.Children(id) {
		if n, ok := t.Node(c); ok {
			if eq, ok := n.(*EquipmentRequest); ok {
				return eq.Suitable()
			}
		}
	}
	if t.env.World == nil {
		return nil
	}
	return world.OrbitingVessels(t.env.World, h.body.Name)
}

func (h *OrbitHold) OnTick(t *Tree, id NodeID, now float64) {
	children := t.Children(id)
	candidates := h.Candidates(t, id)
	for _, c := range children {
		n, _ := t.Node(c)
		if ev, ok := n.(evaluator); ok && t.State(c) != Disabled {
			t.guard(c, "evaluate", func() { ev.evaluate(t, c, candidates) })
		}
	}
	all := len(children) > 0
	for _, c := range children {
		if !t.Satisfied(c) {
			all = false
			break
		}
	}
	if !all {
		h.start, h.elapsed = -1, 0
		return
	}
	if h.start < 0 {
		h.start = now
	}
	h.elapsed = now - h.start
	if h.elapsed >= h.duration {
		t.set(id, Complete)
		t.Disable(id)
	}
}

func (h *OrbitHold) save(w *codec.Writer) {
	w.Int(h.body.Index).Float(h.duration).Float(h.start).Float(h.elapsed)
}

func loadOrbitHold(r *codec.Reader, w world.World) (Node, error) {
	bodyIndex := r.Int()
	duration := r.Float()
	start := r.FloatOr(-1)
	elapsed := r.FloatOr(0)
	if err := r.Err(); err != nil {
		return nil, err
	}
	body, err := resolveBody(w, bodyIndex)
	if err != nil {
		return nil, err
	}
	h, err := NewOrbitHold(body, duration)
	if err != nil {
		return nil, err
	}
	if start < 0 {
		start, elapsed = -1, 0
	}
	h.start, h.elapsed = start, elapsed
	return h, nil
}
