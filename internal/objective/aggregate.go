package objective

import (
	"fmt"

	"contractline/internal/codec"
	"contractline/internal/telemetry"
	"contractline/internal/world"
)

// Aggregate completes once enough of its children are satisfied. The threshold is
// len(children)-margin, taken the first time the aggregate registers with children (or, for an
// aggregate registered empty, when its first child is added), and is kept from then on even if
// children are removed.
type Aggregate struct {
	label    string
	margin   int
	required int
	frozen   bool
}

func NewAggregate(label string, margin int) *Aggregate {
	if margin < 0 {
		margin = 0
	}
	return &Aggregate{label: label, margin: margin}
}

func (a *Aggregate) Kind() Kind                             { return KindAggregate }
func (a *Aggregate) Identity() string                       { return identity(KindAggregate, a.label) }
func (a *Aggregate) Listens() []telemetry.Kind              { return nil }
func (a *Aggregate) OnEvent(*Tree, NodeID, telemetry.Event) {}
func (a *Aggregate) container()                             {}

func (a *Aggregate) Label() string { return a.label }
func (a *Aggregate) Margin() int   { return a.margin }

// Required is the frozen threshold, or -1 before the aggregate has registered.
func (a *Aggregate) Required() int {
	if !a.frozen {
		return -1
	}
	return a.required
}

func (a *Aggregate) Frozen() bool { return a.frozen }

func (a *Aggregate) Describe() string {
	if !a.frozen {
		return fmt.Sprintf("%s: all but %d", a.label, a.margin)
	}
	return fmt.Sprintf("%s: %d required", a.label, a.required)
}

// CompletionCount counts satisfied children of the aggregate at id.
func (a *Aggregate) CompletionCount(t *Tree, id NodeID) int {
	n := 0
	for _, c := range t.Children(id) {
		if t.Satisfied(c) {
			n++
		}
	}
	return n
}

func (a *Aggregate) registered(t *Tree, id NodeID) {
	if !a.frozen {
		n := len(t.Children(id))
		if n == 0 {
			return
		}
		a.required = clamp(n-a.margin, 0, n)
		a.frozen = true
	}
	a.evaluate(t, id)
}

func (a *Aggregate) childChanged(t *Tree, id NodeID) { a.evaluate(t, id) }
func (a *Aggregate) settle(t *Tree, id NodeID)       { a.evaluate(t, id) }

func (a *Aggregate) evaluate(t *Tree, id NodeID) {
	if !a.frozen {
		return
	}
	if a.CompletionCount(t, id) >= a.required {
		t.set(id, Complete)
		return
	}
	if t.State(id) == Complete {
		t.set(id, Incomplete)
	}
}

func (a *Aggregate) save(w *codec.Writer) {
	w.String(a.label).Int(a.margin).Int(a.required).Bool(a.frozen)
}

func loadAggregate(r *codec.Reader, _ world.World) (Node, error) {
	a := &Aggregate{
		label:    r.String(),
		margin:   r.Int(),
		required: r.Int(),
		frozen:   r.Bool(),
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	if a.margin < 0 || a.required < 0 {
		return nil, fmt.Errorf("negative threshold %d/%d", a.margin, a.required)
	}
	return a, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
