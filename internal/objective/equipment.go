package objective

import (
	"fmt"
	"sort"
	"strings"

	"contractline/internal/codec"
	"contractline/internal/telemetry"
	"contractline/internal/world"
)

// EquipmentRequest tracks the vessels orbiting the body that carry every required equipment
// group. It is complete while at least one such vessel exists.
type EquipmentRequest struct {
	body     world.Body
	groups   []string
	suitable map[string]bool
}

func NewEquipmentRequest(body world.Body, groups []string) (*EquipmentRequest, error) {
	if len(groups) == 0 {
		return nil, fmt.Errorf("equipment request for %s needs at least one group", body.Name)
	}
	gs := append([]string(nil), groups...)
	sort.Strings(gs)
	return &EquipmentRequest{body: body, groups: gs, suitable: map[string]bool{}}, nil
}

func (e *EquipmentRequest) Kind() Kind       { return KindEquipment }
func (e *EquipmentRequest) Body() world.Body { return e.body }
func (e *EquipmentRequest) Groups() []string { return append([]string(nil), e.groups...) }

func (e *EquipmentRequest) Identity() string {
	return identity(KindEquipment, e.body.Name, strings.Join(e.groups, ","))
}

func (e *EquipmentRequest) Describe() string {
	return fmt.Sprintf("%s around %s (%d suitable)", strings.Join(e.groups, "+"), e.body.Name, len(e.suitable))
}

func (e *EquipmentRequest) Listens() []telemetry.Kind {
	return []telemetry.Kind{
		telemetry.OrbitEntered,
		telemetry.OrbitExited,
		telemetry.VesselCreated,
		telemetry.PartsCoupled,
		telemetry.PartsDecoupled,
	}
}

// Suitable lists the suitable vessels in id order.
func (e *EquipmentRequest) Suitable() []string {
	out := make([]string, 0, len(e.suitable))
	for v := range e.suitable {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func (e *EquipmentRequest) equipped(w world.World, vessel string) bool {
	for _, g := range e.groups {
		if !w.VesselHasGroup(vessel, g) {
			return false
		}
	}
	return true
}

func (e *EquipmentRequest) OnEvent(t *Tree, id NodeID, ev telemetry.Event) {
	w := t.env.World
	if w == nil {
		return
	}
	switch ev.Kind {
	case telemetry.OrbitEntered:
		if ev.Body == e.body.Name && e.equipped(w, ev.Vessel) {
			e.suitable[ev.Vessel] = true
		}
	case telemetry.OrbitExited:
		if ev.Body == e.body.Name {
			delete(e.suitable, ev.Vessel)
		}
	case telemetry.VesselCreated, telemetry.PartsCoupled, telemetry.PartsDecoupled:
		t.schedule(id, t.env.Policy.ReevaluateTicks, func(t *Tree, id NodeID) { e.rescan(t, id) })
		return
	}
	e.update(t, id)
}

// registered picks up vessels that were already in place before the contract went active.
func (e *EquipmentRequest) registered(t *Tree, id NodeID) { e.rescan(t, id) }

func (e *EquipmentRequest) rescan(t *Tree, id NodeID) {
	w := t.env.World
	if w == nil {
		return
	}
	next := map[string]bool{}
	for _, v := range world.OrbitingVessels(w, e.body.Name) {
		if e.equipped(w, v) {
			next[v] = true
		}
	}
	e.suitable = next
	e.update(t, id)
}

func (e *EquipmentRequest) update(t *Tree, id NodeID) {
	if len(e.suitable) > 0 {
		t.set(id, Complete)
	} else {
		t.set(id, Incomplete)
	}
}

func (e *EquipmentRequest) save(w *codec.Writer) {
	w.Int(e.body.Index).List(e.groups).List(e.Suitable())
}

func loadEquipmentRequest(r *codec.Reader, w world.World) (Node, error) {
	bodyIndex := r.Int()
	groups := r.List()
	suitable := r.List()
	if err := r.Err(); err != nil {
		return nil, err
	}
	body, err := resolveBody(w, bodyIndex)
	if err != nil {
		return nil, err
	}
	e, err := NewEquipmentRequest(body, groups)
	if err != nil {
		return nil, err
	}
	for _, v := range suitable {
		e.suitable[v] = true
	}
	return e, nil
}
