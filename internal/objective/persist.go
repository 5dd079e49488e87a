package objective

import (
	"errors"
	"fmt"

	"contractline/internal/codec"
	"contractline/internal/world"
)

type loadFunc func(r *codec.Reader, w world.World) (Node, error)

var loaders = map[Kind]loadFunc{
	KindAggregate:      loadAggregate,
	KindCollectScience: loadCollectScience,
	KindAnomalySample:  loadAnomalySample,
	KindAsteroidSample: loadAsteroidSample,
	KindReachLocation:  loadReachLocation,
	KindOrbitHold:      loadOrbitHold,
	KindEccentricity:   loadEccentricity,
	KindInclination:    loadInclination,
	KindEquipment:      loadEquipmentRequest,
	KindSpecificOrbit:  loadSpecificOrbit,
}

// Save writes one record per node in pre-order. Each record carries, after the version, the
// position of its parent record (-1 at top level), the node identity, state and latch flag,
// then the kind's own fields.
func (t *Tree) Save() []codec.Record {
	pos := map[NodeID]int{}
	var out []codec.Record
	t.Walk(func(id NodeID, _ int) {
		e := t.nodes[id]
		parent := -1
		if e.parent != Root {
			parent = pos[e.parent]
		}
		pos[id] = len(out)
		w := codec.NewWriter().
			Int(parent).
			String(e.node.Identity()).
			String(e.state.String()).
			Bool(e.latched)
		e.node.save(w)
		out = append(out, w.Record(string(e.node.Kind())))
	})
	return out
}

// SaveLines is Save rendered as text lines.
func (t *Tree) SaveLines() []string {
	recs := t.Save()
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.String()
	}
	return out
}

// Load rebuilds nodes from records produced by Save. A record that cannot be rebuilt is
// dropped along with every record beneath it; the rest of the tree loads normally. Load
// returns how many records were dropped. Loaded nodes are not registered.
func (t *Tree) Load(records []codec.Record) int {
	ids := make(map[int]NodeID, len(records))
	dropped := 0
	for i, rec := range records {
		id, err := t.loadOne(rec, ids)
		if err != nil {
			dropped++
			t.logf("objective: drop record %d (%s): %v", i, rec.Key, err)
			continue
		}
		ids[i] = id
	}
	t.settleAll()
	return dropped
}

// LoadLines parses lines and loads them. Unparsable lines are dropped in place.
func (t *Tree) LoadLines(lines []string) int {
	recs := make([]codec.Record, len(lines))
	for i, line := range lines {
		rec, err := codec.Parse(line)
		if err != nil {
			rec = codec.Record{}
		}
		recs[i] = rec
	}
	return t.Load(recs)
}

var errParentDropped = errors.New("parent record was dropped")

func (t *Tree) loadOne(rec codec.Record, ids map[int]NodeID) (NodeID, error) {
	load, ok := loaders[Kind(rec.Key)]
	if !ok {
		return 0, fmt.Errorf("unknown kind %q", rec.Key)
	}
	r := codec.NewReader(rec)
	parentPos := r.Int()
	ident := r.RequiredString()
	stateName := r.RequiredString()
	latched := r.Bool()
	if err := r.Err(); err != nil {
		return 0, err
	}
	state, err := ParseState(stateName)
	if err != nil {
		return 0, err
	}
	n, err := load(r, t.env.World)
	if err != nil {
		return 0, err
	}
	if n.Identity() != ident {
		return 0, fmt.Errorf("identity mismatch for %s", n.Describe())
	}
	parent := Root
	if parentPos >= 0 {
		p, ok := ids[parentPos]
		if !ok {
			return 0, errParentDropped
		}
		parent = p
	}
	id, err := t.Add(parent, n)
	if err != nil {
		return 0, err
	}
	e := t.nodes[id]
	e.state = state
	e.latched = latched && state == Disabled
	return id, nil
}

// settleAll lets containers re-evaluate against the children that survived, deepest first.
func (t *Tree) settleAll() {
	var order []NodeID
	t.Walk(func(id NodeID, _ int) { order = append(order, id) })
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		e := t.nodes[id]
		if e.state == Disabled {
			continue
		}
		if s, ok := e.node.(settler); ok {
			t.guard(id, "settle", func() { s.settle(t, id) })
		}
	}
}

func resolveBody(w world.World, index int) (world.Body, error) {
	if w == nil {
		return world.Body{}, errors.New("no world to resolve bodies")
	}
	b, ok := w.BodyByIndex(index)
	if !ok {
		return world.Body{}, fmt.Errorf("unknown body index %d", index)
	}
	return b, nil
}

func resolveExperiment(w world.World, id string) (world.Experiment, error) {
	if w == nil {
		return world.Experiment{}, errors.New("no world to resolve experiments")
	}
	exp, ok := w.Experiment(id)
	if !ok {
		return world.Experiment{}, fmt.Errorf("unknown experiment %s", id)
	}
	return exp, nil
}
