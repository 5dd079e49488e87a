package objective

import (
	"errors"
	"fmt"
	"log"

	"contractline/internal/codec"
	"contractline/internal/telemetry"
	"contractline/internal/world"
)

var ErrDuplicate = errors.New("duplicate objective among siblings")

// Policy holds the tunables nodes consult at runtime.
type Policy struct {
	// SampleFraction of a subject's maximum value must be returned before a sample counts.
	SampleFraction float64
	// ReevaluateTicks delays equipment checks after docking so the host can finish
	// moving parts between vessels.
	ReevaluateTicks int
}

func DefaultPolicy() Policy {
	return Policy{SampleFraction: 0.3, ReevaluateTicks: 30}
}

// Env is everything a tree reads from outside.
type Env struct {
	Bus    telemetry.Bus
	World  world.World
	Active func() bool
	Policy Policy
	Logger *log.Logger
}

// Node is one objective. The tree owns its state; nodes own their kind-specific progress.
type Node interface {
	Kind() Kind
	Identity() string
	// Listens lists the telemetry kinds delivered to OnEvent while registered.
	Listens() []telemetry.Kind
	OnEvent(t *Tree, id NodeID, ev telemetry.Event)
	// Describe is a short technical summary for listings.
	Describe() string
	save(w *codec.Writer)
}

// Optional node capabilities.
type (
	ticker interface {
		OnTick(t *Tree, id NodeID, now float64)
	}
	container interface {
		container()
	}
	watcher interface {
		childChanged(t *Tree, id NodeID)
	}
	registrant interface {
		registered(t *Tree, id NodeID)
	}
	evaluator interface {
		evaluate(t *Tree, id NodeID, candidates []string)
	}
	settler interface {
		settle(t *Tree, id NodeID)
	}
	parented interface {
		parentKinds() []Kind
	}
)

type deferred struct {
	remaining int
	run       func(t *Tree, id NodeID)
}

type entry struct {
	node       Node
	parent     NodeID
	children   []NodeID
	state      State
	latched    bool
	registered bool
	dying      bool
	sub        telemetry.Subscription
	tasks      []*deferred
}

// Transition records one state change for the ledger.
type Transition struct {
	Node     NodeID  `json:"node"`
	Kind     Kind    `json:"kind"`
	Identity string  `json:"identity"`
	From     State   `json:"from"`
	To       State   `json:"to"`
	At       float64 `json:"at"`
}

// Tree is an arena of nodes. It is driven from a single thread: telemetry callbacks and
// Tick must never run concurrently.
type Tree struct {
	env     Env
	nodes   []*entry
	roots   []NodeID
	now     float64
	pending []Transition
}

func NewTree(env Env) *Tree {
	if env.Policy == (Policy{}) {
		env.Policy = DefaultPolicy()
	}
	return &Tree{env: env}
}

func (t *Tree) Env() Env { return t.env }

func (t *Tree) logf(format string, args ...any) {
	if t.env.Logger != nil {
		t.env.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

func (t *Tree) active() bool {
	return t.env.Active == nil || t.env.Active()
}

func (t *Tree) entry(id NodeID) *entry {
	if id < 0 || int(id) >= len(t.nodes) {
		return nil
	}
	return t.nodes[id]
}

// guard keeps a failing handler from escaping into the host.
func (t *Tree) guard(id NodeID, what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			t.logf("objective %d: %s: recovered: %v", id, what, r)
		}
	}()
	fn()
}

// Add attaches n under parent (Root for top level).
func (t *Tree) Add(parent NodeID, n Node) (NodeID, error) {
	if n == nil {
		return 0, errors.New("nil objective")
	}
	var siblings []NodeID
	if parent == Root {
		if _, ok := n.(parented); ok {
			return 0, fmt.Errorf("%s cannot be a top-level objective", n.Kind())
		}
		siblings = t.roots
	} else {
		pe := t.entry(parent)
		if pe == nil {
			return 0, fmt.Errorf("parent %d not found", parent)
		}
		if _, ok := pe.node.(container); !ok {
			return 0, fmt.Errorf("%s cannot hold objectives", pe.node.Kind())
		}
		if req, ok := n.(parented); ok && !kindIn(pe.node.Kind(), req.parentKinds()) {
			return 0, fmt.Errorf("%s cannot be placed under %s", n.Kind(), pe.node.Kind())
		}
		siblings = pe.children
	}
	for _, s := range siblings {
		if t.nodes[s].node.Identity() == n.Identity() {
			return 0, fmt.Errorf("%w: %s", ErrDuplicate, n.Describe())
		}
	}
	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, &entry{node: n, parent: parent})
	if parent == Root {
		t.roots = append(t.roots, id)
	} else {
		pe := t.nodes[parent]
		pe.children = append(pe.children, id)
		if pe.registered {
			t.adopt(parent, id)
		}
	}
	return id, nil
}

// adopt registers a child added under an already registered parent. An aggregate that
// registered while empty takes its threshold from its first child.
func (t *Tree) adopt(parent, id NodeID) {
	t.Register(id)
	pe := t.nodes[parent]
	if agg, ok := pe.node.(*Aggregate); ok && !agg.frozen {
		t.guard(parent, "register", func() { agg.registered(t, parent) })
		return
	}
	t.notifyParent(parent)
}

func kindIn(k Kind, kinds []Kind) bool {
	for _, want := range kinds {
		if k == want {
			return true
		}
	}
	return false
}

// Remove detaches id and its subtree, releasing their subscriptions. The parent re-evaluates
// against the children that remain.
func (t *Tree) Remove(id NodeID) {
	e := t.entry(id)
	if e == nil {
		return
	}
	e.dying = true
	for _, c := range append([]NodeID(nil), e.children...) {
		t.Remove(c)
	}
	t.Unregister(id)
	parent := e.parent
	if parent == Root {
		t.roots = without(t.roots, id)
	} else if pe := t.entry(parent); pe != nil {
		pe.children = without(pe.children, id)
	}
	t.nodes[id] = nil
	t.notifyParent(parent)
}

func without(ids []NodeID, id NodeID) []NodeID {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// Register subscribes the node to the bus. Calling it again is a no-op.
func (t *Tree) Register(id NodeID) {
	e := t.entry(id)
	if e == nil || e.registered || e.state == Disabled {
		return
	}
	e.registered = true
	if kinds := e.node.Listens(); len(kinds) > 0 && t.env.Bus != nil {
		e.sub = t.env.Bus.Subscribe(func(ev telemetry.Event) { t.dispatch(id, ev) }, kinds...)
	}
	if r, ok := e.node.(registrant); ok {
		t.guard(id, "register", func() { r.registered(t, id) })
	}
}

// Unregister drops the node's subscription and any pending deferred work.
func (t *Tree) Unregister(id NodeID) {
	e := t.entry(id)
	if e == nil || !e.registered {
		return
	}
	e.registered = false
	if e.sub != nil {
		e.sub.Unsubscribe()
		e.sub = nil
	}
	e.tasks = nil
}

func (t *Tree) Registered(id NodeID) bool {
	e := t.entry(id)
	return e != nil && e.registered
}

func (t *Tree) RegisterAll() {
	t.Walk(func(id NodeID, _ int) { t.Register(id) })
}

func (t *Tree) UnregisterAll() {
	t.Walk(func(id NodeID, _ int) { t.Unregister(id) })
}

func (t *Tree) dispatch(id NodeID, ev telemetry.Event) {
	e := t.entry(id)
	if e == nil || !e.registered || e.state == Disabled || !t.active() {
		return
	}
	t.guard(id, string(ev.Kind), func() { e.node.OnEvent(t, id, ev) })
}

// schedule runs fn after the given number of ticks, unless the node unregisters first.
func (t *Tree) schedule(id NodeID, ticks int, fn func(t *Tree, id NodeID)) {
	e := t.entry(id)
	if e == nil || !e.registered {
		return
	}
	if ticks < 1 {
		ticks = 1
	}
	e.tasks = append(e.tasks, &deferred{remaining: ticks, run: fn})
}

// Pending is the number of deferred tasks waiting on id.
func (t *Tree) Pending(id NodeID) int {
	if e := t.entry(id); e != nil {
		return len(e.tasks)
	}
	return 0
}

// Tick advances one world-simulation step. Nothing happens while the contract is inactive.
func (t *Tree) Tick(now float64) {
	if !t.active() {
		return
	}
	t.now = now
	for i := range t.nodes {
		t.runTasks(NodeID(i))
	}
	t.Walk(func(id NodeID, _ int) {
		e := t.entry(id)
		if e == nil || !e.registered || e.state == Disabled {
			return
		}
		if tk, ok := e.node.(ticker); ok {
			t.guard(id, "tick", func() { tk.OnTick(t, id, now) })
		}
	})
}

func (t *Tree) runTasks(id NodeID) {
	e := t.entry(id)
	if e == nil || len(e.tasks) == 0 {
		return
	}
	var keep, ready []*deferred
	for _, d := range e.tasks {
		d.remaining--
		if d.remaining <= 0 {
			ready = append(ready, d)
		} else {
			keep = append(keep, d)
		}
	}
	e.tasks = keep
	for _, d := range ready {
		if !e.registered {
			return
		}
		t.guard(id, "deferred", func() { d.run(t, id) })
	}
}

func (t *Tree) set(id NodeID, s State) {
	e := t.entry(id)
	if e == nil || e.state == Disabled || e.state == s {
		return
	}
	from := e.state
	e.state = s
	t.record(id, e, from, s)
	t.notifyParent(e.parent)
}

func (t *Tree) record(id NodeID, e *entry, from, to State) {
	t.pending = append(t.pending, Transition{
		Node:     id,
		Kind:     e.node.Kind(),
		Identity: e.node.Identity(),
		From:     from,
		To:       to,
		At:       t.now,
	})
}

func (t *Tree) notifyParent(parent NodeID) {
	pe := t.entry(parent)
	if pe == nil || pe.dying || pe.state == Disabled {
		return
	}
	if w, ok := pe.node.(watcher); ok {
		t.guard(parent, "child changed", func() { w.childChanged(t, parent) })
	}
}

// Fail marks a node failed. Used by the contract host.
func (t *Tree) Fail(id NodeID) { t.set(id, Failed) }

// Disable freezes id and its subtree permanently. A node that was complete stays satisfied.
func (t *Tree) Disable(id NodeID) {
	e := t.entry(id)
	if e == nil {
		return
	}
	for _, c := range append([]NodeID(nil), e.children...) {
		t.Disable(c)
	}
	if e.state == Disabled {
		return
	}
	t.Unregister(id)
	from := e.state
	e.latched = from == Complete
	e.state = Disabled
	t.record(id, e, from, Disabled)
	t.notifyParent(e.parent)
}

func (t *Tree) State(id NodeID) State {
	if e := t.entry(id); e != nil {
		return e.state
	}
	return Incomplete
}

// Satisfied reports complete, or disabled after completing.
func (t *Tree) Satisfied(id NodeID) bool {
	e := t.entry(id)
	if e == nil {
		return false
	}
	return e.state == Complete || (e.state == Disabled && e.latched)
}

func (t *Tree) Node(id NodeID) (Node, bool) {
	if e := t.entry(id); e != nil {
		return e.node, true
	}
	return nil, false
}

func (t *Tree) Parent(id NodeID) (NodeID, bool) {
	if e := t.entry(id); e != nil {
		return e.parent, true
	}
	return Root, false
}

func (t *Tree) Children(id NodeID) []NodeID {
	if id == Root {
		return append([]NodeID(nil), t.roots...)
	}
	if e := t.entry(id); e != nil {
		return append([]NodeID(nil), e.children...)
	}
	return nil
}

func (t *Tree) Roots() []NodeID { return t.Children(Root) }

// Len counts live nodes.
func (t *Tree) Len() int {
	n := 0
	for _, e := range t.nodes {
		if e != nil {
			n++
		}
	}
	return n
}

// Walk visits live nodes in pre-order with their depth.
func (t *Tree) Walk(fn func(id NodeID, depth int)) {
	var visit func(ids []NodeID, depth int)
	visit = func(ids []NodeID, depth int) {
		for _, id := range ids {
			e := t.entry(id)
			if e == nil {
				continue
			}
			fn(id, depth)
			visit(append([]NodeID(nil), e.children...), depth+1)
		}
	}
	visit(append([]NodeID(nil), t.roots...), 0)
}

// AllSatisfied reports whether every top-level objective is satisfied.
func (t *Tree) AllSatisfied() bool {
	if len(t.roots) == 0 {
		return false
	}
	for _, id := range t.roots {
		if !t.Satisfied(id) {
			return false
		}
	}
	return true
}

// AnyFailed reports whether a top-level objective failed.
func (t *Tree) AnyFailed() bool {
	for _, id := range t.roots {
		if t.State(id) == Failed {
			return true
		}
	}
	return false
}

// DrainTransitions returns and clears the transitions recorded since the last drain.
func (t *Tree) DrainTransitions() []Transition {
	out := t.pending
	t.pending = nil
	return out
}

// View is a flattened, display-friendly node.
type View struct {
	ID        NodeID `json:"id"`
	Parent    NodeID `json:"parent"`
	Depth     int    `json:"depth"`
	Kind      Kind   `json:"kind"`
	Identity  string `json:"identity"`
	State     string `json:"state"`
	Satisfied bool   `json:"satisfied"`
	Summary   string `json:"summary"`
}

func (t *Tree) Views() []View {
	var out []View
	t.Walk(func(id NodeID, depth int) {
		e := t.nodes[id]
		out = append(out, View{
			ID:        id,
			Parent:    e.parent,
			Depth:     depth,
			Kind:      e.node.Kind(),
			Identity:  e.node.Identity(),
			State:     e.state.String(),
			Satisfied: t.Satisfied(id),
			Summary:   e.node.Describe(),
		})
	})
	return out
}
