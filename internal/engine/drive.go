package engine

import (
	"context"
	"database/sql"
	"fmt"

	"contractline/internal/domain"
	"contractline/internal/events"
	"contractline/internal/objective"
	"contractline/internal/telemetry"
	"contractline/internal/world"
)

// Result is what one Publish or Tick changed.
type Result struct {
	Delivered   int                 `json:"delivered"`
	Transitions []domain.Transition `json:"transitions"`
	Settled     []domain.Contract   `json:"settled"`
}

// Listen registers fn for every batch of objective transitions. The returned func removes it.
// fn runs inside the engine call that produced the batch.
func (e *Engine) Listen(fn func([]domain.Transition)) func() {
	if e.listeners == nil {
		e.listeners = map[int]func([]domain.Transition){}
	}
	e.nextID++
	id := e.nextID
	e.listeners[id] = fn
	return func() { delete(e.listeners, id) }
}

// Publish delivers one telemetry event to the live objectives, then settles contracts.
func (e *Engine) Publish(ctx context.Context, ev telemetry.Event) (Result, error) {
	if !ev.Kind.Valid() {
		return Result{}, fmt.Errorf("invalid telemetry kind %q", ev.Kind)
	}
	delivered := e.Hub.Publish(ev)
	res, err := e.settle(ctx)
	res.Delivered = delivered
	return res, err
}

// Tick advances universal time. Timers and deferred re-evaluations run on active contracts
// only.
func (e *Engine) Tick(ctx context.Context, now float64) (Result, error) {
	if now < e.clock {
		return Result{}, fmt.Errorf("invalid tick %.3f: clock is already at %.3f", now, e.clock)
	}
	e.clock = now
	for _, c := range e.contracts {
		if c.IsActive() && c.Tree != nil {
			c.Tree.Tick(now)
		}
	}
	return e.settle(ctx)
}

// settle drains objective transitions, decides finished contracts and writes both to the
// ledger in one transaction.
func (e *Engine) settle(ctx context.Context) (Result, error) {
	res := Result{Transitions: []domain.Transition{}, Settled: []domain.Contract{}}
	for _, c := range e.contracts {
		if c.Tree == nil {
			continue
		}
		if c.Settle(e.clock) {
			res.Settled = append(res.Settled, contractView(c))
		}
		for _, tr := range c.Tree.DrainTransitions() {
			res.Transitions = append(res.Transitions, transitionView(c.ID, tr))
		}
	}
	if len(res.Transitions) == 0 && len(res.Settled) == 0 {
		return res, nil
	}
	if err := e.record(ctx, res); err != nil {
		return res, err
	}
	if len(res.Transitions) > 0 {
		for _, fn := range e.listeners {
			fn(res.Transitions)
		}
	}
	return res, nil
}

func (e *Engine) record(ctx context.Context, res Result) error {
	if e.DB == nil {
		return nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, tr := range res.Transitions {
		if err := e.appendTransition(ctx, tx, tr); err != nil {
			return err
		}
	}
	for _, c := range res.Settled {
		if err := e.Events.Append(ctx, tx, events.ContractSettled, e.SaveID, "contract", c.ID, events.EventPayload{
			"status": c.Status,
			"at":     c.FinishedAt,
		}); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (e *Engine) appendTransition(ctx context.Context, tx *sql.Tx, tr domain.Transition) error {
	return e.Events.Append(ctx, tx, events.ObjectiveChanged, e.SaveID, "objective", tr.ContractID, events.EventPayload{
		"node":     tr.Node,
		"kind":     tr.Kind,
		"identity": tr.Identity,
		"from":     tr.From,
		"to":       tr.To,
		"at":       tr.At,
	})
}

func transitionView(contractID string, tr objective.Transition) domain.Transition {
	return domain.Transition{
		ContractID: contractID,
		Node:       int(tr.Node),
		Kind:       string(tr.Kind),
		Identity:   tr.Identity,
		From:       tr.From.String(),
		To:         tr.To.String(),
		At:         tr.At,
	}
}

// UpsertVessel creates or replaces a vessel in the world. A replaced vessel first leaves its
// old orbit, so objectives drop it before the new one is judged on its own equipment.
func (e *Engine) UpsertVessel(ctx context.Context, v world.VesselDoc) (Result, error) {
	if v.ID == "" {
		return Result{}, fmt.Errorf("vessel id required")
	}
	var evs []telemetry.Event
	if old, ok := e.World.Orbit(v.ID); ok {
		evs = append(evs, telemetry.Event{Kind: telemetry.OrbitExited, Vessel: v.ID, Body: old.Body})
	}
	e.World.AddVessel(v)
	evs = append(evs, telemetry.Event{Kind: telemetry.VesselCreated, Vessel: v.ID})
	if v.Orbit != nil {
		evs = append(evs, telemetry.Event{Kind: telemetry.OrbitEntered, Vessel: v.ID, Body: v.Orbit.Body})
	}
	return e.publishAll(ctx, evs)
}

// RemoveVessel deletes a vessel; unknown ids are ignored.
func (e *Engine) RemoveVessel(ctx context.Context, id string) (Result, error) {
	old, inOrbit := e.World.Orbit(id)
	e.World.RemoveVessel(id)
	if !inOrbit {
		return Result{}, nil
	}
	return e.Publish(ctx, telemetry.Event{Kind: telemetry.OrbitExited, Vessel: id, Body: old.Body})
}

func (e *Engine) publishAll(ctx context.Context, evs []telemetry.Event) (Result, error) {
	var out Result
	for _, ev := range evs {
		res, err := e.Publish(ctx, ev)
		out.Delivered += res.Delivered
		out.Transitions = append(out.Transitions, res.Transitions...)
		out.Settled = append(out.Settled, res.Settled...)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// Dock merges vessel from into to and reports the coupling to the objectives.
func (e *Engine) Dock(ctx context.Context, from, to string) (Result, error) {
	if err := e.World.Dock(from, to); err != nil {
		return Result{}, err
	}
	return e.Publish(ctx, telemetry.Event{Kind: telemetry.PartsCoupled, Vessel: from, Other: to})
}

// Undock splits groups off from into the new vessel to and reports the decoupling.
func (e *Engine) Undock(ctx context.Context, from, to string, groups []string) (Result, error) {
	if err := e.World.Undock(from, to, groups); err != nil {
		return Result{}, err
	}
	return e.Publish(ctx, telemetry.Event{Kind: telemetry.PartsDecoupled, Vessel: from, Other: to})
}

func (e *Engine) Reach(location string)   { e.World.Reach(location) }
func (e *Engine) Unlock(equipment string) { e.World.Unlock(equipment) }
