// Package contract holds procedurally generated contracts and the generator that builds them
// from configuration, world progression and a seeded random source.
package contract

import (
	"errors"
	"fmt"

	"contractline/internal/codec"
	"contractline/internal/config"
	"contractline/internal/objective"
	"contractline/internal/world"
)

type Status string

const (
	Offered         Status = "offered"
	Active          Status = "active"
	Completed       Status = "completed"
	Failed          Status = "failed"
	Cancelled       Status = "cancelled"
	DeadlineExpired Status = "deadline_expired"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == Completed || s == Failed || s == Cancelled || s == DeadlineExpired
}

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case Offered, Active, Completed, Failed, Cancelled, DeadlineExpired:
		return st, nil
	}
	return "", fmt.Errorf("unknown contract status %q", s)
}

// Contract is the root of an objective tree.
type Contract struct {
	ID         string
	Kind       string
	Tier       string
	Body       world.Body
	Seed       int64
	Status     Status
	Faction    string
	Rewards    config.Rewards
	Deadline   float64
	OfferedAt  float64
	AcceptedAt float64
	FinishedAt float64
	Tree       *objective.Tree
}

// IsActive is the only view objectives get of their contract.
func (c *Contract) IsActive() bool { return c.Status == Active }

// AttachTree gives the contract an empty objective tree bound to env.
func (c *Contract) AttachTree(env objective.Env) *objective.Tree {
	env.Active = c.IsActive
	c.Tree = objective.NewTree(env)
	return c.Tree
}

func ensureTransition(from, to Status) error {
	switch from {
	case Offered:
		if to == Active || to == Cancelled {
			return nil
		}
	case Active:
		if to == Completed || to == Failed || to == Cancelled || to == DeadlineExpired {
			return nil
		}
	}
	return fmt.Errorf("invalid contract status transition %s -> %s", from, to)
}

func (c *Contract) transition(to Status, now float64) error {
	if err := ensureTransition(c.Status, to); err != nil {
		return err
	}
	c.Status = to
	switch {
	case to == Active:
		c.AcceptedAt = now
		if c.Tree != nil {
			c.Tree.RegisterAll()
		}
	case to.Terminal():
		c.FinishedAt = now
		if c.Tree != nil {
			c.Tree.UnregisterAll()
		}
	}
	return nil
}

// Accept activates an offered contract and subscribes its objectives.
func (c *Contract) Accept(now float64) error { return c.transition(Active, now) }

// Cancel withdraws an offer or abandons an active contract.
func (c *Contract) Cancel(now float64) error { return c.transition(Cancelled, now) }

// Settle moves an active contract to its outcome once one is decided. It reports whether the
// status changed.
func (c *Contract) Settle(now float64) bool {
	if c.Status != Active || c.Tree == nil {
		return false
	}
	var to Status
	switch {
	case c.Tree.AnyFailed():
		to = Failed
	case c.Tree.AllSatisfied():
		to = Completed
	case c.Deadline > 0 && now-c.AcceptedAt > c.Deadline:
		to = DeadlineExpired
	default:
		return false
	}
	return c.transition(to, now) == nil
}

// ErrCorrupt marks a contract record that cannot be restored.
var ErrCorrupt = errors.New("corrupt contract record")

// RecordKey is the key of the root contract record.
const RecordKey = "Contract"

// Record encodes everything except the objective tree.
func (c *Contract) Record() codec.Record {
	return codec.NewWriter().
		String(c.ID).
		String(c.Kind).
		String(c.Tier).
		Int(c.Body.Index).
		String(codec.FormatSeed(c.Seed)).
		String(string(c.Status)).
		String(c.Faction).
		Float(c.Rewards.FundsAdvance).
		Float(c.Rewards.FundsReward).
		Float(c.Rewards.FundsPenalty).
		Float(c.Rewards.ReputationReward).
		Float(c.Rewards.ReputationPenalty).
		Float(c.Rewards.Science).
		Float(c.Deadline).
		Float(c.OfferedAt).
		Float(c.AcceptedAt).
		Float(c.FinishedAt).
		Record(RecordKey)
}

// FromRecord restores a contract header. The body index and seed must resolve, and the id
// must still match the one derived from kind, tier and seed.
func FromRecord(rec codec.Record, w world.World) (*Contract, error) {
	if rec.Key != RecordKey {
		return nil, fmt.Errorf("%w: key %q", ErrCorrupt, rec.Key)
	}
	r := codec.NewReader(rec)
	c := &Contract{
		ID:   r.RequiredString(),
		Kind: r.RequiredString(),
		Tier: r.RequiredString(),
	}
	bodyIndex := r.Int()
	seedHex := r.RequiredString()
	status := r.RequiredString()
	c.Faction = r.String()
	c.Rewards = config.Rewards{
		FundsAdvance:      r.FloatOr(0),
		FundsReward:       r.FloatOr(0),
		FundsPenalty:      r.FloatOr(0),
		ReputationReward:  r.FloatOr(0),
		ReputationPenalty: r.FloatOr(0),
		Science:           r.FloatOr(0),
	}
	c.Deadline = r.FloatOr(0)
	c.OfferedAt = r.FloatOr(0)
	c.AcceptedAt = r.FloatOr(0)
	c.FinishedAt = r.FloatOr(0)
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	seed, err := codec.ParseSeed(seedHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	c.Seed = seed
	if c.Status, err = ParseStatus(status); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	body, ok := w.BodyByIndex(bodyIndex)
	if !ok {
		return nil, fmt.Errorf("%w: unknown body index %d", ErrCorrupt, bodyIndex)
	}
	c.Body = body
	if want := ID(c.Kind, c.Tier, c.Seed); want != c.ID {
		return nil, fmt.Errorf("%w: id %s does not match seed", ErrCorrupt, c.ID)
	}
	return c, nil
}
