package contract

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/google/uuid"

	"contractline/internal/codec"
	"contractline/internal/config"
	"contractline/internal/objective"
	"contractline/internal/world"
)

// ErrRejected wraps every unmet generation precondition. Callers retry with a new seed later.
var ErrRejected = errors.New("contract rejected")

func reject(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRejected, fmt.Sprintf(format, args...))
}

// ID derives a contract id from its kind, tier and seed.
func ID(kind, tier string, seed int64) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(kind+"|"+tier+"|"+codec.FormatSeed(seed))).String()
}

// Generator builds contracts. Env supplies the bus, policy and logger for new objective trees;
// its World is replaced by the generator's.
type Generator struct {
	Config *config.Config
	World  world.World
	Env    objective.Env
}

// Request describes one generation attempt.
type Request struct {
	Kind string
	Tier string
	// Offered and Active count existing contracts of the same kind.
	Offered int
	Active  int
	Seed    int64
	Now     float64
}

// build carries the state of one attempt through the kind builders.
type build struct {
	rng       *rand.Rand
	kind      config.Kind
	rule      config.TierRule
	body      world.Body
	drawn     []world.Experiment
	tree      *objective.Tree
	primary   world.Experiment
	situation world.Situation
	count     int
}

func (b *build) took(exp world.Experiment, sit world.Situation) {
	if b.count == 0 {
		b.primary = exp
		b.situation = sit
	}
	b.count++
}

type kindSpec struct {
	keepBody func(world.Body) bool
	build    func(g *Generator, b *build) error
}

var kinds = map[string]kindSpec{
	config.KindSurvey:   {build: buildSurvey},
	config.KindAnomaly:  {keepBody: hasAnomalies, build: buildAnomaly},
	config.KindAsteroid: {build: buildAsteroid},
	config.KindOrbital:  {build: buildOrbital},
	config.KindRecon:    {build: buildRecon},
}

// Generate runs the generation pipeline for req. Every precondition failure returns an error
// wrapping ErrRejected; other errors mean the request itself is wrong.
func (g *Generator) Generate(req Request) (*Contract, error) {
	if g.Config == nil || g.World == nil {
		return nil, errors.New("generator needs config and world")
	}
	kc, ok := g.Config.Kinds[req.Kind]
	spec, known := kinds[req.Kind]
	if !ok || !known {
		return nil, fmt.Errorf("unknown contract kind %s", req.Kind)
	}
	tier, ok := g.Config.Tiers[req.Tier]
	if !ok {
		return nil, fmt.Errorf("unknown tier %s", req.Tier)
	}
	if req.Offered >= kc.MaxOffered {
		return nil, reject("%d %s contracts already offered", req.Offered, req.Kind)
	}
	if req.Active >= kc.MaxActive {
		return nil, reject("%d %s contracts already active", req.Active, req.Kind)
	}

	rule, ok := kc.Tiers[req.Tier]
	if !ok {
		return nil, reject("%s contracts have no %s tier", req.Kind, req.Tier)
	}

	rng := rand.New(rand.NewSource(req.Seed))
	body, err := g.selectBody(rng, rule, spec.keepBody)
	if err != nil {
		return nil, err
	}

	for _, eq := range kc.Equipment {
		if !g.World.EquipmentAvailable(eq) {
			return nil, reject("equipment %s does not exist", eq)
		}
		if !g.World.EquipmentUnlocked(eq) {
			return nil, reject("equipment %s is not unlocked", eq)
		}
	}

	c := &Contract{
		ID:        ID(req.Kind, req.Tier, req.Seed),
		Kind:      req.Kind,
		Tier:      req.Tier,
		Body:      body,
		Seed:      req.Seed,
		Status:    Offered,
		Deadline:  kc.DeadlineSeconds,
		OfferedAt: req.Now,
	}
	env := g.Env
	env.World = g.World
	b := &build{
		rng:   rng,
		kind:  kc,
		rule:  rule,
		body:  body,
		drawn: draw(rng, g.pool(kc.Categories), kc.Draw),
		tree:  c.AttachTree(env),
	}
	if err := spec.build(g, b); err != nil {
		return nil, err
	}
	if b.count < kc.MinObjectives {
		return nil, reject("%d of %d objectives survived, need %d", b.count, len(b.drawn), kc.MinObjectives)
	}

	c.Rewards = g.rewards(rng, tier, body, b.situation)
	c.Faction = g.faction(rng, b.primary)
	return c, nil
}

func (g *Generator) selectBody(rng *rand.Rand, rule config.TierRule, keep func(world.Body) bool) (world.Body, error) {
	if rule.RequiresReached != "" && !g.World.LocationReached(rule.RequiresReached) {
		return world.Body{}, reject("%s has not been reached", rule.RequiresReached)
	}
	names := append([]string(nil), rule.Bodies...)
	if rule.NextUnreached > 0 {
		names = append(names, g.World.NextUnreached(rule.NextUnreached)...)
	}
	seen := map[string]bool{}
	var candidates []world.Body
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		b, ok := g.World.BodyByName(name)
		if !ok || (keep != nil && !keep(b)) {
			continue
		}
		candidates = append(candidates, b)
	}
	if len(candidates) == 0 {
		return world.Body{}, reject("no candidate bodies")
	}
	return candidates[rng.Intn(len(candidates))], nil
}

// pool returns catalog experiments in any of the categories, in catalog order.
func (g *Generator) pool(categories []string) []world.Experiment {
	var out []world.Experiment
	for _, exp := range g.World.Experiments() {
		for _, cat := range categories {
			if exp.Category == cat {
				out = append(out, exp)
				break
			}
		}
	}
	return out
}

// draw picks up to n distinct experiments.
func draw(rng *rand.Rand, pool []world.Experiment, n int) []world.Experiment {
	if n > len(pool) {
		n = len(pool)
	}
	out := make([]world.Experiment, 0, n)
	for _, i := range rng.Perm(len(pool))[:n] {
		out = append(out, pool[i])
	}
	return out
}

func (g *Generator) rewards(rng *rand.Rand, tier config.Tier, body world.Body, sit world.Situation) config.Rewards {
	base := g.Config.Rewards
	scale := tier.Multiplier
	if sit != "" {
		scale *= g.World.SituationWeight(body.Name, sit)
	}
	spread := g.Config.Policy.RewardJitter
	scaled := func(v float64) float64 {
		jitter := 1 - spread + rng.Float64()*2*spread
		return math.Round(v*scale*jitter*100) / 100
	}
	return config.Rewards{
		FundsAdvance:      scaled(base.FundsAdvance),
		FundsReward:       scaled(base.FundsReward),
		FundsPenalty:      scaled(base.FundsPenalty),
		ReputationReward:  scaled(base.ReputationReward),
		ReputationPenalty: scaled(base.ReputationPenalty),
		Science:           scaled(base.Science),
	}
}

func (g *Generator) faction(rng *rand.Rand, primary world.Experiment) string {
	f := g.Config.Factions
	roll := rng.Float64() * (f.Weights.Default + f.Weights.Experiment + f.Weights.Random)
	switch {
	case roll < f.Weights.Default && f.Default != "":
		return f.Default
	case roll < f.Weights.Default+f.Weights.Experiment && primary.Faction != "":
		return primary.Faction
	}
	if registry := g.World.Factions(); len(registry) > 0 {
		return registry[rng.Intn(len(registry))]
	}
	if primary.Faction != "" {
		return primary.Faction
	}
	return f.Default
}
