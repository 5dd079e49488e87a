package contract

import (
	"math/rand"
	"sort"

	"contractline/internal/objective"
	"contractline/internal/orbit"
	"contractline/internal/world"
)

func hasAnomalies(b world.Body) bool { return len(b.Anomalies) > 0 }

// situations lists where exp can run at body.
func situations(exp world.Experiment, body world.Body) []world.Situation {
	if exp.RequiresAtmosphere && !body.Atmosphere {
		return nil
	}
	var out []world.Situation
	for _, s := range exp.Situations {
		if body.Allows(s) {
			out = append(out, s)
		}
	}
	return out
}

func pick[T any](rng *rand.Rand, items []T) T {
	return items[rng.Intn(len(items))]
}

// usable drops experiments whose equipment the player cannot build yet.
func (g *Generator) usable(exp world.Experiment) bool {
	return exp.Equipment == "" || g.World.EquipmentUnlocked(exp.Equipment)
}

// surveyNode synthesizes one science objective, or nil when the pairing cannot work.
func (g *Generator) surveyNode(rng *rand.Rand, exp world.Experiment, body world.Body) *objective.CollectScience {
	if !g.usable(exp) {
		return nil
	}
	sits := situations(exp, body)
	if len(sits) == 0 {
		return nil
	}
	sit := pick(rng, sits)
	biome := ""
	if exp.BiomeDependent(sit) && len(body.Biomes) > 0 {
		biome = pick(rng, body.Biomes)
	}
	n, err := objective.NewCollectScience(exp, body, sit, biome)
	if err != nil {
		return nil
	}
	return n
}

func buildSurvey(g *Generator, b *build) error {
	agg, err := b.tree.Add(objective.Root, objective.NewAggregate(b.body.Name+" survey", b.kind.Margin))
	if err != nil {
		return err
	}
	for _, exp := range b.drawn {
		n := g.surveyNode(b.rng, exp, b.body)
		if n == nil {
			continue
		}
		if _, err := b.tree.Add(agg, n); err != nil {
			continue
		}
		b.took(exp, n.Situation())
	}
	return nil
}

func buildAnomaly(g *Generator, b *build) error {
	anomaly := pick(b.rng, b.body.Anomalies)
	agg, err := b.tree.Add(objective.Root, objective.NewAggregate(anomaly, b.kind.Margin))
	if err != nil {
		return err
	}
	for _, exp := range b.drawn {
		if !g.usable(exp) {
			continue
		}
		sits := situations(exp, b.body)
		if len(sits) == 0 {
			continue
		}
		n, err := objective.NewAnomalySample(exp, b.body, anomaly, "")
		if err != nil {
			continue
		}
		if _, err := b.tree.Add(agg, n); err != nil {
			continue
		}
		b.took(exp, sits[0])
	}
	return nil
}

func buildAsteroid(g *Generator, b *build) error {
	class := pick(b.rng, b.rule.SizeClasses)
	agg, err := b.tree.Add(objective.Root, objective.NewAggregate("asteroid "+class, b.kind.Margin))
	if err != nil {
		return err
	}
	for _, exp := range b.drawn {
		if !g.usable(exp) || !(exp.Supports(world.InSpaceLow) || exp.Supports(world.InSpaceHigh)) {
			continue
		}
		n, err := objective.NewAsteroidSample(exp, class)
		if err != nil {
			continue
		}
		if _, err := b.tree.Add(agg, n); err != nil {
			continue
		}
		b.took(exp, world.InSpaceLow)
	}
	return nil
}

// holdGroups collects the equipment groups of the drawn orbital experiments plus the kind's
// own equipment. Each usable experiment counts as one objective.
func (g *Generator) holdGroups(b *build) []string {
	set := map[string]bool{}
	for _, eq := range b.kind.Equipment {
		set[eq] = true
	}
	for _, exp := range b.drawn {
		if !g.usable(exp) || !(exp.Supports(world.InSpaceLow) || exp.Supports(world.InSpaceHigh)) {
			continue
		}
		if exp.Equipment != "" {
			set[exp.Equipment] = true
		}
		b.took(exp, world.InSpaceHigh)
	}
	out := make([]string, 0, len(set))
	for eq := range set {
		out = append(out, eq)
	}
	sort.Strings(out)
	return out
}

// addHold places an OrbitHold with an equipment request under it. The caller adds the
// element objectives.
func (g *Generator) addHold(b *build) (objective.NodeID, error) {
	groups := g.holdGroups(b)
	hold, err := objective.NewOrbitHold(b.body, b.rule.HoldSeconds)
	if err != nil {
		return 0, err
	}
	holdID, err := b.tree.Add(objective.Root, hold)
	if err != nil {
		return 0, err
	}
	if len(groups) > 0 {
		eq, err := objective.NewEquipmentRequest(b.body, groups)
		if err != nil {
			return 0, err
		}
		if _, err := b.tree.Add(holdID, eq); err != nil {
			return 0, err
		}
	}
	return holdID, nil
}

func buildOrbital(g *Generator, b *build) error {
	holdID, err := g.addHold(b)
	if err != nil {
		return err
	}
	ecc, err := objective.NewEccentricity(b.body, b.rule.Eccentricity)
	if err != nil {
		return err
	}
	if _, err := b.tree.Add(holdID, ecc); err != nil {
		return err
	}
	inc, err := objective.NewInclination(b.body, b.rule.Inclination)
	if err != nil {
		return err
	}
	_, err = b.tree.Add(holdID, inc)
	return err
}

func buildRecon(g *Generator, b *build) error {
	holdID, err := g.addHold(b)
	if err != nil {
		return err
	}
	so, err := objective.NewSpecificOrbit(b.body, reconOrbit(b.rng, b.body), b.rule.Deviation)
	if err != nil {
		return err
	}
	_, err = b.tree.Add(holdID, so)
	return err
}

// reconOrbit draws a low, mildly eccentric target orbit over body.
func reconOrbit(rng *rand.Rand, body world.Body) orbit.Elements {
	radius := body.Radius
	if radius <= 0 {
		radius = 100000
	}
	return orbit.Elements{
		Inclination:         rng.Float64() * 90,
		Eccentricity:        rng.Float64() * 0.15,
		SemiMajorAxis:       radius * (1.15 + rng.Float64()*1.5),
		LAN:                 rng.Float64() * 360,
		ArgumentOfPeriapsis: rng.Float64() * 360,
		MeanAnomalyAtEpoch:  rng.Float64() * 360,
	}
}
