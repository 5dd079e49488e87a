package contract

import (
	"errors"
	"reflect"
	"testing"

	"contractline/internal/config"
	"contractline/internal/objective"
	"contractline/internal/telemetry"
	"contractline/internal/world"
)

func newGenerator(t *testing.T) (*Generator, *world.Sandbox) {
	t.Helper()
	sb := world.DefaultSandbox()
	return &Generator{
		Config: config.Default(),
		World:  sb,
		Env:    objective.Env{Bus: telemetry.NewHub()},
	}, sb
}

func TestGenerateRejectsAtActiveCap(t *testing.T) {
	g, _ := newGenerator(t)
	g.Config.Kinds[config.KindSurvey] = withCaps(g.Config.Kinds[config.KindSurvey], 5, 2)

	_, err := g.Generate(Request{Kind: config.KindSurvey, Tier: config.TierTrivial, Active: 2, Seed: 1})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected rejection at the active cap, got %v", err)
	}
	if _, err := g.Generate(Request{Kind: config.KindSurvey, Tier: config.TierTrivial, Active: 1, Seed: 1}); err != nil {
		t.Fatalf("expected a contract below the cap, got %v", err)
	}
}

func TestGenerateRejectsAtOfferedCap(t *testing.T) {
	g, _ := newGenerator(t)
	_, err := g.Generate(Request{Kind: config.KindSurvey, Tier: config.TierTrivial, Offered: 3, Seed: 1})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected rejection at the offered cap, got %v", err)
	}
}

func withCaps(k config.Kind, offered, active int) config.Kind {
	k.MaxOffered, k.MaxActive = offered, active
	return k
}

func TestGenerateIsDeterministicPerSeed(t *testing.T) {
	g, _ := newGenerator(t)
	req := Request{Kind: config.KindSurvey, Tier: config.TierTrivial, Seed: 424242}
	a, err := g.Generate(req)
	if err != nil {
		t.Fatal(err)
	}
	b, err := g.Generate(req)
	if err != nil {
		t.Fatal(err)
	}
	if a.ID != b.ID || a.Body.Name != b.Body.Name || a.Faction != b.Faction || a.Rewards != b.Rewards {
		t.Fatalf("same seed produced different contracts: %+v vs %+v", a, b)
	}
	if !reflect.DeepEqual(a.Tree.Views(), b.Tree.Views()) {
		t.Fatalf("same seed produced different trees")
	}
}

func TestGenerateNeedsReachedLocation(t *testing.T) {
	g, sb := newGenerator(t)
	req := Request{Kind: config.KindSurvey, Tier: config.TierSignificant, Seed: 7}
	if _, err := g.Generate(req); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected rejection before Mun is reached, got %v", err)
	}
	sb.Reach("Mun")
	c, err := g.Generate(req)
	if err != nil {
		t.Fatalf("expected contract once Mun is reached: %v", err)
	}
	allowed := map[string]bool{"Mun": true, "Minmus": true, "Duna": true, "Ike": true}
	if !allowed[c.Body.Name] {
		t.Fatalf("unexpected target %s", c.Body.Name)
	}
}

func TestGenerateNeedsUnlockedEquipment(t *testing.T) {
	g, sb := newGenerator(t)
	req := Request{Kind: config.KindRecon, Tier: config.TierTrivial, Seed: 3}
	if _, err := g.Generate(req); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected rejection with locked imaging platform, got %v", err)
	}
	sb.Unlock("dmImagingPlatform")
	c, err := g.Generate(req)
	if err != nil {
		t.Fatal(err)
	}
	roots := c.Tree.Roots()
	if len(roots) != 1 {
		t.Fatalf("expected a single hold, got %d roots", len(roots))
	}
	kinds := kindsOf(c.Tree, c.Tree.Children(roots[0]))
	if !reflect.DeepEqual(kinds, []objective.Kind{objective.KindEquipment, objective.KindSpecificOrbit}) {
		t.Fatalf("unexpected recon children %v", kinds)
	}
}

func kindsOf(tree *objective.Tree, ids []objective.NodeID) []objective.Kind {
	var out []objective.Kind
	for _, id := range ids {
		n, _ := tree.Node(id)
		out = append(out, n.Kind())
	}
	return out
}

func TestGenerateRejectsTooFewObjectives(t *testing.T) {
	g, _ := newGenerator(t)
	k := g.Config.Kinds[config.KindSurvey]
	k.Draw, k.MinObjectives = 6, 6
	k.Tiers = map[string]config.TierRule{config.TierTrivial: {Bodies: []string{"Mun"}}}
	g.Config.Kinds[config.KindSurvey] = k

	for seed := int64(0); seed < 20; seed++ {
		_, err := g.Generate(Request{Kind: config.KindSurvey, Tier: config.TierTrivial, Seed: seed})
		if !errors.Is(err, ErrRejected) {
			t.Fatalf("seed %d: atmosphere experiment survived on the Mun: %v", seed, err)
		}
	}
}

func TestSurveyObjectivesAreValidForBody(t *testing.T) {
	g, sb := newGenerator(t)
	sb.Unlock("sensorAtmosphere")
	for seed := int64(0); seed < 50; seed++ {
		c, err := g.Generate(Request{Kind: config.KindSurvey, Tier: config.TierTrivial, Seed: seed})
		if err != nil {
			continue
		}
		agg := c.Tree.Roots()[0]
		children := c.Tree.Children(agg)
		if len(children) < 2 {
			t.Fatalf("seed %d: %d objectives survived", seed, len(children))
		}
		for _, id := range children {
			n, _ := c.Tree.Node(id)
			cs := n.(*objective.CollectScience)
			if !c.Body.Allows(cs.Situation()) {
				t.Fatalf("seed %d: %s impossible at %s", seed, cs.Situation(), c.Body.Name)
			}
			exp, _ := sb.Experiment(cs.Experiment())
			if exp.RequiresAtmosphere && !c.Body.Atmosphere {
				t.Fatalf("seed %d: %s on airless %s", seed, exp.ID, c.Body.Name)
			}
		}
	}
}

func TestRewardsStayWithinJitter(t *testing.T) {
	g, sb := newGenerator(t)
	base := g.Config.Rewards.FundsReward
	for seed := int64(0); seed < 30; seed++ {
		c, err := g.Generate(Request{Kind: config.KindSurvey, Tier: config.TierTrivial, Seed: seed})
		if err != nil {
			continue
		}
		n, _ := c.Tree.Node(c.Tree.Children(c.Tree.Roots()[0])[0])
		sit := n.(*objective.CollectScience).Situation()
		mid := base * g.Config.Tiers[config.TierTrivial].Multiplier * sb.SituationWeight(c.Body.Name, sit)
		if got := c.Rewards.FundsReward; got < mid*0.85-0.01 || got > mid*1.15+0.01 {
			t.Fatalf("seed %d: reward %.2f outside %.2f +/- 15%%", seed, got, mid)
		}
	}
}

func TestFactionComesFromKnownSources(t *testing.T) {
	g, sb := newGenerator(t)
	known := map[string]bool{g.Config.Factions.Default: true}
	for _, f := range sb.Factions() {
		known[f] = true
	}
	for seed := int64(0); seed < 30; seed++ {
		c, err := g.Generate(Request{Kind: config.KindSurvey, Tier: config.TierTrivial, Seed: seed})
		if err != nil {
			continue
		}
		if !known[c.Faction] {
			t.Fatalf("seed %d: unknown faction %q", seed, c.Faction)
		}
	}
}

func TestGenerateOtherKinds(t *testing.T) {
	g, sb := newGenerator(t)
	sb.Unlock("dmAsteroidDrill")
	cases := []struct {
		kind string
		root objective.Kind
		leaf objective.Kind
	}{
		{config.KindAnomaly, objective.KindAggregate, objective.KindAnomalySample},
		{config.KindAsteroid, objective.KindAggregate, objective.KindAsteroidSample},
		{config.KindOrbital, objective.KindOrbitHold, objective.KindInclination},
	}
	for _, tc := range cases {
		t.Run(tc.kind, func(t *testing.T) {
			var c *Contract
			for seed := int64(0); seed < 50 && c == nil; seed++ {
				c, _ = g.Generate(Request{Kind: tc.kind, Tier: config.TierTrivial, Seed: seed})
			}
			if c == nil {
				t.Fatalf("no %s contract in 50 seeds", tc.kind)
			}
			root, _ := c.Tree.Node(c.Tree.Roots()[0])
			if root.Kind() != tc.root {
				t.Fatalf("expected %s root, got %s", tc.root, root.Kind())
			}
			found := false
			for _, k := range kindsOf(c.Tree, c.Tree.Children(c.Tree.Roots()[0])) {
				found = found || k == tc.leaf
			}
			if !found {
				t.Fatalf("no %s objective under %s", tc.leaf, tc.root)
			}
		})
	}
}

func TestGenerateUnknownKindIsNotARejection(t *testing.T) {
	g, _ := newGenerator(t)
	_, err := g.Generate(Request{Kind: "racing", Tier: config.TierTrivial})
	if err == nil || errors.Is(err, ErrRejected) {
		t.Fatalf("expected a plain error, got %v", err)
	}
}
