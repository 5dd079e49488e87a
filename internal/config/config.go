package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"contractline/internal/codec"
)

// Tier names, in increasing difficulty.
const (
	TierTrivial     = "trivial"
	TierSignificant = "significant"
	TierExceptional = "exceptional"
)

// Tiers lists the tier names in order.
var Tiers = []string{TierTrivial, TierSignificant, TierExceptional}

// Contract kind names.
const (
	KindSurvey   = "survey"
	KindAnomaly  = "anomaly"
	KindAsteroid = "asteroid"
	KindOrbital  = "orbital"
	KindRecon    = "recon"
)

// Kinds lists every contract kind the generator can build.
var Kinds = []string{KindSurvey, KindAnomaly, KindAsteroid, KindOrbital, KindRecon}

// Config models contractline.yml.
type Config struct {
	Policy struct {
		SampleFraction  float64 `yaml:"sample_fraction"`
		ReevaluateTicks int     `yaml:"reevaluate_ticks"`
		RewardJitter    float64 `yaml:"reward_jitter"`
	} `yaml:"policy"`
	Tiers    map[string]Tier `yaml:"tiers"`
	Rewards  Rewards         `yaml:"rewards"`
	Factions struct {
		Default string `yaml:"default"`
		Weights struct {
			Default    float64 `yaml:"default"`
			Experiment float64 `yaml:"experiment"`
			Random     float64 `yaml:"random"`
		} `yaml:"weights"`
	} `yaml:"factions"`
	Kinds map[string]Kind `yaml:"kinds"`
}

type Tier struct {
	Multiplier float64 `yaml:"multiplier"`
}

// Rewards are the base values for each reward dimension before scaling.
type Rewards struct {
	FundsAdvance      float64 `yaml:"funds_advance" json:"funds_advance"`
	FundsReward       float64 `yaml:"funds_reward" json:"funds_reward"`
	FundsPenalty      float64 `yaml:"funds_penalty" json:"funds_penalty"`
	ReputationReward  float64 `yaml:"reputation_reward" json:"reputation_reward"`
	ReputationPenalty float64 `yaml:"reputation_penalty" json:"reputation_penalty"`
	Science           float64 `yaml:"science" json:"science"`
}

// Kind configures one contract kind.
type Kind struct {
	MaxOffered      int                 `yaml:"max_offered"`
	MaxActive       int                 `yaml:"max_active"`
	Categories      []string            `yaml:"categories"`
	Draw            int                 `yaml:"draw"`
	MinObjectives   int                 `yaml:"min_objectives"`
	Margin          int                 `yaml:"margin"`
	Equipment       []string            `yaml:"equipment"`
	DeadlineSeconds float64             `yaml:"deadline_seconds"`
	Tiers           map[string]TierRule `yaml:"tiers"`
}

// TierRule gates target selection for one tier of a kind.
type TierRule struct {
	RequiresReached string   `yaml:"requires_reached"`
	Bodies          []string `yaml:"bodies"`
	NextUnreached   int      `yaml:"next_unreached"`
	HoldSeconds     float64  `yaml:"hold_seconds"`
	Eccentricity    float64  `yaml:"eccentricity"`
	Inclination     float64  `yaml:"inclination"`
	Deviation       float64  `yaml:"deviation"`
	SizeClasses     []string `yaml:"size_classes"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with cl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Policy.SampleFraction <= 0 || c.Policy.SampleFraction > 1 {
		return fmt.Errorf("config.policy.sample_fraction must be in (0,1]")
	}
	if c.Policy.ReevaluateTicks < 1 {
		return fmt.Errorf("config.policy.reevaluate_ticks must be at least 1")
	}
	if c.Policy.RewardJitter < 0 || c.Policy.RewardJitter >= 1 {
		return fmt.Errorf("config.policy.reward_jitter must be in [0,1)")
	}
	for _, name := range Tiers {
		tier, ok := c.Tiers[name]
		if !ok {
			return fmt.Errorf("config.tiers.%s is required", name)
		}
		if tier.Multiplier <= 0 {
			return fmt.Errorf("tier %s multiplier must be positive", name)
		}
	}
	for name := range c.Tiers {
		if !isTier(name) {
			return fmt.Errorf("config.tiers has unknown tier %s", name)
		}
	}
	w := c.Factions.Weights
	if w.Default < 0 || w.Experiment < 0 || w.Random < 0 || w.Default+w.Experiment+w.Random <= 0 {
		return fmt.Errorf("config.factions.weights must be non-negative with a positive sum")
	}
	if w.Default > 0 && c.Factions.Default == "" {
		return fmt.Errorf("config.factions.default is required when its weight is set")
	}
	if len(c.Kinds) == 0 {
		return fmt.Errorf("config.kinds is required")
	}
	for name, k := range c.Kinds {
		if !isKind(name) {
			return fmt.Errorf("config.kinds has unknown kind %s", name)
		}
		if err := k.validate(name); err != nil {
			return err
		}
	}
	return nil
}

func (k Kind) validate(name string) error {
	if k.MaxOffered < 1 || k.MaxActive < 1 {
		return fmt.Errorf("kind %s caps must be at least 1", name)
	}
	if len(k.Categories) == 0 {
		return fmt.Errorf("kind %s needs at least one category", name)
	}
	if k.Draw < 1 {
		return fmt.Errorf("kind %s draw must be at least 1", name)
	}
	if k.MinObjectives < 1 || k.MinObjectives > k.Draw {
		return fmt.Errorf("kind %s min_objectives must be between 1 and draw (%d)", name, k.Draw)
	}
	if k.Margin < 0 || k.Margin >= k.MinObjectives {
		return fmt.Errorf("kind %s margin must be below min_objectives", name)
	}
	for _, eq := range k.Equipment {
		if eq == "" {
			return fmt.Errorf("kind %s has empty equipment id", name)
		}
		if strings.ContainsAny(eq, codec.Separator+codec.ListSeparator) {
			return fmt.Errorf("kind %s equipment id %q must not contain %q or %q", name, eq, codec.Separator, codec.ListSeparator)
		}
	}
	if k.DeadlineSeconds < 0 {
		return fmt.Errorf("kind %s deadline_seconds must not be negative", name)
	}
	if len(k.Tiers) == 0 {
		return fmt.Errorf("kind %s needs at least one tier rule", name)
	}
	for tier, rule := range k.Tiers {
		if !isTier(tier) {
			return fmt.Errorf("kind %s has unknown tier %s", name, tier)
		}
		if len(rule.Bodies) == 0 && rule.NextUnreached == 0 {
			return fmt.Errorf("kind %s tier %s has no candidate bodies", name, tier)
		}
		switch name {
		case KindOrbital:
			if rule.HoldSeconds <= 0 {
				return fmt.Errorf("kind %s tier %s hold_seconds must be positive", name, tier)
			}
			if rule.Eccentricity < 0 || rule.Eccentricity >= 1 {
				return fmt.Errorf("kind %s tier %s eccentricity must be in [0,1)", name, tier)
			}
			if rule.Inclination < 0 || rule.Inclination >= 90 {
				return fmt.Errorf("kind %s tier %s inclination must be in [0,90)", name, tier)
			}
		case KindRecon:
			if rule.HoldSeconds <= 0 || rule.Deviation <= 0 {
				return fmt.Errorf("kind %s tier %s needs positive hold_seconds and deviation", name, tier)
			}
		case KindAsteroid:
			if len(rule.SizeClasses) == 0 {
				return fmt.Errorf("kind %s tier %s needs size_classes", name, tier)
			}
			for _, sc := range rule.SizeClasses {
				if strings.ContainsAny(sc, codec.Separator+codec.ListSeparator) {
					return fmt.Errorf("kind %s tier %s size class %q must not contain %q or %q", name, tier, sc, codec.Separator, codec.ListSeparator)
				}
			}
		}
	}
	return nil
}

func isTier(name string) bool {
	for _, t := range Tiers {
		if t == name {
			return true
		}
	}
	return false
}

func isKind(name string) bool {
	for _, k := range Kinds {
		if k == name {
			return true
		}
	}
	return false
}

// KindNames returns the configured kinds in sorted order.
func (c *Config) KindNames() []string {
	out := make([]string, 0, len(c.Kinds))
	for name := range c.Kinds {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "contractline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// YAML renders the config back to YAML.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `policy:
  sample_fraction: 0.3
  reevaluate_ticks: 30
  reward_jitter: 0.15

tiers:
  trivial: {multiplier: 1}
  significant: {multiplier: 1.6}
  exceptional: {multiplier: 2.5}

rewards:
  funds_advance: 8000
  funds_reward: 32000
  funds_penalty: 6000
  reputation_reward: 8
  reputation_penalty: 6
  science: 10

factions:
  default: DMagic Orbital Science
  weights: {default: 0.5, experiment: 0.3, random: 0.2}

kinds:
  survey:
    max_offered: 3
    max_active: 2
    categories: [survey]
    draw: 4
    min_objectives: 2
    margin: 1
    deadline_seconds: 9201600
    tiers:
      trivial: {bodies: [Kerbin, Mun, Minmus]}
      significant: {requires_reached: Mun, bodies: [Mun, Minmus, Duna, Ike], next_unreached: 2}
      exceptional: {requires_reached: Duna, bodies: [Eve, Moho, Jool, Laythe], next_unreached: 3}

  anomaly:
    max_offered: 2
    max_active: 1
    categories: [anomaly, survey]
    draw: 3
    min_objectives: 2
    margin: 0
    equipment: [dmAnomalyScanner]
    deadline_seconds: 9201600
    tiers:
      trivial: {bodies: [Kerbin, Mun]}
      significant: {requires_reached: Mun, bodies: [Mun, Minmus, Duna]}
      exceptional: {requires_reached: Duna, bodies: [Duna, Minmus]}

  asteroid:
    max_offered: 2
    max_active: 1
    categories: [asteroid, survey]
    draw: 3
    min_objectives: 2
    margin: 0
    equipment: [dmAsteroidDrill]
    deadline_seconds: 4600800
    tiers:
      trivial: {bodies: [Kerbin], size_classes: [A, B]}
      significant: {requires_reached: Mun, bodies: [Kerbin], size_classes: [B, C, D]}
      exceptional: {requires_reached: Minmus, bodies: [Kerbin, Sun], size_classes: [D, E]}

  orbital:
    max_offered: 2
    max_active: 2
    categories: [orbital]
    draw: 2
    min_objectives: 1
    margin: 0
    equipment: [dmmagBoom]
    deadline_seconds: 18403200
    tiers:
      trivial: {bodies: [Kerbin], hold_seconds: 21600, eccentricity: 0.1, inclination: 10}
      significant: {requires_reached: Mun, bodies: [Mun, Minmus], hold_seconds: 64800, eccentricity: 0.2, inclination: 20}
      exceptional: {requires_reached: Duna, bodies: [Duna, Eve, Jool], next_unreached: 2, hold_seconds: 129600, eccentricity: 0.3, inclination: 40}

  recon:
    max_offered: 1
    max_active: 1
    categories: [orbital]
    draw: 1
    min_objectives: 1
    margin: 0
    equipment: [dmImagingPlatform]
    deadline_seconds: 18403200
    tiers:
      trivial: {bodies: [Kerbin], hold_seconds: 10800, deviation: 0.08}
      significant: {requires_reached: Mun, bodies: [Mun, Minmus], hold_seconds: 21600, deviation: 0.06}
      exceptional: {requires_reached: Duna, bodies: [Duna, Ike, Eve], hold_seconds: 43200, deviation: 0.04}
`
