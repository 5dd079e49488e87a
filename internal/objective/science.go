package objective

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"contractline/internal/codec"
	"contractline/internal/orbit"
	"contractline/internal/telemetry"
	"contractline/internal/world"
)

// CollectScience completes once enough value for one science subject has come home.
type CollectScience struct {
	experiment string
	body       world.Body
	situation  world.Situation
	biome      string
	collected  float64
}

// NewCollectScience checks that the experiment can run at body in situation and returns the
// objective, or an error naming why the pairing is impossible.
func NewCollectScience(exp world.Experiment, body world.Body, sit world.Situation, biome string) (*CollectScience, error) {
	if !exp.Supports(sit) {
		return nil, fmt.Errorf("%s cannot run %s", exp.ID, sit)
	}
	if !body.Allows(sit) {
		return nil, fmt.Errorf("%s has no %s", body.Name, sit)
	}
	if exp.RequiresAtmosphere && !body.Atmosphere {
		return nil, fmt.Errorf("%s needs an atmosphere, %s has none", exp.ID, body.Name)
	}
	if biome != "" && !contains(body.Biomes, biome) {
		return nil, fmt.Errorf("%s has no biome %s", body.Name, biome)
	}
	return &CollectScience{experiment: exp.ID, body: body, situation: sit, biome: biome}, nil
}

func (c *CollectScience) Kind() Kind                { return KindCollectScience }
func (c *CollectScience) Identity() string          { return identity(KindCollectScience, c.Subject()) }
func (c *CollectScience) Listens() []telemetry.Kind { return []telemetry.Kind{telemetry.SampleReceived} }

func (c *CollectScience) Experiment() string         { return c.experiment }
func (c *CollectScience) Body() world.Body           { return c.body }
func (c *CollectScience) Situation() world.Situation { return c.situation }
func (c *CollectScience) Biome() string              { return c.biome }
func (c *CollectScience) Collected() float64         { return c.collected }

// Subject is the composite science subject this objective tracks.
func (c *CollectScience) Subject() string {
	return world.SubjectID(c.experiment, c.body.Name, c.situation, c.biome)
}

func (c *CollectScience) Describe() string {
	return fmt.Sprintf("%s %.1f collected", c.Subject(), c.collected)
}

// Matches reports whether a returned subject counts toward this objective. A biome-specific
// objective needs the exact subject. Without a biome the returned subject may carry a suffix,
// but only after a separator: "goo@KerbinSrfLanded" accepts "goo@KerbinSrfLanded_2" and
// rejects "goo@KerbinSrfLandedShores".
func (c *CollectScience) Matches(subject string) bool {
	own := c.Subject()
	if c.biome != "" {
		return subject == own
	}
	return prefixAtBoundary(subject, own)
}

func prefixAtBoundary(s, prefix string) bool {
	if !strings.HasPrefix(s, prefix) {
		return false
	}
	rest := s[len(prefix):]
	if rest == "" {
		return true
	}
	r, _ := utf8.DecodeRuneInString(rest)
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func (c *CollectScience) OnEvent(t *Tree, id NodeID, ev telemetry.Event) {
	if !c.Matches(ev.Subject) || ev.Value <= 0 {
		return
	}
	c.collected += ev.Value
	limit := 0.0
	if w := t.env.World; w != nil {
		limit = w.SubjectMaxValue(ev.Subject)
	}
	if limit <= 0 || c.collected >= t.env.Policy.SampleFraction*limit {
		t.set(id, Complete)
	}
}

func (c *CollectScience) save(w *codec.Writer) {
	w.String(c.experiment).Int(c.body.Index).String(string(c.situation)).String(c.biome).Float(c.collected)
}

func loadCollectScience(r *codec.Reader, w world.World) (Node, error) {
	expID := r.RequiredString()
	bodyIndex := r.Int()
	sit := world.Situation(r.RequiredString())
	biome := r.String()
	collected := r.FloatOr(0)
	if err := r.Err(); err != nil {
		return nil, err
	}
	exp, err := resolveExperiment(w, expID)
	if err != nil {
		return nil, err
	}
	body, err := resolveBody(w, bodyIndex)
	if err != nil {
		return nil, err
	}
	c, err := NewCollectScience(exp, body, sit, biome)
	if err != nil {
		return nil, err
	}
	c.collected = collected
	return c, nil
}

// AnomalySample completes when the experiment is run close enough above a named anomaly.
type AnomalySample struct {
	experiment string
	body       world.Body
	anomaly    string
	biome      string
}

func NewAnomalySample(exp world.Experiment, body world.Body, anomaly, biome string) (*AnomalySample, error) {
	if !contains(body.Anomalies, anomaly) {
		return nil, fmt.Errorf("%s has no anomaly %s", body.Name, anomaly)
	}
	if biome != "" && !contains(body.Biomes, biome) {
		return nil, fmt.Errorf("%s has no biome %s", body.Name, biome)
	}
	return &AnomalySample{experiment: exp.ID, body: body, anomaly: anomaly, biome: biome}, nil
}

func (a *AnomalySample) Kind() Kind { return KindAnomalySample }

func (a *AnomalySample) Identity() string {
	return identity(KindAnomalySample, a.experiment, a.body.Name, a.anomaly, a.biome)
}

func (a *AnomalySample) Listens() []telemetry.Kind {
	return []telemetry.Kind{telemetry.AnomalySampled}
}

func (a *AnomalySample) Anomaly() string  { return a.anomaly }
func (a *AnomalySample) Body() world.Body { return a.body }

func (a *AnomalySample) Describe() string {
	return fmt.Sprintf("%s at %s on %s", a.experiment, a.anomaly, a.body.Name)
}

func (a *AnomalySample) OnEvent(t *Tree, id NodeID, ev telemetry.Event) {
	if ev.Body != a.body.Name || ev.Experiment != a.experiment {
		return
	}
	if a.biome != "" && ev.Biome != a.biome {
		return
	}
	w := t.env.World
	if w == nil {
		return
	}
	dv, d, ok := w.Separation(ev.Vessel, a.anomaly)
	if !ok || !orbit.WithinAnomalyCone(dv, d) {
		return
	}
	t.set(id, Complete)
}

func (a *AnomalySample) save(w *codec.Writer) {
	w.String(a.experiment).Int(a.body.Index).String(a.anomaly).String(a.biome)
}

func loadAnomalySample(r *codec.Reader, w world.World) (Node, error) {
	expID := r.RequiredString()
	bodyIndex := r.Int()
	anomaly := r.RequiredString()
	biome := r.String()
	if err := r.Err(); err != nil {
		return nil, err
	}
	exp, err := resolveExperiment(w, expID)
	if err != nil {
		return nil, err
	}
	body, err := resolveBody(w, bodyIndex)
	if err != nil {
		return nil, err
	}
	return NewAnomalySample(exp, body, anomaly, biome)
}

// SizeClasses are the asteroid size classes, smallest first.
var SizeClasses = []string{"A", "B", "C", "D", "E"}

// AsteroidSample completes when the experiment samples an asteroid of the given size class.
type AsteroidSample struct {
	experiment string
	sizeClass  string
}

func NewAsteroidSample(exp world.Experiment, sizeClass string) (*AsteroidSample, error) {
	if !contains(SizeClasses, sizeClass) {
		return nil, fmt.Errorf("unknown asteroid class %q", sizeClass)
	}
	return &AsteroidSample{experiment: exp.ID, sizeClass: sizeClass}, nil
}

func (a *AsteroidSample) Kind() Kind       { return KindAsteroidSample }
func (a *AsteroidSample) Identity() string { return identity(KindAsteroidSample, a.experiment, a.sizeClass) }

func (a *AsteroidSample) Listens() []telemetry.Kind {
	return []telemetry.Kind{telemetry.AsteroidSampled}
}

func (a *AsteroidSample) SizeClass() string { return a.sizeClass }

func (a *AsteroidSample) Describe() string {
	return fmt.Sprintf("%s on a class %s asteroid", a.experiment, a.sizeClass)
}

func (a *AsteroidSample) OnEvent(t *Tree, id NodeID, ev telemetry.Event) {
	if ev.Experiment == a.experiment && ev.SizeClass == a.sizeClass {
		t.set(id, Complete)
	}
}

func (a *AsteroidSample) save(w *codec.Writer) {
	w.String(a.experiment).String(a.sizeClass)
}

func loadAsteroidSample(r *codec.Reader, w world.World) (Node, error) {
	expID := r.RequiredString()
	class := r.RequiredString()
	if err := r.Err(); err != nil {
		return nil, err
	}
	exp, err := resolveExperiment(w, expID)
	if err != nil {
		return nil, err
	}
	return NewAsteroidSample(exp, class)
}

func contains(items []string, want string) bool {
	for _, it := range items {
		if it == want {
			return true
		}
	}
	return false
}
