package world

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"contractline/internal/codec"
	"contractline/internal/orbit"
)

// Document is the YAML description of a sandbox world.
type Document struct {
	Bodies      []Body       `yaml:"bodies" json:"bodies"`
	Experiments []Experiment `yaml:"experiments" json:"experiments"`
	Factions    []string     `yaml:"factions" json:"factions"`
	Equipment   struct {
		Available []string `yaml:"available" json:"available"`
		Unlocked  []string `yaml:"unlocked" json:"unlocked"`
	} `yaml:"equipment" json:"equipment"`
	Progression struct {
		Reached          []string              `yaml:"reached" json:"reached"`
		Order            []string              `yaml:"order" json:"order"`
		BodyWeights      map[string]float64    `yaml:"body_weights" json:"body_weights"`
		SituationWeights map[Situation]float64 `yaml:"situation_weights" json:"situation_weights"`
	} `yaml:"progression" json:"progression"`
	Vessels []VesselDoc `yaml:"vessels" json:"vessels"`
}

// VesselDoc is one vessel in a sandbox document.
type VesselDoc struct {
	ID          string                `yaml:"id" json:"id,omitempty"`
	Orbit       *orbit.Orbit          `yaml:"orbit" json:"orbit,omitempty"`
	Groups      []string              `yaml:"groups" json:"groups,omitempty"`
	Separations map[string]Separation `yaml:"separations" json:"separations,omitempty"`
}

// Separation is a vessel's offset from an anomaly.
type Separation struct {
	Vertical float64 `yaml:"vertical" json:"vertical"`
	Distance float64 `yaml:"distance" json:"distance"`
}

type vessel struct {
	orbit       *orbit.Orbit
	groups      map[string]bool
	separations map[string]Separation
}

// Sandbox is a self-contained World driven by the host (or tests) through its mutators.
// It is not safe for concurrent use.
type Sandbox struct {
	bodies      []Body
	byName      map[string]int
	experiments map[string]Experiment
	expOrder    []string
	factions    []string
	available   map[string]bool
	unlocked    map[string]bool
	reached     map[string]bool
	order       []string
	bodyWeights map[string]float64
	sitWeights  map[Situation]float64
	vessels     map[string]*vessel
}

// NewSandbox builds a sandbox from a validated document.
func NewSandbox(doc Document) (*Sandbox, error) {
	s := &Sandbox{
		byName:      map[string]int{},
		experiments: map[string]Experiment{},
		available:   toSet(doc.Equipment.Available),
		unlocked:    toSet(doc.Equipment.Unlocked),
		reached:     toSet(doc.Progression.Reached),
		order:       doc.Progression.Order,
		bodyWeights: doc.Progression.BodyWeights,
		sitWeights:  doc.Progression.SituationWeights,
		factions:    doc.Factions,
		vessels:     map[string]*vessel{},
	}
	if err := checkNames(doc); err != nil {
		return nil, err
	}
	seenIndex := map[int]bool{}
	for _, b := range doc.Bodies {
		if b.Name == "" {
			return nil, fmt.Errorf("body with index %d has no name", b.Index)
		}
		if seenIndex[b.Index] {
			return nil, fmt.Errorf("duplicate body index %d", b.Index)
		}
		if _, dup := s.byName[b.Name]; dup {
			return nil, fmt.Errorf("duplicate body %s", b.Name)
		}
		if b.ScienceMultiplier <= 0 {
			b.ScienceMultiplier = 1
		}
		seenIndex[b.Index] = true
		s.byName[b.Name] = len(s.bodies)
		s.bodies = append(s.bodies, b)
	}
	for _, e := range doc.Experiments {
		if e.ID == "" {
			return nil, fmt.Errorf("experiment without id")
		}
		if strings.Contains(e.ID, "@") {
			return nil, fmt.Errorf("experiment id %s must not contain '@'", e.ID)
		}
		for _, sit := range e.Situations {
			if !sit.Valid() {
				return nil, fmt.Errorf("experiment %s has unknown situation %s", e.ID, sit)
			}
		}
		if _, dup := s.experiments[e.ID]; dup {
			return nil, fmt.Errorf("duplicate experiment %s", e.ID)
		}
		s.experiments[e.ID] = e
		s.expOrder = append(s.expOrder, e.ID)
	}
	for _, v := range doc.Vessels {
		if v.ID == "" {
			return nil, fmt.Errorf("vessel without id")
		}
		s.AddVessel(v)
	}
	return s, nil
}

// checkNames rejects names that objectives persist but the record format would rewrite.
func checkNames(doc Document) error {
	var names [][2]string
	add := func(what string, items ...string) {
		for _, it := range items {
			names = append(names, [2]string{what, it})
		}
	}
	for _, b := range doc.Bodies {
		add("body", b.Name)
		add("biome", b.Biomes...)
		add("anomaly", b.Anomalies...)
	}
	for _, e := range doc.Experiments {
		add("experiment", e.ID)
		add("equipment", e.Equipment)
	}
	add("faction", doc.Factions...)
	add("equipment", doc.Equipment.Available...)
	add("equipment", doc.Equipment.Unlocked...)
	for _, v := range doc.Vessels {
		add("vessel", v.ID)
		add("equipment", v.Groups...)
	}
	for _, n := range names {
		if strings.ContainsAny(n[1], codec.Separator+codec.ListSeparator) {
			return fmt.Errorf("%s name %q must not contain %q or %q", n[0], n[1], codec.Separator, codec.ListSeparator)
		}
	}
	return nil
}

// SandboxFromYAML parses a sandbox document.
func SandboxFromYAML(data []byte) (*Sandbox, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid world yaml: %w", err)
	}
	return NewSandbox(doc)
}

// SandboxFromFile reads a sandbox document from path.
func SandboxFromFile(path string) (*Sandbox, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return SandboxFromYAML(data)
}

// DefaultSandbox returns the stock home system.
func DefaultSandbox() *Sandbox {
	var doc Document
	if err := yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&doc); err != nil {
		panic(fmt.Sprintf("default world: %v", err))
	}
	s, err := NewSandbox(doc)
	if err != nil {
		panic(fmt.Sprintf("default world: %v", err))
	}
	return s
}

// DefaultYAML returns the stock home system document.
func DefaultYAML() string { return defaultTemplate }

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, it := range items {
		out[it] = true
	}
	return out
}

// --- Celestial ---

func (s *Sandbox) Bodies() []Body {
	out := make([]Body, len(s.bodies))
	copy(out, s.bodies)
	return out
}

func (s *Sandbox) BodyByIndex(index int) (Body, bool) {
	for _, b := range s.bodies {
		if b.Index == index {
			return b, true
		}
	}
	return Body{}, false
}

func (s *Sandbox) BodyByName(name string) (Body, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Body{}, false
	}
	return s.bodies[i], true
}

// --- Science ---

func (s *Sandbox) Experiments() []Experiment {
	out := make([]Experiment, 0, len(s.expOrder))
	for _, id := range s.expOrder {
		out = append(out, s.experiments[id])
	}
	return out
}

func (s *Sandbox) Experiment(id string) (Experiment, bool) {
	e, ok := s.experiments[id]
	return e, ok
}

// SubjectMaxValue is the experiment's base value scaled by the body multiplier. Unknown
// subjects are worth nothing.
func (s *Sandbox) SubjectMaxValue(subject string) float64 {
	expID, rest, ok := strings.Cut(subject, "@")
	if !ok {
		return 0
	}
	e, ok := s.experiments[expID]
	if !ok {
		return 0
	}
	best := -1
	for i, b := range s.bodies {
		if strings.HasPrefix(rest, b.Name) && (best < 0 || len(b.Name) > len(s.bodies[best].Name)) {
			best = i
		}
	}
	if best < 0 {
		return 0
	}
	return e.BaseValue * s.bodies[best].ScienceMultiplier
}

// --- Equipment ---

func (s *Sandbox) EquipmentAvailable(id string) bool { return s.available[id] }
func (s *Sandbox) EquipmentUnlocked(id string) bool  { return s.unlocked[id] }

func (s *Sandbox) VesselHasGroup(vesselID, group string) bool {
	v, ok := s.vessels[vesselID]
	return ok && v.groups[group]
}

// Unlock marks equipment as researched (and available).
func (s *Sandbox) Unlock(id string) {
	s.available[id] = true
	s.unlocked[id] = true
}

// --- Progression ---

func (s *Sandbox) LocationReached(name string) bool { return s.reached[name] }

// Reach records a location as reached.
func (s *Sandbox) Reach(name string) { s.reached[name] = true }

func (s *Sandbox) NextUnreached(n int) []string {
	var out []string
	for _, name := range s.order {
		if len(out) >= n {
			break
		}
		if !s.reached[name] {
			out = append(out, name)
		}
	}
	return out
}

func (s *Sandbox) SituationWeight(body string, sit Situation) float64 {
	w := 1.0
	if bw, ok := s.bodyWeights[body]; ok && bw > 0 {
		w *= bw
	}
	if sw, ok := s.sitWeights[sit]; ok && sw > 0 {
		w *= sw
	}
	return w
}

// --- Vessels ---

func (s *Sandbox) VesselIDs() []string {
	ids := make([]string, 0, len(s.vessels))
	for id := range s.vessels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Sandbox) VesselExists(id string) bool {
	_, ok := s.vessels[id]
	return ok
}

func (s *Sandbox) Orbit(vesselID string) (orbit.Orbit, bool) {
	v, ok := s.vessels[vesselID]
	if !ok || v.orbit == nil {
		return orbit.Orbit{}, false
	}
	return *v.orbit, true
}

func (s *Sandbox) Separation(vesselID, anomaly string) (float64, float64, bool) {
	v, ok := s.vessels[vesselID]
	if !ok {
		return 0, 0, false
	}
	sep, ok := v.separations[anomaly]
	if !ok {
		return 0, 0, false
	}
	return sep.Vertical, sep.Distance, true
}

// AddVessel creates or replaces a vessel.
func (s *Sandbox) AddVessel(doc VesselDoc) {
	v := &vessel{groups: toSet(doc.Groups), separations: map[string]Separation{}}
	if doc.Orbit != nil {
		o := *doc.Orbit
		v.orbit = &o
	}
	for k, sep := range doc.Separations {
		v.separations[k] = sep
	}
	s.vessels[doc.ID] = v
}

// RemoveVessel deletes a vessel; unknown ids are ignored.
func (s *Sandbox) RemoveVessel(id string) { delete(s.vessels, id) }

// SetOrbit puts a vessel in orbit, or clears its orbit when o is nil.
func (s *Sandbox) SetOrbit(id string, o *orbit.Orbit) error {
	v, ok := s.vessels[id]
	if !ok {
		return fmt.Errorf("vessel %s not found", id)
	}
	if o == nil {
		v.orbit = nil
		return nil
	}
	cp := *o
	v.orbit = &cp
	return nil
}

// SetSeparation records a vessel's offset from an anomaly.
func (s *Sandbox) SetSeparation(id, anomaly string, sep Separation) error {
	v, ok := s.vessels[id]
	if !ok {
		return fmt.Errorf("vessel %s not found", id)
	}
	v.separations[anomaly] = sep
	return nil
}

// Dock merges from into to: to keeps its orbit and gains from's equipment groups.
func (s *Sandbox) Dock(from, to string) error {
	src, ok := s.vessels[from]
	if !ok {
		return fmt.Errorf("vessel %s not found", from)
	}
	dst, ok := s.vessels[to]
	if !ok {
		return fmt.Errorf("vessel %s not found", to)
	}
	for g := range src.groups {
		dst.groups[g] = true
	}
	delete(s.vessels, from)
	return nil
}

// Undock splits groups off vessel from into a new vessel to, sharing from's orbit.
func (s *Sandbox) Undock(from, to string, groups []string) error {
	src, ok := s.vessels[from]
	if !ok {
		return fmt.Errorf("vessel %s not found", from)
	}
	if _, exists := s.vessels[to]; exists {
		return fmt.Errorf("vessel %s already exists", to)
	}
	doc := VesselDoc{ID: to, Orbit: src.orbit}
	for _, g := range groups {
		if src.groups[g] {
			delete(src.groups, g)
			doc.Groups = append(doc.Groups, g)
		}
	}
	s.AddVessel(doc)
	return nil
}

func (s *Sandbox) Factions() []string {
	out := make([]string, len(s.factions))
	copy(out, s.factions)
	return out
}

const defaultTemplate = `bodies:
  - {index: 0, name: Sun, surface: false, radius: 261600000, science_multiplier: 1}
  - {index: 1, name: Kerbin, atmosphere: true, ocean: true, surface: true, radius: 600000, science_multiplier: 1,
     biomes: [Shores, Grasslands, Highlands, Mountains, Deserts, Water], anomalies: [KSC_Monolith]}
  - {index: 2, name: Mun, parent: Kerbin, surface: true, radius: 200000, science_multiplier: 3,
     biomes: [Midlands, Highlands, Canyons, Poles], anomalies: [Mun_Arch, Mun_Memorial]}
  - {index: 3, name: Minmus, parent: Kerbin, surface: true, radius: 60000, science_multiplier: 4,
     biomes: [Flats, Slopes, Highlands, Poles], anomalies: [Minmus_Monolith]}
  - {index: 4, name: Moho, surface: true, radius: 250000, science_multiplier: 7, biomes: [Midlands, Poles]}
  - {index: 5, name: Eve, atmosphere: true, ocean: true, surface: true, radius: 700000, science_multiplier: 8,
     biomes: [Lowlands, Highlands, Seas]}
  - {index: 6, name: Duna, atmosphere: true, surface: true, radius: 320000, science_multiplier: 7,
     biomes: [Lowlands, Highlands, Craters, Poles], anomalies: [Duna_Face]}
  - {index: 7, name: Ike, parent: Duna, surface: true, radius: 130000, science_multiplier: 7, biomes: [Lowlands, Highlands]}
  - {index: 8, name: Jool, atmosphere: true, surface: false, radius: 6000000, science_multiplier: 10}
  - {index: 9, name: Laythe, parent: Jool, atmosphere: true, ocean: true, surface: true, radius: 500000,
     science_multiplier: 14, biomes: [Shores, Dunes, Seas]}

experiments:
  - {id: mysteryGoo, category: survey, equipment: GooExperiment, faction: Research Bodies Inc,
     situations: [SrfLanded, FlyingLow, FlyingHigh, InSpaceLow, InSpaceHigh], biome_situations: [SrfLanded], base_value: 10}
  - {id: temperatureScan, category: survey, equipment: sensorThermometer, faction: Probodobodyne Inc,
     situations: [SrfLanded, FlyingLow, FlyingHigh, InSpaceLow], biome_situations: [SrfLanded, FlyingLow], base_value: 8}
  - {id: barometerScan, category: survey, equipment: sensorBarometer, faction: Probodobodyne Inc,
     situations: [SrfLanded, FlyingLow, FlyingHigh, InSpaceLow], biome_situations: [SrfLanded], base_value: 12}
  - {id: seismicScan, category: survey, equipment: sensorAccelerometer, faction: Research Bodies Inc,
     situations: [SrfLanded], biome_situations: [SrfLanded], base_value: 20}
  - {id: gravityScan, category: survey, equipment: sensorGravimeter, faction: Research Bodies Inc,
     situations: [SrfLanded, InSpaceLow, InSpaceHigh], biome_situations: [SrfLanded, InSpaceLow], base_value: 20}
  - {id: atmosphereAnalysis, category: survey, equipment: sensorAtmosphere, faction: Research Bodies Inc,
     situations: [FlyingLow, FlyingHigh], requires_atmosphere: true, base_value: 24}
  - {id: anomalyScan, category: anomaly, equipment: dmAnomalyScanner, faction: DMagic Orbital Science,
     situations: [SrfLanded, FlyingLow, InSpaceLow], base_value: 30}
  - {id: asteroidSample, category: asteroid, equipment: dmAsteroidDrill, faction: DMagic Orbital Science,
     situations: [InSpaceLow, InSpaceHigh], base_value: 40}
  - {id: magnetometer, category: orbital, equipment: dmmagBoom, faction: DMagic Orbital Science,
     situations: [InSpaceLow, InSpaceHigh], base_value: 15}
  - {id: rpwsScan, category: orbital, equipment: rpwsAnt, faction: DMagic Orbital Science,
     situations: [InSpaceLow, InSpaceHigh], base_value: 15}
  - {id: multispectral, category: orbital, equipment: dmImagingPlatform, faction: Ionic Symphonic Protonic Electronics,
     situations: [InSpaceLow, InSpaceHigh], base_value: 12}

factions:
  - DMagic Orbital Science
  - Research Bodies Inc
  - Probodobodyne Inc
  - Ionic Symphonic Protonic Electronics
  - Kerbin World-Firsts Record-Keeping Society

equipment:
  available: [GooExperiment, sensorThermometer, sensorBarometer, sensorAccelerometer, sensorGravimeter,
              sensorAtmosphere, dmAnomalyScanner, dmAsteroidDrill, dmmagBoom, rpwsAnt, dmImagingPlatform]
  unlocked: [GooExperiment, sensorThermometer, sensorBarometer, sensorAccelerometer, sensorGravimeter,
             dmAnomalyScanner, dmmagBoom, rpwsAnt]

progression:
  reached: [Kerbin]
  order: [Kerbin, Mun, Minmus, Duna, Ike, Eve, Moho, Jool, Laythe]
  body_weights: {Kerbin: 1, Mun: 2, Minmus: 2.5, Duna: 5, Ike: 5, Eve: 6, Moho: 7, Jool: 8, Laythe: 10}
  situation_weights: {SrfLanded: 1.5, SrfSplashed: 1.5, FlyingLow: 1.2, FlyingHigh: 1.1, InSpaceLow: 1, InSpaceHigh: 0.9}

vessels: []
`

// Document snapshots the sandbox so it can be stored with a save and rebuilt by NewSandbox.
func (s *Sandbox) Document() Document {
	var doc Document
	doc.Bodies = s.Bodies()
	doc.Experiments = s.Experiments()
	doc.Factions = s.Factions()
	doc.Equipment.Available = fromSet(s.available)
	doc.Equipment.Unlocked = fromSet(s.unlocked)
	doc.Progression.Reached = fromSet(s.reached)
	doc.Progression.Order = append([]string(nil), s.order...)
	doc.Progression.BodyWeights = s.bodyWeights
	doc.Progression.SituationWeights = s.sitWeights
	for _, id := range s.VesselIDs() {
		v := s.vessels[id]
		vd := VesselDoc{ID: id, Orbit: v.orbit, Groups: fromSet(v.groups)}
		if len(v.separations) > 0 {
			vd.Separations = map[string]Separation{}
			for k, sep := range v.separations {
				vd.Separations[k] = sep
			}
		}
		doc.Vessels = append(doc.Vessels, vd)
	}
	return doc
}

// YAML encodes the current sandbox state.
func (s *Sandbox) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s.Document()); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func fromSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k, ok := range set {
		if ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
