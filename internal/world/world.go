// Package world declares the capability queries the contract engine needs from the host
// game: bodies, science catalog, equipment, progression, vessels and factions. The engine
// never mutates any of it.
package world

import (
	"contractline/internal/orbit"
)

// Situation is where a vessel is relative to a body when it collects science.
type Situation string

const (
	SrfLanded   Situation = "SrfLanded"
	SrfSplashed Situation = "SrfSplashed"
	FlyingLow   Situation = "FlyingLow"
	FlyingHigh  Situation = "FlyingHigh"
	InSpaceLow  Situation = "InSpaceLow"
	InSpaceHigh Situation = "InSpaceHigh"
)

// Situations lists every situation in display order.
var Situations = []Situation{SrfLanded, SrfSplashed, FlyingLow, FlyingHigh, InSpaceLow, InSpaceHigh}

func (s Situation) Valid() bool {
	for _, known := range Situations {
		if s == known {
			return true
		}
	}
	return false
}

// Atmospheric situations only exist on bodies with an atmosphere.
func (s Situation) Atmospheric() bool { return s == FlyingLow || s == FlyingHigh }

// Surface situations need something to land or splash on.
func (s Situation) Surface() bool { return s == SrfLanded || s == SrfSplashed }

// Body is a celestial body. Index is the stable id stored in save records.
type Body struct {
	Index             int      `yaml:"index" json:"index"`
	Name              string   `yaml:"name" json:"name"`
	Parent            string   `yaml:"parent" json:"parent,omitempty"`
	Atmosphere        bool     `yaml:"atmosphere" json:"atmosphere"`
	Ocean             bool     `yaml:"ocean" json:"ocean"`
	Surface           bool     `yaml:"surface" json:"surface"`
	Radius            float64  `yaml:"radius" json:"radius"`
	ScienceMultiplier float64  `yaml:"science_multiplier" json:"science_multiplier"`
	Biomes            []string `yaml:"biomes" json:"biomes,omitempty"`
	Anomalies         []string `yaml:"anomalies" json:"anomalies,omitempty"`
}

// Allows reports whether a situation can physically happen at the body.
func (b Body) Allows(s Situation) bool {
	switch s {
	case SrfLanded:
		return b.Surface
	case SrfSplashed:
		return b.Ocean
	case FlyingLow, FlyingHigh:
		return b.Atmosphere
	case InSpaceLow, InSpaceHigh:
		return true
	}
	return false
}

// Experiment is a science definition the generator can draw from.
type Experiment struct {
	ID                 string      `yaml:"id" json:"id"`
	Category           string      `yaml:"category" json:"category"`
	Equipment          string      `yaml:"equipment" json:"equipment"`
	Faction            string      `yaml:"faction" json:"faction,omitempty"`
	Situations         []Situation `yaml:"situations" json:"situations"`
	BiomeSituations    []Situation `yaml:"biome_situations" json:"biome_situations,omitempty"`
	RequiresAtmosphere bool        `yaml:"requires_atmosphere" json:"requires_atmosphere"`
	BaseValue          float64     `yaml:"base_value" json:"base_value"`
}

// Supports reports whether the experiment can run in situation s.
func (e Experiment) Supports(s Situation) bool {
	for _, allowed := range e.Situations {
		if allowed == s {
			return true
		}
	}
	return false
}

// BiomeDependent reports whether results in s differ per biome.
func (e Experiment) BiomeDependent(s Situation) bool {
	for _, allowed := range e.BiomeSituations {
		if allowed == s {
			return true
		}
	}
	return false
}

// SubjectID builds the composite science subject key "experiment@BodySituationBiome".
func SubjectID(experiment, body string, s Situation, biome string) string {
	return experiment + "@" + body + string(s) + biome
}

type Celestial interface {
	Bodies() []Body
	BodyByIndex(index int) (Body, bool)
	BodyByName(name string) (Body, bool)
}

type Science interface {
	Experiments() []Experiment
	Experiment(id string) (Experiment, bool)
	// SubjectMaxValue is the most science a subject can ever yield.
	SubjectMaxValue(subject string) float64
}

type Equipment interface {
	EquipmentAvailable(id string) bool
	EquipmentUnlocked(id string) bool
	VesselHasGroup(vessel, group string) bool
}

type Progression interface {
	LocationReached(name string) bool
	NextUnreached(n int) []string
	// SituationWeight scales rewards for work done at body in situation.
	SituationWeight(body string, s Situation) float64
}

type Vessels interface {
	VesselIDs() []string
	VesselExists(id string) bool
	Orbit(vessel string) (orbit.Orbit, bool)
	// Separation reports vertical and straight-line distance from vessel to an anomaly.
	Separation(vessel, anomaly string) (vertical, distance float64, ok bool)
}

type Factions interface {
	Factions() []string
}

// World bundles every query the engine consumes.
type World interface {
	Celestial
	Science
	Equipment
	Progression
	Vessels
	Factions
}

// OrbitingVessels returns the vessels currently in orbit around body, in id order.
func OrbitingVessels(v Vessels, body string) []string {
	var out []string
	for _, id := range v.VesselIDs() {
		if o, ok := v.Orbit(id); ok && o.Body == body {
			out = append(out, id)
		}
	}
	return out
}
