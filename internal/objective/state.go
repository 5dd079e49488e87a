// Package objective implements the contract parameter tree: objective nodes held in an
// arena, subscribed to the telemetry bus while their contract is active, completing from
// events or world ticks, and aggregating their children under threshold rules.
package objective

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// State is a node's completion state. Disabled is terminal.
type State int

const (
	Incomplete State = iota
	Complete
	Failed
	Disabled
)

func (s State) String() string {
	switch s {
	case Incomplete:
		return "incomplete"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	case Disabled:
		return "disabled"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ParseState accepts the names produced by String.
func ParseState(s string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "incomplete":
		return Incomplete, nil
	case "complete":
		return Complete, nil
	case "failed":
		return Failed, nil
	case "disabled":
		return Disabled, nil
	}
	return Incomplete, fmt.Errorf("unknown state %q", s)
}

// Kind names a node type. It doubles as the record key in saves.
type Kind string

const (
	KindAggregate      Kind = "Aggregate"
	KindCollectScience Kind = "CollectScience"
	KindAnomalySample  Kind = "AnomalySample"
	KindAsteroidSample Kind = "AsteroidSample"
	KindReachLocation  Kind = "ReachLocation"
	KindOrbitHold      Kind = "OrbitHold"
	KindEccentricity   Kind = "Eccentricity"
	KindInclination    Kind = "Inclination"
	KindEquipment      Kind = "EquipmentRequest"
	KindSpecificOrbit  Kind = "SpecificOrbit"
)

// NodeID addresses a node inside its Tree.
type NodeID int

// Root is the parent of top-level nodes.
const Root NodeID = -1

// identity hashes a node's kind and targets into its stable save-slot key.
func identity(kind Kind, parts ...string) string {
	key := string(kind) + "|" + strings.Join(parts, "|")
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}
