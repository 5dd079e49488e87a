package domain

type Save struct {
	ID        string  `json:"id"`
	Clock     float64 `json:"clock"`
	Contracts int     `json:"contracts"`
	CreatedAt string  `json:"created_at" format:"date-time"`
	UpdatedAt string  `json:"updated_at" format:"date-time"`
}

type Rewards struct {
	FundsAdvance      float64 `json:"funds_advance"`
	FundsReward       float64 `json:"funds_reward"`
	FundsPenalty      float64 `json:"funds_penalty"`
	ReputationReward  float64 `json:"reputation_reward"`
	ReputationPenalty float64 `json:"reputation_penalty"`
	Science           float64 `json:"science"`
}

type Contract struct {
	ID         string      `json:"id"`
	Kind       string      `json:"kind" enum:"survey,anomaly,asteroid,orbital,recon"`
	Tier       string      `json:"tier" enum:"trivial,significant,exceptional"`
	Body       string      `json:"body"`
	BodyIndex  int         `json:"body_index"`
	Seed       string      `json:"seed"`
	Status     string      `json:"status" enum:"offered,active,completed,failed,cancelled,deadline_expired"`
	Faction    string      `json:"faction,omitempty"`
	Rewards    Rewards     `json:"rewards"`
	Deadline   float64     `json:"deadline,omitempty"`
	OfferedAt  float64     `json:"offered_at"`
	AcceptedAt float64     `json:"accepted_at,omitempty"`
	FinishedAt float64     `json:"finished_at,omitempty"`
	Objectives []Objective `json:"objectives,omitempty"`
}

// Objective is one node of a contract's objective tree, flattened in pre-order.
type Objective struct {
	ID        int    `json:"id"`
	Parent    int    `json:"parent"`
	Depth     int    `json:"depth"`
	Kind      string `json:"kind"`
	Identity  string `json:"identity"`
	State     string `json:"state" enum:"incomplete,complete,failed,disabled"`
	Satisfied bool   `json:"satisfied"`
	Summary   string `json:"summary"`
}

type Transition struct {
	ContractID string  `json:"contract_id"`
	Node       int     `json:"node"`
	Kind       string  `json:"kind"`
	Identity   string  `json:"identity"`
	From       string  `json:"from"`
	To         string  `json:"to"`
	At         float64 `json:"at"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	SaveID     string `json:"save_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
