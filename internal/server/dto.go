package server

import (
	"encoding/json"

	"contractline/internal/domain"
	"contractline/internal/engine"
	"contractline/internal/telemetry"
	"contractline/internal/world"
)

// Request payloads

type GenerateContractRequest struct {
	Kind string `json:"kind" enum:"survey,anomaly,asteroid,orbital,recon"`
	Tier string `json:"tier,omitempty" enum:"trivial,significant,exceptional"`
	Seed *int64 `json:"seed,omitempty"`
}

type TelemetryRequest struct {
	Kind       string  `json:"kind"`
	Vessel     string  `json:"vessel,omitempty"`
	Other      string  `json:"other,omitempty"`
	Body       string  `json:"body,omitempty"`
	Subject    string  `json:"subject,omitempty"`
	Value      float64 `json:"value,omitempty"`
	Experiment string  `json:"experiment,omitempty"`
	Biome      string  `json:"biome,omitempty"`
	SizeClass  string  `json:"size_class,omitempty"`
}

func (r TelemetryRequest) event() telemetry.Event {
	return telemetry.Event{
		Kind:       telemetry.Kind(r.Kind),
		Vessel:     r.Vessel,
		Other:      r.Other,
		Body:       r.Body,
		Subject:    r.Subject,
		Value:      r.Value,
		Experiment: r.Experiment,
		Biome:      r.Biome,
		SizeClass:  r.SizeClass,
	}
}

type TickRequest struct {
	Now float64 `json:"now"`
}

type DockRequest struct {
	From   string   `json:"from"`
	To     string   `json:"to"`
	Groups []string `json:"groups,omitempty"`
}

type ReachRequest struct {
	Location string `json:"location"`
}

type UnlockRequest struct {
	Equipment string `json:"equipment"`
}

type DevLoginRequest struct {
	Subject string `json:"subject"`
}

// Response payloads

type ContractList struct {
	Items []domain.Contract `json:"items"`
}

type ResultResponse struct {
	Clock       float64             `json:"clock"`
	Delivered   int                 `json:"delivered"`
	Transitions []domain.Transition `json:"transitions"`
	Settled     []domain.Contract   `json:"settled"`
}

func resultResponse(clock float64, res engine.Result) ResultResponse {
	return ResultResponse{
		Clock:       clock,
		Delivered:   res.Delivered,
		Transitions: nonNilSlice(res.Transitions),
		Settled:     nonNilSlice(res.Settled),
	}
}

type WorldResponse struct {
	Clock float64        `json:"clock"`
	World world.Document `json:"world"`
}

type SaveList struct {
	Items []domain.Save `json:"items"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	SaveID     string         `json:"save_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Conversion helpers

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		SaveID:     e.SaveID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
