package contractlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal contractline HTTP API client for host plugins.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Objective is one flattened node of a contract's objective tree.
type Objective struct {
	ID        int    `json:"id"`
	Parent    int    `json:"parent"`
	Depth     int    `json:"depth"`
	Kind      string `json:"kind"`
	Identity  string `json:"identity"`
	State     string `json:"state"`
	Satisfied bool   `json:"satisfied"`
	Summary   string `json:"summary"`
}

// Contract represents the API contract model (partial).
type Contract struct {
	ID         string      `json:"id"`
	Kind       string      `json:"kind"`
	Tier       string      `json:"tier"`
	Body       string      `json:"body"`
	Seed       string      `json:"seed"`
	Status     string      `json:"status"`
	Faction    string      `json:"faction"`
	Deadline   float64     `json:"deadline"`
	AcceptedAt float64     `json:"accepted_at"`
	FinishedAt float64     `json:"finished_at"`
	Objectives []Objective `json:"objectives"`
}

// Transition is one objective state change.
type Transition struct {
	ContractID string  `json:"contract_id"`
	Node       int     `json:"node"`
	Kind       string  `json:"kind"`
	Identity   string  `json:"identity"`
	From       string  `json:"from"`
	To         string  `json:"to"`
	At         float64 `json:"at"`
}

// Result reports what a telemetry event or tick changed.
type Result struct {
	Clock       float64      `json:"clock"`
	Delivered   int          `json:"delivered"`
	Transitions []Transition `json:"transitions"`
	Settled     []Contract   `json:"settled"`
}

// Telemetry is one world event. Only the fields relevant to Kind need to be set.
type Telemetry struct {
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

// Event represents a ledger entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	SaveID     string         `json:"save_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// Generate asks for a new offer. A nil seed lets the server draw one.
func (c *Client) Generate(ctx context.Context, kind, tier string, seed *int64) (Contract, error) {
	body := map[string]any{"kind": kind}
	if tier != "" {
		body["tier"] = tier
	}
	if seed != nil {
		body["seed"] = *seed
	}
	var resp Contract
	err := c.do(ctx, http.MethodPost, "v0/contracts", body, &resp)
	return resp, err
}

// Contracts lists contracts, optionally filtered by status.
func (c *Client) Contracts(ctx context.Context, status string) ([]Contract, error) {
	endpoint := "v0/contracts"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp struct {
		Items []Contract `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Contract fetches one contract with its objectives.
func (c *Client) Contract(ctx context.Context, id string) (Contract, error) {
	var resp Contract
	err := c.do(ctx, http.MethodGet, "v0/contracts/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) Accept(ctx context.Context, id string) (Contract, error) {
	var resp Contract
	err := c.do(ctx, http.MethodPost, "v0/contracts/"+url.PathEscape(id)+"/accept", nil, &resp)
	return resp, err
}

func (c *Client) Cancel(ctx context.Context, id string) (Contract, error) {
	var resp Contract
	err := c.do(ctx, http.MethodPost, "v0/contracts/"+url.PathEscape(id)+"/cancel", nil, &resp)
	return resp, err
}

// Publish reports one world event.
func (c *Client) Publish(ctx context.Context, ev Telemetry) (Result, error) {
	var resp Result
	err := c.do(ctx, http.MethodPost, "v0/telemetry", ev, &resp)
	return resp, err
}

// Tick advances universal time to now.
func (c *Client) Tick(ctx context.Context, now float64) (Result, error) {
	var resp Result
	err := c.do(ctx, http.MethodPost, "v0/tick", map[string]any{"now": now}, &resp)
	return resp, err
}

// Save persists the server's current save.
func (c *Client) Save(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "v0/save", nil, nil)
}

// LoadReport describes what Load restored.
type LoadReport struct {
	Contracts         int `json:"contracts"`
	DroppedContracts  int `json:"dropped_contracts"`
	DroppedObjectives int `json:"dropped_objectives"`
}

// Load replaces the server's live state with its stored save.
func (c *Client) Load(ctx context.Context) (LoadReport, error) {
	var resp LoadReport
	err := c.do(ctx, http.MethodPost, "v0/load", nil, &resp)
	return resp, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "v0/events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code, apiErr.Message = envelope.Error.Code, envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
