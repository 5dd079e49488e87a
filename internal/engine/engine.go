package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"contractline/internal/codec"
	"contractline/internal/config"
	"contractline/internal/contract"
	"contractline/internal/domain"
	"contractline/internal/events"
	"contractline/internal/objective"
	"contractline/internal/random"
	"contractline/internal/repo"
	"contractline/internal/telemetry"
	"contractline/internal/world"
)

// ErrUnknownContract is returned for ids the engine does not hold.
var ErrUnknownContract = fmt.Errorf("contract %w", repo.ErrNotFound)

// Engine hosts the contracts of one save. It is not safe for concurrent use; the server
// serializes calls.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	World  *world.Sandbox
	Hub    *telemetry.Hub
	Logger *log.Logger
	SaveID string
	Now    func() time.Time
	Seed   func() (int64, error)

	clock     float64
	contracts []*contract.Contract
	byID      map[string]*contract.Contract
	listeners map[int]func([]domain.Transition)
	nextID    int
}

// DefaultSave names the save used when none is given.
const DefaultSave = "default"

func New(db *sql.DB, cfg *config.Config, w *world.Sandbox, saveID string) *Engine {
	if saveID == "" {
		saveID = DefaultSave
	}
	return &Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		World:  w,
		Hub:    telemetry.NewHub(),
		Logger: log.Default(),
		SaveID: saveID,
		Now:    time.Now,
		Seed:   random.NewSeed,
		byID:   map[string]*contract.Contract{},
	}
}

func (e *Engine) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// Clock is the universal time of the last tick.
func (e *Engine) Clock() float64 { return e.clock }

func (e *Engine) env() objective.Env {
	env := objective.Env{Bus: e.Hub, World: e.World, Logger: e.Logger}
	if e.Config != nil {
		env.Policy = objective.Policy{
			SampleFraction:  e.Config.Policy.SampleFraction,
			ReevaluateTicks: e.Config.Policy.ReevaluateTicks,
		}
	}
	return env
}

func (e *Engine) add(c *contract.Contract) {
	if e.byID == nil {
		e.byID = map[string]*contract.Contract{}
	}
	e.contracts = append(e.contracts, c)
	e.byID[c.ID] = c
}

func (e *Engine) get(id string) (*contract.Contract, error) {
	c, ok := e.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContract, id)
	}
	return c, nil
}

func (e *Engine) count(kind string) (offered, active int) {
	for _, c := range e.contracts {
		if c.Kind != kind {
			continue
		}
		switch c.Status {
		case contract.Offered:
			offered++
		case contract.Active:
			active++
		}
	}
	return offered, active
}

// GenerateOptions selects what to generate. A nil Seed draws a fresh one.
type GenerateOptions struct {
	Kind string
	Tier string
	Seed *int64
}

// Generate offers one new contract. Unmet preconditions return an error wrapping
// contract.ErrRejected and leave no trace besides a log line.
func (e *Engine) Generate(ctx context.Context, opts GenerateOptions) (domain.Contract, error) {
	if e.Config == nil || e.World == nil {
		return domain.Contract{}, errors.New("config not loaded")
	}
	if opts.Tier == "" {
		opts.Tier = config.TierTrivial
	}
	var seed int64
	if opts.Seed != nil {
		seed = *opts.Seed
	} else {
		s, err := e.Seed()
		if err != nil {
			return domain.Contract{}, err
		}
		seed = s
	}
	id := contract.ID(opts.Kind, opts.Tier, seed)
	if _, dup := e.byID[id]; dup {
		return domain.Contract{}, fmt.Errorf("%w: seed %s already used for %s/%s", contract.ErrRejected, codec.FormatSeed(seed), opts.Kind, opts.Tier)
	}
	offered, active := e.count(opts.Kind)
	g := contract.Generator{Config: e.Config, World: e.World, Env: e.env()}
	c, err := g.Generate(contract.Request{
		Kind:    opts.Kind,
		Tier:    opts.Tier,
		Offered: offered,
		Active:  active,
		Seed:    seed,
		Now:     e.clock,
	})
	if err != nil {
		if errors.Is(err, contract.ErrRejected) {
			e.logf("engine: %s/%s seed %s: %v", opts.Kind, opts.Tier, codec.FormatSeed(seed), err)
		}
		return domain.Contract{}, err
	}
	if err := e.Events.AppendTx(ctx, events.ContractOffered, e.SaveID, "contract", c.ID, events.EventPayload{
		"kind":       c.Kind,
		"tier":       c.Tier,
		"body":       c.Body.Name,
		"seed":       codec.FormatSeed(c.Seed),
		"objectives": c.Tree.Len(),
	}); err != nil {
		return domain.Contract{}, err
	}
	e.add(c)
	return contractView(c), nil
}

// Accept activates an offered contract; its objectives start listening immediately.
func (e *Engine) Accept(ctx context.Context, id string) (domain.Contract, error) {
	c, err := e.get(id)
	if err != nil {
		return domain.Contract{}, err
	}
	if err := c.Accept(e.clock); err != nil {
		return domain.Contract{}, err
	}
	if err := e.Events.AppendTx(ctx, events.ContractAccepted, e.SaveID, "contract", c.ID, events.EventPayload{"at": e.clock}); err != nil {
		return domain.Contract{}, err
	}
	// An objective may already be satisfied by the world as it stands.
	if _, err := e.settle(ctx); err != nil {
		return domain.Contract{}, err
	}
	return contractView(c), nil
}

func (e *Engine) Cancel(ctx context.Context, id string) (domain.Contract, error) {
	c, err := e.get(id)
	if err != nil {
		return domain.Contract{}, err
	}
	from := c.Status
	if err := c.Cancel(e.clock); err != nil {
		return domain.Contract{}, err
	}
	if err := e.Events.AppendTx(ctx, events.ContractCancelled, e.SaveID, "contract", c.ID, events.EventPayload{
		"from": string(from),
		"at":   e.clock,
	}); err != nil {
		return domain.Contract{}, err
	}
	return contractView(c), nil
}

// ContractFilters narrows Contracts. Empty fields match everything.
type ContractFilters struct {
	Kind   string
	Status string
}

func (e *Engine) Contracts(f ContractFilters) []domain.Contract {
	out := []domain.Contract{}
	for _, c := range e.contracts {
		if f.Kind != "" && c.Kind != f.Kind {
			continue
		}
		if f.Status != "" && string(c.Status) != f.Status {
			continue
		}
		v := contractView(c)
		v.Objectives = nil
		out = append(out, v)
	}
	return out
}

func (e *Engine) Contract(id string) (domain.Contract, error) {
	c, err := e.get(id)
	if err != nil {
		return domain.Contract{}, err
	}
	return contractView(c), nil
}

func contractView(c *contract.Contract) domain.Contract {
	v := domain.Contract{
		ID:        c.ID,
		Kind:      c.Kind,
		Tier:      c.Tier,
		Body:      c.Body.Name,
		BodyIndex: c.Body.Index,
		Seed:      codec.FormatSeed(c.Seed),
		Status:    string(c.Status),
		Faction:   c.Faction,
		Rewards: domain.Rewards{
			FundsAdvance:      c.Rewards.FundsAdvance,
			FundsReward:       c.Rewards.FundsReward,
			FundsPenalty:      c.Rewards.FundsPenalty,
			ReputationReward:  c.Rewards.ReputationReward,
			ReputationPenalty: c.Rewards.ReputationPenalty,
			Science:           c.Rewards.Science,
		},
		Deadline:   c.Deadline,
		OfferedAt:  c.OfferedAt,
		AcceptedAt: c.AcceptedAt,
		FinishedAt: c.FinishedAt,
	}
	if c.Tree != nil {
		for _, n := range c.Tree.Views() {
			v.Objectives = append(v.Objectives, domain.Objective{
				ID:        int(n.ID),
				Parent:    int(n.Parent),
				Depth:     n.Depth,
				Kind:      string(n.Kind),
				Identity:  n.Identity,
				State:     n.State,
				Satisfied: n.Satisfied,
				Summary:   n.Summary,
			})
		}
	}
	return v
}
