package engine

import (
	"context"
	"errors"
	"fmt"

	"contractline/internal/codec"
	"contractline/internal/contract"
	"contractline/internal/domain"
	"contractline/internal/events"
	"contractline/internal/repo"
	"contractline/internal/world"
)

// Save writes every contract, the world snapshot and the config of the current save in one
// transaction.
func (e *Engine) Save(ctx context.Context) (domain.Save, error) {
	if e.Config == nil || e.World == nil {
		return domain.Save{}, errors.New("config not loaded")
	}
	worldYAML, err := e.World.YAML()
	if err != nil {
		return domain.Save{}, fmt.Errorf("snapshot world: %w", err)
	}
	stored := make([]repo.StoredContract, 0, len(e.contracts))
	objectives := 0
	for _, c := range e.contracts {
		sc := repo.StoredContract{
			ID:     c.ID,
			Kind:   c.Kind,
			Tier:   c.Tier,
			Status: string(c.Status),
			Record: c.Record().String(),
		}
		if c.Tree != nil {
			sc.Objectives = c.Tree.SaveLines()
		}
		objectives += len(sc.Objectives)
		stored = append(stored, sc)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Save{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureSave(ctx, tx, e.SaveID); err != nil {
		return domain.Save{}, fmt.Errorf("ensure save: %w", err)
	}
	if err := e.Repo.UpsertSaveConfigTx(ctx, tx, e.SaveID, e.Config); err != nil {
		return domain.Save{}, fmt.Errorf("save config: %w", err)
	}
	if err := e.Repo.ReplaceContractsTx(ctx, tx, e.SaveID, stored); err != nil {
		return domain.Save{}, err
	}
	if err := e.Repo.UpdateSave(ctx, tx, e.SaveID, e.clock, string(worldYAML)); err != nil {
		return domain.Save{}, err
	}
	if err := e.Events.Append(ctx, tx, events.SaveWritten, e.SaveID, "save", e.SaveID, events.EventPayload{
		"clock":      e.clock,
		"contracts":  len(stored),
		"objectives": objectives,
	}); err != nil {
		return domain.Save{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Save{}, err
	}
	return e.Repo.GetSave(ctx, e.SaveID)
}

// LoadReport summarizes what a Load restored and what it had to drop.
type LoadReport struct {
	Save              domain.Save `json:"save"`
	Contracts         int         `json:"contracts"`
	DroppedContracts  int         `json:"dropped_contracts"`
	DroppedObjectives int         `json:"dropped_objectives"`
}

// Load replaces the in-memory state with the stored save. Contracts whose header record is
// corrupt are dropped; objective records are dropped individually by the tree.
func (e *Engine) Load(ctx context.Context) (LoadReport, error) {
	s, err := e.Repo.GetSave(ctx, e.SaveID)
	if err != nil {
		return LoadReport{}, err
	}
	if cfg, err := e.Repo.GetSaveConfig(ctx, e.SaveID); err == nil {
		e.Config = cfg
	} else if !errors.Is(err, repo.ErrNotFound) {
		return LoadReport{}, fmt.Errorf("load config: %w", err)
	}
	worldYAML, err := e.Repo.SaveWorld(ctx, e.SaveID)
	if err != nil {
		return LoadReport{}, err
	}
	if worldYAML != "" {
		w, err := world.SandboxFromYAML([]byte(worldYAML))
		if err != nil {
			return LoadReport{}, fmt.Errorf("load world: %w", err)
		}
		e.World = w
	}
	stored, err := e.Repo.ListStoredContracts(ctx, e.SaveID)
	if err != nil {
		return LoadReport{}, err
	}

	e.reset()
	e.clock = s.Clock
	report := LoadReport{Save: s}
	for _, sc := range stored {
		c, err := e.restore(sc)
		if err != nil {
			e.logf("engine: drop contract %s: %v", sc.ID, err)
			report.DroppedContracts++
			continue
		}
		dropped := c.Tree.LoadLines(sc.Objectives)
		report.DroppedObjectives += dropped
		if c.IsActive() {
			c.Tree.RegisterAll()
		}
		c.Tree.DrainTransitions()
		e.add(c)
		report.Contracts++
	}
	if err := e.Events.AppendTx(ctx, events.SaveLoaded, e.SaveID, "save", e.SaveID, events.EventPayload{
		"contracts":          report.Contracts,
		"dropped_contracts":  report.DroppedContracts,
		"dropped_objectives": report.DroppedObjectives,
	}); err != nil {
		return report, err
	}
	return report, nil
}

func (e *Engine) restore(sc repo.StoredContract) (*contract.Contract, error) {
	rec, err := codec.Parse(sc.Record)
	if err != nil {
		return nil, err
	}
	c, err := contract.FromRecord(rec, e.World)
	if err != nil {
		return nil, err
	}
	if _, dup := e.byID[c.ID]; dup {
		return nil, fmt.Errorf("duplicate contract %s", c.ID)
	}
	c.AttachTree(e.env())
	return c, nil
}

// reset drops every in-memory contract and releases its subscriptions.
func (e *Engine) reset() {
	for _, c := range e.contracts {
		if c.Tree != nil {
			c.Tree.UnregisterAll()
		}
	}
	e.contracts = nil
	e.byID = map[string]*contract.Contract{}
}
