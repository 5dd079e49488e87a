package app

import (
	"context"
	"errors"
	"fmt"

	"contractline/internal/config"
	"contractline/internal/engine"
	"contractline/internal/repo"
	"contractline/internal/world"
)

// Options selects where a session takes its config and world from. Empty paths fall back to
// the workspace file, then to the built-in defaults.
type Options struct {
	Workspace  string
	SaveID     string
	ConfigPath string
	WorldPath  string
}

// ResolveConfig picks the config of a save. Precedence: explicit file, stored save config,
// workspace contractline.yml, defaults.
func ResolveConfig(ctx context.Context, r repo.Repo, opts Options) (*config.Config, error) {
	if opts.ConfigPath != "" {
		return config.FromFile(opts.ConfigPath)
	}
	cfg, err := r.GetSaveConfig(ctx, saveID(opts))
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	cfg, err = config.LoadOptional(opts.Workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

// ResolveWorld picks the starting world when the save has no snapshot yet.
func ResolveWorld(opts Options) (*world.Sandbox, error) {
	if opts.WorldPath != "" {
		return world.SandboxFromFile(opts.WorldPath)
	}
	return world.DefaultSandbox(), nil
}

// Open builds the engine for a save and restores it when the save already exists. A stored
// world snapshot wins over WorldPath.
func Open(ctx context.Context, r repo.Repo, opts Options) (*engine.Engine, error) {
	cfg, err := ResolveConfig(ctx, r, opts)
	if err != nil {
		return nil, fmt.Errorf("resolve config: %w", err)
	}
	w, err := ResolveWorld(opts)
	if err != nil {
		return nil, fmt.Errorf("resolve world: %w", err)
	}
	eng := engine.New(r.DB, cfg, w, saveID(opts))
	if _, err := r.GetSave(ctx, eng.SaveID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return eng, nil
		}
		return nil, err
	}
	report, err := eng.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load save %s: %w", eng.SaveID, err)
	}
	if report.DroppedContracts > 0 || report.DroppedObjectives > 0 {
		eng.Logger.Printf("app: save %s dropped %d contracts and %d objectives", eng.SaveID, report.DroppedContracts, report.DroppedObjectives)
	}
	// An explicit config file overrides the one stored with the save.
	if opts.ConfigPath != "" {
		eng.Config = cfg
	}
	return eng, nil
}

func saveID(opts Options) string {
	if opts.SaveID == "" {
		return engine.DefaultSave
	}
	return opts.SaveID
}
