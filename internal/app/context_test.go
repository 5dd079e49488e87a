package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"contractline/internal/config"
	"contractline/internal/db"
	"contractline/internal/engine"
	"contractline/internal/migrate"
	"contractline/internal/repo"
)

func newRepo(t *testing.T, dir string) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func TestResolveConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	r := newRepo(t, dir)
	ctx := context.Background()

	cfg, err := ResolveConfig(ctx, r, Options{Workspace: dir})
	if err != nil || cfg.Policy.SampleFraction != 0.3 {
		t.Fatalf("expected defaults, got %+v (%v)", cfg, err)
	}

	workspaceCfg := strings.Replace(config.GenerateDefault(), "sample_fraction: 0.3", "sample_fraction: 0.4", 1)
	if err := os.WriteFile(config.Path(dir), []byte(workspaceCfg), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = ResolveConfig(ctx, r, Options{Workspace: dir})
	if err != nil || cfg.Policy.SampleFraction != 0.4 {
		t.Fatalf("expected workspace config, got %+v (%v)", cfg, err)
	}

	eng := engine.New(r.DB, config.Default(), nil, "")
	eng.World, _ = ResolveWorld(Options{})
	if _, err := eng.Save(ctx); err != nil {
		t.Fatal(err)
	}
	cfg, err = ResolveConfig(ctx, r, Options{Workspace: dir})
	if err != nil || cfg.Policy.SampleFraction != 0.3 {
		t.Fatalf("expected stored save config, got %+v (%v)", cfg, err)
	}

	explicit := filepath.Join(dir, "other.yml")
	if err := os.WriteFile(explicit, []byte(strings.Replace(workspaceCfg, "0.4", "0.6", 1)), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = ResolveConfig(ctx, r, Options{Workspace: dir, ConfigPath: explicit})
	if err != nil || cfg.Policy.SampleFraction != 0.6 {
		t.Fatalf("expected explicit config, got %+v (%v)", cfg, err)
	}
}

func TestOpenRestoresExistingSave(t *testing.T) {
	dir := t.TempDir()
	r := newRepo(t, dir)
	ctx := context.Background()

	eng, err := Open(ctx, r, Options{Workspace: dir, SaveID: "career"})
	if err != nil {
		t.Fatal(err)
	}
	seed := int64(3)
	c, err := eng.Generate(ctx, engine.GenerateOptions{Kind: config.KindSurvey, Seed: &seed})
	if err != nil {
		t.Fatal(err)
	}
	eng.Reach("Minmus")
	if _, err := eng.Save(ctx); err != nil {
		t.Fatal(err)
	}

	again, err := Open(ctx, r, Options{Workspace: dir, SaveID: "career"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := again.Contract(c.ID); err != nil {
		t.Fatalf("contract not restored: %v", err)
	}
	if !again.World.LocationReached("Minmus") {
		t.Fatalf("world snapshot not restored")
	}

	fresh, err := Open(ctx, r, Options{Workspace: dir, SaveID: "other"})
	if err != nil || len(fresh.Contracts(engine.ContractFilters{})) != 0 {
		t.Fatalf("expected an empty save, got %v", err)
	}
}
