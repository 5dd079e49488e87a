package repo

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"contractline/internal/config"
	"contractline/internal/db"
	"contractline/internal/domain"
	"contractline/internal/events"
	"contractline/internal/migrate"
)

func newRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return Repo{DB: conn}
}

func inTx(t *testing.T, r Repo, fn func(tx *sql.Tx) error) {
	t.Helper()
	tx, err := r.DB.Begin()
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func TestSaveLifecycle(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	if _, err := r.GetSave(ctx, "career"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	inTx(t, r, func(tx *sql.Tx) error {
		if err := r.EnsureSave(ctx, tx, "career"); err != nil {
			return err
		}
		return r.EnsureSave(ctx, tx, "career")
	})
	if err := r.UpdateSave(ctx, nil, "career", 1234.5, "bodies: []\n"); err != nil {
		t.Fatal(err)
	}
	s, err := r.GetSave(ctx, "career")
	if err != nil || s.Clock != 1234.5 {
		t.Fatalf("unexpected save %+v (%v)", s, err)
	}
	world, err := r.SaveWorld(ctx, "career")
	if err != nil || world != "bodies: []\n" {
		t.Fatalf("unexpected world %q (%v)", world, err)
	}
	if err := r.UpdateSave(ctx, nil, "missing", 0, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update of missing save: %v", err)
	}
	if err := r.DeleteSave(ctx, "career"); err != nil {
		t.Fatal(err)
	}
	if saves, _ := r.ListSaves(ctx); len(saves) != 0 {
		t.Fatalf("save survived delete: %+v", saves)
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	inTx(t, r, func(tx *sql.Tx) error { return r.EnsureSave(ctx, tx, "career") })
	if _, err := r.GetSaveConfig(ctx, "career"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	cfg := config.Default()
	cfg.Policy.SampleFraction = 0.5
	if err := r.UpsertSaveConfig(ctx, "career", cfg); err != nil {
		t.Fatal(err)
	}
	got, err := r.GetSaveConfig(ctx, "career")
	if err != nil || got.Policy.SampleFraction != 0.5 {
		t.Fatalf("unexpected config %+v (%v)", got, err)
	}
	cfg.Policy.SampleFraction = 0
	if err := r.UpsertSaveConfig(ctx, "career", cfg); err == nil {
		t.Fatalf("invalid config stored")
	}
}

func TestReplaceContracts(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	first := []StoredContract{
		{ID: "a", Kind: "survey", Tier: "trivial", Status: "active", Record: "Contract = 1|a", Objectives: []string{"Aggregate = 1|-1", "CollectScience = 1|0"}},
		{ID: "b", Kind: "orbital", Tier: "trivial", Status: "offered", Record: "Contract = 1|b"},
	}
	inTx(t, r, func(tx *sql.Tx) error {
		if err := r.EnsureSave(ctx, tx, "career"); err != nil {
			return err
		}
		return r.ReplaceContractsTx(ctx, tx, "career", first)
	})
	got, err := r.ListStoredContracts(ctx, "career")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "a" || len(got[0].Objectives) != 2 || got[0].Objectives[1] != "CollectScience = 1|0" {
		t.Fatalf("unexpected contracts %+v", got)
	}

	inTx(t, r, func(tx *sql.Tx) error { return r.ReplaceContractsTx(ctx, tx, "career", first[1:]) })
	got, err = r.ListStoredContracts(ctx, "career")
	if err != nil || len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("replace kept stale contracts: %+v (%v)", got, err)
	}
	var n int
	if err := r.DB.QueryRow(`SELECT COUNT(*) FROM objectives`).Scan(&n); err != nil || n != 0 {
		t.Fatalf("objectives of removed contract remain: %d", n)
	}
}

func TestLatestEventsFilters(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	w := events.Writer{DB: r.DB}
	for _, typ := range []string{events.ContractOffered, events.ContractAccepted, events.ContractOffered} {
		if err := w.AppendTx(ctx, typ, "career", "contract", "c1", events.EventPayload{"kind": "survey"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.AppendTx(ctx, events.SaveWritten, "", "save", "", nil); err != nil {
		t.Fatal(err)
	}
	all, err := r.LatestEvents(ctx, EventFilters{})
	if err != nil || len(all) != 4 || all[0].Type != events.SaveWritten || all[0].SaveID != "" {
		t.Fatalf("unexpected events %+v (%v)", all, err)
	}
	offered, err := r.LatestEvents(ctx, EventFilters{SaveID: "career", Type: events.ContractOffered})
	if err != nil || len(offered) != 2 {
		t.Fatalf("expected 2 offered events, got %d (%v)", len(offered), err)
	}
	older, err := r.LatestEvents(ctx, EventFilters{Cursor: offered[0].ID, Limit: 1})
	if err != nil || len(older) != 1 || older[0].Type != events.ContractAccepted {
		t.Fatalf("cursor paging broken: %+v (%v)", older, err)
	}
}

func TestAPIKeys(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	key := domain.APIKey{ID: "k1", Name: "host", KeyHash: HashAPIKey(" secret ")}
	if err := r.InsertAPIKey(ctx, nil, key); err != nil {
		t.Fatal(err)
	}
	got, err := r.GetAPIKeyByHash(ctx, HashAPIKey("secret"))
	if err != nil || got.ID != "k1" || got.Name != "host" {
		t.Fatalf("lookup by hash failed: %+v (%v)", got, err)
	}
	if err := r.DeleteAPIKey(ctx, "k1"); err != nil {
		t.Fatal(err)
	}
	if err := r.DeleteAPIKey(ctx, "k1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}

func TestEventsAfter(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	w := events.Writer{DB: r.DB}
	if id, err := r.LatestEventID(ctx, "career"); err != nil || id != 0 {
		t.Fatalf("expected empty ledger, got %d (%v)", id, err)
	}
	for _, save := range []string{"career", "other", "career"} {
		if err := w.AppendTx(ctx, events.ContractOffered, save, "contract", "c1", nil); err != nil {
			t.Fatal(err)
		}
	}
	got, err := r.EventsAfter(ctx, "career", 0, 10)
	if err != nil || len(got) != 2 || got[0].ID > got[1].ID {
		t.Fatalf("unexpected events %+v (%v)", got, err)
	}
	latest, err := r.LatestEventID(ctx, "career")
	if err != nil || latest != got[1].ID {
		t.Fatalf("latest id %d, want %d (%v)", latest, got[1].ID, err)
	}
	if rest, _ := r.EventsAfter(ctx, "career", latest, 10); len(rest) != 0 {
		t.Fatalf("events past the cursor: %+v", rest)
	}
}
