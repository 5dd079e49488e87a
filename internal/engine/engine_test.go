package engine

import (
	"bytes"
	"context"
	"errors"
	"log"
	"reflect"
	"testing"
	"time"

	"contractline/internal/config"
	"contractline/internal/contract"
	"contractline/internal/db"
	"contractline/internal/domain"
	"contractline/internal/events"
	"contractline/internal/migrate"
	"contractline/internal/objective"
	"contractline/internal/orbit"
	"contractline/internal/repo"
	"contractline/internal/telemetry"
	"contractline/internal/world"
)

type testEnv struct {
	Engine *Engine
	Ctx    context.Context
	Logs   *bytes.Buffer
	dir    string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	env := testEnv{Ctx: context.Background(), Logs: &bytes.Buffer{}, dir: dir}
	env.Engine = openEngine(t, dir, env.Logs)
	return env
}

func openEngine(t *testing.T, dir string, logs *bytes.Buffer) *Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := New(conn, config.Default(), world.DefaultSandbox(), "career")
	e.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	e.Logger = log.New(logs, "", 0)
	return e
}

func seed(v int64) *int64 { return &v }

// subjects lists the science subjects of every CollectScience objective of id.
func (env testEnv) subjects(t *testing.T, id string) []string {
	t.Helper()
	c, err := env.Engine.get(id)
	if err != nil {
		t.Fatal(err)
	}
	var out []string
	c.Tree.Walk(func(nid objective.NodeID, _ int) {
		n, _ := c.Tree.Node(nid)
		if cs, ok := n.(*objective.CollectScience); ok {
			out = append(out, cs.Subject())
		}
	})
	return out
}

func (env testEnv) sample(t *testing.T, subject string, value float64) Result {
	t.Helper()
	res, err := env.Engine.Publish(env.Ctx, telemetry.Event{Kind: telemetry.SampleReceived, Subject: subject, Value: value})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	return res
}

func TestSurveyCompletesFromTelemetry(t *testing.T) {
	env := newTestEnv(t)
	c, err := env.Engine.Generate(env.Ctx, GenerateOptions{Kind: config.KindSurvey, Seed: seed(1)})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if c.Status != "offered" || len(c.Objectives) < 3 {
		t.Fatalf("unexpected contract %+v", c)
	}
	subjects := env.subjects(t, c.ID)
	if res := env.sample(t, subjects[0], 1e6); res.Delivered != 0 {
		t.Fatalf("offered contract received telemetry")
	}

	var batches [][]domain.Transition
	stop := env.Engine.Listen(func(trs []domain.Transition) { batches = append(batches, trs) })
	defer stop()

	if _, err := env.Engine.Accept(env.Ctx, c.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	var settled []domain.Contract
	for _, s := range subjects {
		settled = append(settled, env.sample(t, s, 1e6).Settled...)
	}
	if len(settled) != 1 || settled[0].Status != "completed" {
		t.Fatalf("expected one completed contract, got %+v", settled)
	}
	if len(batches) == 0 || batches[0][0].ContractID != c.ID {
		t.Fatalf("listener saw no transitions")
	}
	got, _ := env.Engine.Contract(c.ID)
	if got.Status != "completed" || got.FinishedAt != env.Engine.Clock() {
		t.Fatalf("unexpected final contract %+v", got)
	}

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{SaveID: "career"})
	if err != nil {
		t.Fatal(err)
	}
	types := map[string]int{}
	for _, evt := range evts {
		types[evt.Type]++
	}
	if types[events.ContractOffered] != 1 || types[events.ContractAccepted] != 1 || types[events.ContractSettled] != 1 {
		t.Fatalf("unexpected ledger %v", types)
	}
	if types[events.ObjectiveChanged] < 2 {
		t.Fatalf("objective transitions missing from ledger: %v", types)
	}
}

func TestActiveCapRejectsGeneration(t *testing.T) {
	env := newTestEnv(t)
	for i := int64(1); i <= 2; i++ {
		c, err := env.Engine.Generate(env.Ctx, GenerateOptions{Kind: config.KindSurvey, Seed: seed(i)})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := env.Engine.Accept(env.Ctx, c.ID); err != nil {
			t.Fatal(err)
		}
	}
	_, err := env.Engine.Generate(env.Ctx, GenerateOptions{Kind: config.KindSurvey, Seed: seed(3)})
	if !errors.Is(err, contract.ErrRejected) {
		t.Fatalf("expected rejection with two active, got %v", err)
	}
	if !bytes.Contains(env.Logs.Bytes(), []byte("already active")) {
		t.Fatalf("rejection not logged: %s", env.Logs.String())
	}
	if got := env.Engine.Contracts(ContractFilters{Status: "active"}); len(got) != 2 {
		t.Fatalf("expected 2 active contracts, got %d", len(got))
	}
}

func TestSameSeedTwiceIsRejected(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Generate(env.Ctx, GenerateOptions{Kind: config.KindSurvey, Seed: seed(5)}); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.Generate(env.Ctx, GenerateOptions{Kind: config.KindSurvey, Seed: seed(5)})
	if !errors.Is(err, contract.ErrRejected) {
		t.Fatalf("expected duplicate seed rejection, got %v", err)
	}
}

func TestUnknownContractAndBackwardsTick(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Accept(env.Ctx, "nope"); !errors.Is(err, repo.ErrNotFound) || !errors.Is(err, ErrUnknownContract) {
		t.Fatalf("expected unknown contract, got %v", err)
	}
	if _, err := env.Engine.Tick(env.Ctx, 10); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Tick(env.Ctx, 5); err == nil {
		t.Fatalf("clock went backwards")
	}
	if _, err := env.Engine.Publish(env.Ctx, telemetry.Event{Kind: "weather.changed"}); err == nil {
		t.Fatalf("unknown telemetry kind accepted")
	}
}

func TestSaveLoadRestoresProgress(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Reach("Mun")
	c, err := env.Engine.Generate(env.Ctx, GenerateOptions{Kind: config.KindSurvey, Seed: seed(9)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Accept(env.Ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	offered, err := env.Engine.Generate(env.Ctx, GenerateOptions{Kind: config.KindSurvey, Seed: seed(10)})
	if err != nil {
		t.Fatal(err)
	}
	subjects := env.subjects(t, c.ID)
	env.sample(t, subjects[0], 1e6)
	if _, err := env.Engine.Tick(env.Ctx, 250); err != nil {
		t.Fatal(err)
	}
	before, _ := env.Engine.Contract(c.ID)
	if _, err := env.Engine.Save(env.Ctx); err != nil {
		t.Fatalf("save: %v", err)
	}

	again := openEngine(t, env.dir, env.Logs)
	report, err := again.Load(env.Ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if report.Contracts != 2 || report.DroppedContracts != 0 || report.DroppedObjectives != 0 {
		t.Fatalf("unexpected load report %+v", report)
	}
	if again.Clock() != 250 || !again.World.LocationReached("Mun") {
		t.Fatalf("clock or world not restored")
	}
	after, err := again.Contract(c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("contract changed across save/load:\n got %+v\nwant %+v", after, before)
	}
	if o, _ := again.Contract(offered.ID); o.Status != "offered" {
		t.Fatalf("offered contract not restored: %+v", o)
	}

	reloaded := testEnv{Engine: again, Ctx: env.Ctx}
	var settled []domain.Contract
	for _, s := range subjects[1:] {
		settled = append(settled, reloaded.sample(t, s, 1e6).Settled...)
	}
	if len(settled) != 1 || settled[0].ID != c.ID {
		t.Fatalf("restored contract did not complete: %+v", settled)
	}
}

func TestLoadMissingSave(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Load(env.Ctx); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLoadDropsCorruptContract(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Generate(env.Ctx, GenerateOptions{Kind: config.KindSurvey, Seed: seed(2)}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Save(env.Ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.DB.Exec(`UPDATE contracts SET record='Contract = 1|garbage'`); err != nil {
		t.Fatal(err)
	}
	report, err := env.Engine.Load(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Contracts != 0 || report.DroppedContracts != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if !bytes.Contains(env.Logs.Bytes(), []byte("drop contract")) {
		t.Fatalf("drop not logged: %s", env.Logs.String())
	}
}

func TestDockSchedulesEquipmentRescan(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Unlock("dmImagingPlatform")
	c, err := env.Engine.Generate(env.Ctx, GenerateOptions{Kind: config.KindRecon, Seed: seed(4)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Accept(env.Ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	ct, _ := env.Engine.get(c.ID)
	hold := ct.Tree.Roots()[0]
	eqID := ct.Tree.Children(hold)[0]
	n, _ := ct.Tree.Node(eqID)
	eq := n.(*objective.EquipmentRequest)

	low := orbit.Orbit{Body: c.Body, Elements: orbit.Elements{SemiMajorAxis: 750000}}
	if _, err := env.Engine.UpsertVessel(env.Ctx, world.VesselDoc{ID: "scout", Orbit: &low}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.UpsertVessel(env.Ctx, world.VesselDoc{ID: "carrier", Groups: eq.Groups()}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Dock(env.Ctx, "carrier", "scout"); err != nil {
		t.Fatal(err)
	}
	if ct.Tree.State(eqID) == objective.Complete {
		t.Fatalf("equipment satisfied before the deferred rescan")
	}
	for now := 1.0; now <= 30; now++ {
		if _, err := env.Engine.Tick(env.Ctx, now); err != nil {
			t.Fatal(err)
		}
	}
	if ct.Tree.State(eqID) != objective.Complete {
		t.Fatalf("equipment request not satisfied after docking: %v", eq.Suitable())
	}
}

func TestReplacingVesselDropsItsEquipment(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Unlock("dmImagingPlatform")
	c, err := env.Engine.Generate(env.Ctx, GenerateOptions{Kind: config.KindRecon, Seed: seed(4)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Accept(env.Ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	ct, _ := env.Engine.get(c.ID)
	holdID := ct.Tree.Roots()[0]
	children := ct.Tree.Children(holdID)
	n, _ := ct.Tree.Node(children[0])
	eq := n.(*objective.EquipmentRequest)
	n, _ = ct.Tree.Node(children[1])
	target := n.(*objective.SpecificOrbit).Target()
	n, _ = ct.Tree.Node(holdID)
	hold := n.(*objective.OrbitHold)

	onTarget := orbit.Orbit{Body: target.Body(), Elements: target.Elements()}
	if _, err := env.Engine.UpsertVessel(env.Ctx, world.VesselDoc{ID: "scout", Orbit: &onTarget, Groups: eq.Groups()}); err != nil {
		t.Fatal(err)
	}
	if ct.Tree.State(children[0]) != objective.Complete {
		t.Fatalf("equipped vessel entering orbit not picked up: %v", eq.Suitable())
	}
	if _, err := env.Engine.Tick(env.Ctx, 1); err != nil {
		t.Fatal(err)
	}
	if !hold.Timing() || hold.StartedAt() != 1 {
		t.Fatalf("hold should start at 1, got timing=%v start=%v", hold.Timing(), hold.StartedAt())
	}

	if _, err := env.Engine.UpsertVessel(env.Ctx, world.VesselDoc{ID: "scout", Orbit: &onTarget}); err != nil {
		t.Fatal(err)
	}
	if ct.Tree.State(children[0]) == objective.Complete {
		t.Fatalf("bare replacement still suitable: %v", eq.Suitable())
	}
	step := hold.Duration() / 20
	for i := 1; i <= 40; i++ {
		if _, err := env.Engine.Tick(env.Ctx, 1+float64(i)*step); err != nil {
			t.Fatal(err)
		}
	}
	got, err := env.Engine.Contract(c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status == "completed" || len(eq.Suitable()) != 0 {
		t.Fatalf("contract %s with suitable %v after replacing the equipped vessel", got.Status, eq.Suitable())
	}
}

func TestRemovingVesselLeavesOrbit(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Unlock("dmImagingPlatform")
	c, err := env.Engine.Generate(env.Ctx, GenerateOptions{Kind: config.KindRecon, Seed: seed(4)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Accept(env.Ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	ct, _ := env.Engine.get(c.ID)
	eqID := ct.Tree.Children(ct.Tree.Roots()[0])[0]
	n, _ := ct.Tree.Node(eqID)
	eq := n.(*objective.EquipmentRequest)

	low := orbit.Orbit{Body: c.Body, Elements: orbit.Elements{SemiMajorAxis: 750000}}
	if _, err := env.Engine.UpsertVessel(env.Ctx, world.VesselDoc{ID: "scout", Orbit: &low, Groups: eq.Groups()}); err != nil {
		t.Fatal(err)
	}
	if ct.Tree.State(eqID) != objective.Complete {
		t.Fatalf("expected scout to be suitable")
	}
	if _, err := env.Engine.RemoveVessel(env.Ctx, "scout"); err != nil {
		t.Fatal(err)
	}
	if ct.Tree.State(eqID) != objective.Incomplete || len(eq.Suitable()) != 0 {
		t.Fatalf("removed vessel still suitable: %v", eq.Suitable())
	}
}
