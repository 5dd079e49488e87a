package migrate

import (
	"context"
	"testing"

	"contractline/internal/db"
)

func TestMigrateIsRepeatable(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	ctx := context.Background()

	if v, err := Version(ctx, conn); err != nil || v != 0 {
		t.Fatalf("fresh database at version %d: %v", v, err)
	}
	for i := 0; i < 2; i++ {
		if err := Migrate(conn); err != nil {
			t.Fatalf("migrate pass %d: %v", i, err)
		}
	}
	all, err := Migrations()
	if err != nil {
		t.Fatal(err)
	}
	v, err := Version(ctx, conn)
	if err != nil || v != all[len(all)-1].Version {
		t.Fatalf("expected version %d, got %d (%v)", all[len(all)-1].Version, v, err)
	}
	for _, table := range []string{"saves", "save_configs", "contracts", "objectives", "events", "api_keys"} {
		var name string
		if err := conn.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name); err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
}
