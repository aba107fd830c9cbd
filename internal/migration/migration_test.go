package migration

import (
	"io/fs"
	"strings"
	"testing"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}
	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	if len(ups) == 0 {
		t.Fatalf("expected at least one migration")
	}
	for version := range ups {
		if !downs[version] {
			t.Fatalf("migration %s has no down file", version)
		}
	}
}

func TestInitialMigrationEnforcesSingleActiveSubscription(t *testing.T) {
	raw, err := fs.ReadFile(embeddedMigrations, migrationsDir+"/000001_payment_pipeline.up.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sql := string(raw)
	if !strings.Contains(sql, "ON subscriptions (user_id) WHERE is_active") {
		t.Fatalf("expected partial unique index on active subscriptions")
	}
	if !strings.Contains(sql, "ux_payment_records_reference") {
		t.Fatalf("expected unique merchant reference index")
	}
}

func TestTierTableCarriesNoPrice(t *testing.T) {
	raw, err := fs.ReadFile(embeddedMigrations, migrationsDir+"/000001_payment_pipeline.up.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	ddl := string(raw)
	start := strings.Index(ddl, "CREATE TABLE IF NOT EXISTS subscription_tiers")
	if start < 0 {
		t.Fatalf("subscription_tiers table missing")
	}
	end := strings.Index(ddl[start:], ");")
	if table := ddl[start : start+end]; strings.Contains(table, "price") {
		t.Fatalf("tier prices belong to the pricing config, got %q", table)
	}
}

func TestRunMigrationsRequiresHandle(t *testing.T) {
	if _, err := RunMigrations(nil); err == nil {
		t.Fatalf("expected error for nil db")
	}
}
