package migrate_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/heuristiclogix/eventrelay/pkg/config"
	"github.com/heuristiclogix/eventrelay/pkg/logger"
	"github.com/heuristiclogix/eventrelay/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected one %s migration, found %d", suffix, len(matches))
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func TestMigrationsDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestMigrationsContainSchemas(t *testing.T) {
	cases := map[string][]string{
		"create_outbox_events": {
			"CREATE TYPE outbox_status AS ENUM ('pending', 'published', 'failed')",
			"CREATE TABLE IF NOT EXISTS outbox_events",
			"sequence        BIGSERIAL PRIMARY KEY",
			"claim_token     UUID",
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_outbox_events_id",
			"CREATE INDEX IF NOT EXISTS idx_outbox_events_status_next_attempt",
		},
		"create_outbox_dlq": {
			"CREATE TABLE IF NOT EXISTS outbox_dlq",
			"payload_json  JSONB NOT NULL",
		},
		"create_processed_events": {
			"CREATE TABLE IF NOT EXISTS processed_events",
			"PRIMARY KEY (consumer, event_id)",
		},
		"create_orders": {
			"CREATE TABLE IF NOT EXISTS orders",
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_reference",
		},
		"create_enrichments": {
			"CREATE TABLE IF NOT EXISTS enrichments",
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_enrichments_event_id",
		},
	}
	for suffix, checks := range cases {
		content := readMigration(t, suffix)
		for _, sub := range checks {
			if !strings.Contains(content, sub) {
				t.Errorf("%s: missing expected statement %q", suffix, sub)
			}
		}
		if !strings.Contains(content, "-- +goose Down") || !strings.Contains(content, "DROP TABLE IF EXISTS") {
			t.Errorf("%s: missing down migration", suffix)
		}
	}
}

func TestCreateSQLMigrationWritesValidFile(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Order Notes!")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasSuffix(path, "_add_order_notes.sql") {
		t.Fatalf("unexpected filename %s", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("validate created migration: %v", err)
	}
	if _, err := migrate.CreateSQLMigration(dir, "!!!"); err == nil {
		t.Fatal("expected error for empty sanitized name")
	}
}

func TestValidateDirRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad-name.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := migrate.ValidateDir(dir); err == nil {
		t.Fatal("expected invalid filename error")
	}

	dir = t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "20260301000000_no_down.sql"), []byte("-- +goose Up\nSELECT 1;\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := migrate.ValidateDir(dir); err == nil {
		t.Fatal("expected missing down marker error")
	}
}

func TestMaybeRunDevSkipsOutsideDev(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: config.AppEnvProd}, FeatureFlags: config.FeatureFlagsConfig{AutoMigrate: true}}
	logg := logger.New(logger.Options{ServiceName: "migrate-test"})
	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, nil); err != nil {
		t.Fatalf("expected skip, got %v", err)
	}

	cfg.App.Env = config.AppEnvDev
	cfg.DB.Driver = "sqlite"
	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, nil); err != nil {
		t.Fatalf("expected sqlite skip, got %v", err)
	}

	cfg.DB.Driver = "postgres"
	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, nil); err == nil {
		t.Fatal("expected missing client error")
	}
}

func TestValidateDirRejectsUnbalancedStatements(t *testing.T) {
	dir := t.TempDir()
	body := "-- +goose Up\n-- +goose StatementBegin\nSELECT 1;\n-- +goose Down\nSELECT 2;\n"
	if err := os.WriteFile(filepath.Join(dir, "20260301000000_unbalanced.sql"), []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := migrate.ValidateDir(dir); err == nil {
		t.Fatal("expected unbalanced statement block error")
	}
}

func TestParseVersion(t *testing.T) {
	if v, err := migrate.ParseVersion("20260301090000"); err != nil || v != 20260301090000 {
		t.Fatalf("unexpected result %d %v", v, err)
	}
	for _, raw := range []string{"", "2026", "2026030109000x"} {
		if _, err := migrate.ParseVersion(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestSanitizeName(t *testing.T) {
	if got := migrate.SanitizeName("  Add Outbox-Index "); got != "add_outbox_index" {
		t.Fatalf("unexpected sanitized name %q", got)
	}
}
