package migrate

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCreateSQLMigrationRefusesExistingVersion(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	path, err := createSQLMigration(dir, "seed orders", now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if filepath.Base(path) != "20260301090000_seed_orders.sql" {
		t.Fatalf("unexpected filename %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "-- rollback seed_orders") {
		t.Fatalf("unexpected template:\n%s", data)
	}
	if _, err := createSQLMigration(dir, "seed orders", now); err == nil {
		t.Fatal("expected error for existing migration")
	}
}

func TestRunRejectsUnsupportedCommand(t *testing.T) {
	ctx := context.Background()
	if err := Run(ctx, nil, DefaultDir, "up"); err == nil {
		t.Fatal("expected error for nil db")
	}

	db, err := sql.Open(dialect, "postgres://localhost/unused?sslmode=disable")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if err := Run(ctx, db, DefaultDir, "reset"); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("expected unsupported command error, got %v", err)
	}
}
