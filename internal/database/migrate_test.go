package database

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

func rawConn(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "raw.db"))
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestMigrateNewDB(t *testing.T) {
	db := openTestDB(t)

	version, err := schemaVersion(context.Background(), db.conn)
	if err != nil {
		t.Fatalf("schemaVersion: %v", err)
	}
	if version != latestVersion() {
		t.Errorf("expected version %d, got %d", latestVersion(), version)
	}
	for _, m := range migrations {
		for _, table := range m.Tables {
			if n := count(t, db, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table); n != 1 {
				t.Errorf("expected table %s", table)
			}
		}
	}
}

func TestMigrateResumesFromStoredVersion(t *testing.T) {
	ctx := context.Background()
	conn := rawConn(t)

	// Apply only the first step, as an older build would have.
	if err := applyMigration(ctx, conn, migrations[0]); err != nil {
		t.Fatalf("apply first migration: %v", err)
	}
	if _, err := conn.Exec(`INSERT INTO sources (id, kind, synced_at) VALUES ('curia', 'feed', '2026-01-01')`); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := migrate(ctx, conn, zap.NewNop()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	version, _ := schemaVersion(ctx, conn)
	if version != latestVersion() {
		t.Errorf("expected version %d, got %d", latestVersion(), version)
	}

	var n int
	if err := conn.QueryRow("SELECT COUNT(*) FROM sources").Scan(&n); err != nil || n != 1 {
		t.Errorf("existing rows must survive migration, got %d (%v)", n, err)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "idem.db")

	db1, err := Open(dbPath)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	db1.Close()

	db2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer db2.Close()

	version, err := schemaVersion(context.Background(), db2.conn)
	if err != nil {
		t.Fatalf("schemaVersion: %v", err)
	}
	if version != latestVersion() {
		t.Errorf("expected version %d, got %d", latestVersion(), version)
	}
}

func TestMigrateToleratesInterruptedColumnAdd(t *testing.T) {
	ctx := context.Background()
	conn := rawConn(t)

	// The column exists but the version stamp was never written.
	for _, m := range migrations {
		if m.Version > 3 {
			break
		}
		if err := applyMigration(ctx, conn, m); err != nil {
			t.Fatalf("apply migration %d: %v", m.Version, err)
		}
	}
	if _, err := conn.Exec("ALTER TABLE motions ADD COLUMN enriched_body TEXT NOT NULL DEFAULT ''"); err != nil {
		t.Fatalf("add column: %v", err)
	}

	if err := migrate(ctx, conn, zap.NewNop()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	var n int
	if err := conn.QueryRow("SELECT COUNT(*) FROM pragma_table_info('motions') WHERE name = 'enriched_body'").Scan(&n); err != nil || n != 1 {
		t.Errorf("expected one enriched_body column, got %d (%v)", n, err)
	}
}

func TestMigrateRefusesNewerSchema(t *testing.T) {
	conn := rawConn(t)
	if _, err := conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", latestVersion()+1)); err != nil {
		t.Fatalf("stamp: %v", err)
	}

	err := migrate(context.Background(), conn, zap.NewNop())
	if err == nil || !strings.Contains(err.Error(), "newer") {
		t.Fatalf("expected newer-schema error, got %v", err)
	}
}

func TestMigrateDetectsMissingTable(t *testing.T) {
	ctx := context.Background()
	conn := rawConn(t)
	if err := migrate(ctx, conn, zap.NewNop()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := conn.Exec("DROP TABLE runs"); err != nil {
		t.Fatalf("drop: %v", err)
	}

	err := migrate(ctx, conn, zap.NewNop())
	if err == nil || !strings.Contains(err.Error(), "runs") {
		t.Fatalf("expected missing table error, got %v", err)
	}
}

func TestSchemaVersionNewDB(t *testing.T) {
	version, err := schemaVersion(context.Background(), rawConn(t))
	if err != nil {
		t.Fatalf("schemaVersion: %v", err)
	}
	if version != 0 {
		t.Errorf("expected version 0 on new db, got %d", version)
	}
}
