package database

import (
	"database/sql"
	"fmt"
)

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	// Tables lists the tables the step creates; checked after migrating.
	Tables []string
	Up     func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Tables:      []string{"sources", "motions", "motion_versions", "reviews"},
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS sources (
    id TEXT PRIMARY KEY,
    label TEXT NOT NULL DEFAULT '',
    kind TEXT NOT NULL,
    url TEXT NOT NULL DEFAULT '',
    enabled INTEGER NOT NULL DEFAULT 1,
    options TEXT NOT NULL DEFAULT '{}',
    synced_at TEXT NOT NULL
);

-- source_id carries no foreign key: decisions may arrive for sources that
-- are no longer configured.
CREATE TABLE IF NOT EXISTS motions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source_id TEXT NOT NULL,
    external_id TEXT NOT NULL,
    affair_id TEXT NOT NULL DEFAULT '',
    source_url TEXT NOT NULL DEFAULT '',
    language TEXT NOT NULL DEFAULT '',
    score REAL NOT NULL DEFAULT 0,
    matched_keywords TEXT NOT NULL DEFAULT '[]',
    status TEXT NOT NULL DEFAULT 'new',
    review_reason TEXT NOT NULL DEFAULT '',
    confidence REAL NOT NULL DEFAULT 1,
    scaffold INTEGER NOT NULL DEFAULT 0,
    variants TEXT NOT NULL DEFAULT '[]',
    published_at TEXT,
    first_seen_at TEXT NOT NULL,
    last_seen_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    UNIQUE (source_id, external_id)
);

CREATE TABLE IF NOT EXISTS motion_versions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    motion_id INTEGER NOT NULL REFERENCES motions(id),
    version_no INTEGER NOT NULL,
    content_hash TEXT NOT NULL,
    title TEXT NOT NULL,
    summary TEXT NOT NULL DEFAULT '',
    body TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    UNIQUE (motion_id, content_hash),
    UNIQUE (motion_id, version_no)
);

CREATE TABLE IF NOT EXISTS reviews (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    motion_id INTEGER NOT NULL REFERENCES motions(id),
    status TEXT NOT NULL,
    reviewer TEXT NOT NULL DEFAULT '',
    decided_at TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_motions_status ON motions(status);
CREATE INDEX IF NOT EXISTS idx_motions_affair ON motions(affair_id);
CREATE INDEX IF NOT EXISTS idx_reviews_motion ON reviews(motion_id, decided_at);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "fastlane tags and manual submissions",
		Tables:      []string{"fastlane_tags", "submissions"},
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS fastlane_tags (
    motion_id INTEGER PRIMARY KEY REFERENCES motions(id),
    fastlane INTEGER NOT NULL,
    tagged_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS submissions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL,
    summary TEXT NOT NULL DEFAULT '',
    url TEXT NOT NULL DEFAULT '',
    source_label TEXT NOT NULL DEFAULT '',
    language TEXT NOT NULL DEFAULT '',
    imported INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);
`)
			return err
		},
	},
	{
		Version:     3,
		Description: "run history",
		Tables:      []string{"runs"},
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    started_at TEXT NOT NULL,
    finished_at TEXT NOT NULL,
    sources INTEGER NOT NULL DEFAULT 0,
    failures INTEGER NOT NULL DEFAULT 0,
    records INTEGER NOT NULL DEFAULT 0,
    created INTEGER NOT NULL DEFAULT 0,
    new_versions INTEGER NOT NULL DEFAULT 0,
    queued INTEGER NOT NULL DEFAULT 0,
    rejected INTEGER NOT NULL DEFAULT 0,
    report_markdown TEXT NOT NULL DEFAULT '',
    manifest TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`)
			return err
		},
	},
	{
		Version:     4,
		Description: "fetched article text kept outside versions",
		Up: func(tx *sql.Tx) error {
			return addColumn(tx, "motions", "enriched_body", "TEXT NOT NULL DEFAULT ''")
		},
	},
}

// addColumn is ALTER TABLE ADD COLUMN that tolerates a column left behind by
// an interrupted migration.
func addColumn(tx *sql.Tx, table, column, decl string) error {
	var n int
	err := tx.QueryRow(
		"SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, column,
	).Scan(&n)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	_, err = tx.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl))
	return err
}

// latestVersion returns the highest migration version.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
