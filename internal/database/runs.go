package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/TobiSchelling/MotionWatch/internal/apperrors"
)

// InsertRun stores a finished batch pass. An empty ID gets a fresh UUID.
func (db *DB) InsertRun(ctx context.Context, r *Run) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	manifest := r.Manifest
	if manifest == "" {
		manifest = "{}"
	}
	_, err := db.conn.ExecContext(ctx, `
INSERT INTO runs (id, started_at, finished_at, sources, failures, records, created,
    new_versions, queued, rejected, report_markdown, manifest)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, formatTime(r.StartedAt), formatTime(r.FinishedAt), r.Sources, r.Failures,
		r.Records, r.Created, r.NewVersions, r.Queued, r.Rejected, r.Report, manifest,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.ID, err)
	}
	return nil
}

const runColumns = `id, started_at, finished_at, sources, failures, records, created,
    new_versions, queued, rejected, report_markdown, manifest`

// LatestRun returns the most recently started run, or ErrNotFound.
func (db *DB) LatestRun(ctx context.Context) (*Run, error) {
	return scanRun(db.conn.QueryRowContext(ctx,
		"SELECT "+runColumns+" FROM runs ORDER BY started_at DESC LIMIT 1"))
}

// GetRun returns a run by id, or ErrNotFound.
func (db *DB) GetRun(ctx context.Context, id string) (*Run, error) {
	return scanRun(db.conn.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id))
}

// ListRuns returns the most recent runs without their reports.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+runColumns+" FROM runs ORDER BY started_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		r.Report = ""
		out = append(out, *r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		r                 Run
		started, finished string
	)
	err := row.Scan(&r.ID, &started, &finished, &r.Sources, &r.Failures, &r.Records, &r.Created,
		&r.NewVersions, &r.Queued, &r.Rejected, &r.Report, &r.Manifest)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run: %w", apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	r.StartedAt = parseTime(started)
	r.FinishedAt = parseTime(finished)
	return &r, nil
}
