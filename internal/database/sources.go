package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/TobiSchelling/MotionWatch/internal/source"
)

// SyncSources mirrors the configured source registry into the sources table.
// Sources that left the configuration are kept but marked disabled so their
// motions keep a label.
func (db *DB) SyncSources(ctx context.Context, sources []source.Source) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := db.stamp()
	if _, err := tx.ExecContext(ctx, "UPDATE sources SET enabled = 0"); err != nil {
		return err
	}
	for _, s := range sources {
		opts, err := json.Marshal(s.Options)
		if err != nil {
			return fmt.Errorf("encode options of %s: %w", s.ID, err)
		}
		if len(s.Options) == 0 {
			opts = []byte("{}")
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO sources (id, label, kind, url, enabled, options, synced_at) VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET label = excluded.label, kind = excluded.kind, url = excluded.url,
    enabled = excluded.enabled, options = excluded.options, synced_at = excluded.synced_at`,
			s.ID, s.Label, string(s.Kind), s.URL, boolInt(s.Enabled), string(opts), now,
		)
		if err != nil {
			return fmt.Errorf("sync source %s: %w", s.ID, err)
		}
	}
	return tx.Commit()
}

// StoredSource is a row of the sources table with its motion count.
type StoredSource struct {
	ID      string
	Label   string
	Kind    string
	URL     string
	Enabled bool
	Motions int
}

// ListSources returns every mirrored source.
func (db *DB) ListSources(ctx context.Context) ([]StoredSource, error) {
	rows, err := db.conn.QueryContext(ctx, `
SELECT s.id, s.label, s.kind, s.url, s.enabled,
    (SELECT COUNT(*) FROM motions m WHERE m.source_id = s.id)
FROM sources s ORDER BY s.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredSource
	for rows.Next() {
		var (
			s       StoredSource
			enabled int
		)
		if err := rows.Scan(&s.ID, &s.Label, &s.Kind, &s.URL, &enabled, &s.Motions); err != nil {
			return nil, err
		}
		s.Enabled = enabled != 0
		out = append(out, s)
	}
	return out, rows.Err()
}
