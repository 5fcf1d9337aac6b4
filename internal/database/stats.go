package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/TobiSchelling/MotionWatch/internal/motion"
)

// GetStats returns overall database statistics.
func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	s := &Stats{ByStatus: make(map[motion.Status]int)}

	for _, c := range []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM sources WHERE enabled = 1", &s.Sources},
		{"SELECT COUNT(*) FROM motions", &s.Motions},
		{"SELECT COUNT(*) FROM motion_versions", &s.Versions},
		{"SELECT COUNT(*) FROM reviews WHERE reviewer <> 'ingest'", &s.Reviews},
	} {
		if err := db.conn.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, err
		}
	}

	rows, err := db.conn.QueryContext(ctx, "SELECT status, COUNT(*) FROM motions GROUP BY status")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var (
			st motion.Status
			n  int
		)
		if err := rows.Scan(&st, &n); err != nil {
			rows.Close()
			return nil, err
		}
		s.ByStatus[st] = n
		if st.Open() {
			s.Pending += n
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var lastID, lastAt sql.NullString
	err = db.conn.QueryRowContext(ctx, "SELECT id, started_at FROM runs ORDER BY started_at DESC LIMIT 1").Scan(&lastID, &lastAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	s.LastRunID = lastID.String
	s.LastRunAt = timePtr(lastAt)
	return s, nil
}
