package database

import (
	"context"

	"github.com/TobiSchelling/MotionWatch/internal/motion"
)

// Versions returns the content history of a motion, oldest first.
func (db *DB) Versions(ctx context.Context, id string) ([]motion.Version, error) {
	sourceID, externalID, err := motion.ParseID(id)
	if err != nil {
		return nil, err
	}
	rows, err := db.conn.QueryContext(ctx, `
SELECT v.motion_id, v.version_no, v.content_hash, v.title, v.summary, v.body, v.created_at
FROM motion_versions v JOIN motions m ON m.id = v.motion_id
WHERE m.source_id = ? AND m.external_id = ?
ORDER BY v.version_no`, sourceID, externalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []motion.Version
	for rows.Next() {
		var (
			v       motion.Version
			created string
		)
		if err := rows.Scan(&v.MotionID, &v.VersionNo, &v.ContentHash, &v.Title, &v.Summary, &v.Body, &created); err != nil {
			return nil, err
		}
		v.CreatedAt = parseTime(created)
		out = append(out, v)
	}
	return out, rows.Err()
}
