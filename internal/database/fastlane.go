package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/TobiSchelling/MotionWatch/internal/apperrors"
	"github.com/TobiSchelling/MotionWatch/internal/motion"
)

// FastlaneResult reports the stored tag after SetFastlane.
type FastlaneResult struct {
	MotionID int64
	Fastlane bool
	Applied  bool
}

// SetFastlane tags a motion for priority review. An older taggedAt than the
// stored one is ignored.
func (db *DB) SetFastlane(ctx context.Context, id string, fastlane bool, taggedAt time.Time) (*FastlaneResult, error) {
	sourceID, externalID, err := motion.ParseID(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, id)
	}
	if taggedAt.IsZero() {
		return nil, apperrors.Validation("taggedAt is required")
	}

	unlock := db.lockMotion(motion.FormatID(sourceID, externalID))
	defer unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	motionID, _, _, err := ensureMotion(ctx, tx, sourceID, externalID, db.stamp())
	if err != nil {
		return nil, err
	}

	tagged := formatTime(taggedAt)
	var (
		stored   int
		storedAt string
	)
	err = tx.QueryRowContext(ctx,
		"SELECT fastlane, tagged_at FROM fastlane_tags WHERE motion_id = ?", motionID,
	).Scan(&stored, &storedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, err
	case storedAt > tagged:
		return &FastlaneResult{MotionID: motionID, Fastlane: stored != 0}, tx.Commit()
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO fastlane_tags (motion_id, fastlane, tagged_at) VALUES (?, ?, ?)
ON CONFLICT(motion_id) DO UPDATE SET fastlane = excluded.fastlane, tagged_at = excluded.tagged_at`,
		motionID, boolInt(fastlane), tagged,
	)
	if err != nil {
		return nil, fmt.Errorf("set fastlane %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &FastlaneResult{MotionID: motionID, Fastlane: fastlane, Applied: true}, nil
}
