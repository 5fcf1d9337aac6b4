package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/TobiSchelling/MotionWatch/internal/apperrors"
	"github.com/TobiSchelling/MotionWatch/internal/motion"
	"github.com/TobiSchelling/MotionWatch/internal/review"
)

// DefaultReviewer is recorded when a decision names no reviewer.
const DefaultReviewer = "reviewer"

// ApplyDecision appends a reviewer decision to the log. Unknown ids get a
// placeholder motion. Re-posting an identical (status, decidedAt) is a no-op,
// and the motion status only follows the newest decision by decidedAt.
func (db *DB) ApplyDecision(ctx context.Context, d Decision) (*DecisionResult, error) {
	sourceID, externalID, err := motion.ParseID(d.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, d.ID)
	}
	if !d.Status.Valid() {
		return nil, apperrors.Validation("unknown status %q", d.Status)
	}
	if d.DecidedAt.IsZero() {
		return nil, apperrors.Validation("decidedAt is required")
	}
	reviewer := strings.TrimSpace(d.Reviewer)
	if reviewer == "" {
		reviewer = DefaultReviewer
	}
	if reviewer == reviewerIngest {
		return nil, apperrors.Validation("reviewer name %q is reserved", reviewer)
	}

	unlock := db.lockMotion(motion.FormatID(sourceID, externalID))
	defer unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := db.stamp()
	motionID, current, created, err := ensureMotion(ctx, tx, sourceID, externalID, now)
	if err != nil {
		return nil, err
	}
	res := &DecisionResult{MotionID: motionID, Status: current, Created: created}

	decided := formatTime(d.DecidedAt)
	dup, err := reviewExists(ctx, tx, motionID, d.Status, decided)
	if err != nil {
		return nil, err
	}
	if dup {
		res.Duplicate = true
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return res, nil
	}

	newest, err := isNewestDecision(ctx, tx, motionID, decided)
	if err != nil {
		return nil, err
	}
	if newest && current != d.Status {
		if err := review.Transition(current, d.Status, review.ActorReviewer); err != nil {
			return nil, err
		}
	}
	if err := insertReview(ctx, tx, motionID, d.Status, reviewer, decided, d.Reason); err != nil {
		return nil, err
	}
	if newest {
		reason := d.Reason
		if reason == "" {
			reason = "decided by " + reviewer
		}
		if err := setStatus(ctx, tx, motionID, d.Status, reason, now); err != nil {
			return nil, err
		}
		res.Status = d.Status
	}
	res.Applied = newest

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit decision %s: %w", d.ID, err)
	}
	db.logger.Debug("decision applied",
		zap.String("id", d.ID),
		zap.String("status", string(d.Status)),
		zap.Bool("applied", newest))
	return res, nil
}

// ensureMotion returns the motion row for (source, external id), creating a
// placeholder when it does not exist yet.
func ensureMotion(ctx context.Context, tx *sql.Tx, sourceID, externalID, now string) (id int64, status motion.Status, created bool, err error) {
	err = tx.QueryRowContext(ctx,
		"SELECT id, status FROM motions WHERE source_id = ? AND external_id = ?", sourceID, externalID,
	).Scan(&id, &status)
	if err == nil {
		return id, status, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, "", false, err
	}
	r, err := tx.ExecContext(ctx, `
INSERT INTO motions (source_id, external_id, status, first_seen_at, last_seen_at, updated_at)
VALUES (?, ?, 'new', ?, ?, ?)`,
		sourceID, externalID, now, now, now,
	)
	if err != nil {
		return 0, "", false, fmt.Errorf("create placeholder %s: %w", motion.FormatID(sourceID, externalID), err)
	}
	id, err = r.LastInsertId()
	return id, motion.StatusNew, true, err
}

func reviewExists(ctx context.Context, tx *sql.Tx, motionID int64, st motion.Status, decided string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM reviews WHERE motion_id = ? AND status = ? AND decided_at = ?",
		motionID, st, decided,
	).Scan(&n)
	return n > 0, err
}

// isNewestDecision compares against human decisions only; ingest status
// changes never outrank a reviewer.
func isNewestDecision(ctx context.Context, tx *sql.Tx, motionID int64, decided string) (bool, error) {
	var latest string
	err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(decided_at), '') FROM reviews WHERE motion_id = ? AND reviewer <> ?",
		motionID, reviewerIngest,
	).Scan(&latest)
	if err != nil {
		return false, err
	}
	return decided >= latest, nil
}

func insertReview(ctx context.Context, tx *sql.Tx, motionID int64, st motion.Status, reviewer, decided, reason string) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO reviews (motion_id, status, reviewer, decided_at, reason) VALUES (?, ?, ?, ?, ?)",
		motionID, st, reviewer, decided, reason,
	)
	if err != nil {
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

// ReviewEntry is a review log row with the composite motion id.
type ReviewEntry struct {
	MotionKey string
	motion.Review
}

// Reviews returns the review log of one motion, oldest first.
func (db *DB) Reviews(ctx context.Context, id string) ([]motion.Review, error) {
	sourceID, externalID, err := motion.ParseID(id)
	if err != nil {
		return nil, err
	}
	rows, err := db.conn.QueryContext(ctx, `
SELECT r.id, r.motion_id, r.status, r.reviewer, r.decided_at, r.reason
FROM reviews r JOIN motions m ON m.id = r.motion_id
WHERE m.source_id = ? AND m.external_id = ?
ORDER BY r.decided_at, r.id`, sourceID, externalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []motion.Review
	for rows.Next() {
		var (
			r       motion.Review
			decided string
		)
		if err := rows.Scan(&r.ID, &r.MotionID, &r.Status, &r.Reviewer, &decided, &r.Reason); err != nil {
			return nil, err
		}
		r.DecidedAt = parseTime(decided)
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestReviews returns the most recent human decisions across all motions.
func (db *DB) LatestReviews(ctx context.Context, limit int) ([]ReviewEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.QueryContext(ctx, `
SELECT m.source_id, m.external_id, r.id, r.motion_id, r.status, r.reviewer, r.decided_at, r.reason
FROM reviews r JOIN motions m ON m.id = r.motion_id
WHERE r.reviewer <> ?
ORDER BY r.decided_at DESC, r.id DESC
LIMIT ?`, reviewerIngest, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReviewEntry
	for rows.Next() {
		var (
			e                    ReviewEntry
			sourceID, externalID string
			decided              string
		)
		if err := rows.Scan(&sourceID, &externalID, &e.ID, &e.MotionID, &e.Status, &e.Reviewer, &decided, &e.Reason); err != nil {
			return nil, err
		}
		e.MotionKey = motion.FormatID(sourceID, externalID)
		e.DecidedAt = parseTime(decided)
		out = append(out, e)
	}
	return out, rows.Err()
}
