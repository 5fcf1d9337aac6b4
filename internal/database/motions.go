package database

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/TobiSchelling/MotionWatch/internal/apperrors"
	"github.com/TobiSchelling/MotionWatch/internal/motion"
	"github.com/TobiSchelling/MotionWatch/internal/review"
)

const (
	reviewerIngest = "ingest"
	reviewerImport = "import"
)

// ContentHash is the SHA-256 of the length-prefixed title, summary and body,
// so field boundaries cannot collide.
func ContentHash(title, summary, body string) string {
	h := sha256.New()
	var n [8]byte
	for _, field := range []string{title, summary, body} {
		binary.BigEndian.PutUint64(n[:], uint64(len(field)))
		h.Write(n[:])
		h.Write([]byte(field))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// UpsertMotion inserts or updates the motion for (source, externalId) in one
// transaction, appends a version when the content hash is new and records
// status changes in the review log. Approved and published motions keep
// their status.
func (db *DB) UpsertMotion(ctx context.Context, sr ScoredRecord) (*UpsertResult, error) {
	rec := sr.Record
	if rec.SourceID == "" || rec.ExternalID == "" {
		return nil, apperrors.Validation("record without source or external id")
	}
	target := sr.Status
	if target == "" {
		target = motion.StatusNew
	}
	if !target.Valid() {
		return nil, apperrors.Validation("unknown status %q", target)
	}
	replayed := rec.Status != "" && rec.Status != motion.StatusNew && rec.DecidedAt != nil
	if replayed && !rec.Status.Valid() {
		return nil, apperrors.Validation("unknown replayed status %q", rec.Status)
	}

	unlock := db.lockMotion(rec.ID())
	defer unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := db.stamp()
	matched, _ := json.Marshal(nonNil(sr.Matched))
	variants, _ := json.Marshal(nonNilVariants(rec.Variants))

	res := &UpsertResult{}
	var current motion.Status
	err = tx.QueryRowContext(ctx,
		"SELECT id, status FROM motions WHERE source_id = ? AND external_id = ?",
		rec.SourceID, rec.ExternalID,
	).Scan(&res.MotionID, &current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		r, err := tx.ExecContext(ctx, `
INSERT INTO motions (source_id, external_id, affair_id, source_url, language, score,
    matched_keywords, status, review_reason, confidence, scaffold, variants, enriched_body,
    published_at, first_seen_at, last_seen_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, 'new', '', ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.SourceID, rec.ExternalID, rec.AffairID, rec.SourceURL, rec.Language, sr.Score,
			string(matched), rec.Confidence, boolInt(rec.Scaffold), string(variants), rec.Enriched,
			nullTime(rec.PublishedAt), now, now, now,
		)
		if err != nil {
			return nil, fmt.Errorf("insert motion %s: %w", rec.ID(), err)
		}
		if res.MotionID, err = r.LastInsertId(); err != nil {
			return nil, err
		}
		res.Created = true
		current = motion.StatusNew
	case err != nil:
		return nil, fmt.Errorf("lookup motion %s: %w", rec.ID(), err)
	default:
		// A run whose article fetch failed keeps the text fetched earlier.
		_, err = tx.ExecContext(ctx, `
UPDATE motions SET affair_id = ?, source_url = ?, language = ?, score = ?, matched_keywords = ?,
    confidence = ?, scaffold = ?, variants = ?, published_at = COALESCE(?, published_at),
    enriched_body = CASE WHEN ? <> '' THEN ? ELSE enriched_body END,
    last_seen_at = ?
WHERE id = ?`,
			rec.AffairID, rec.SourceURL, rec.Language, sr.Score, string(matched),
			rec.Confidence, boolInt(rec.Scaffold), string(variants), nullTime(rec.PublishedAt),
			rec.Enriched, rec.Enriched, now, res.MotionID,
		)
		if err != nil {
			return nil, fmt.Errorf("update motion %s: %w", rec.ID(), err)
		}
	}

	if err := db.appendVersion(ctx, tx, res, rec, now); err != nil {
		return nil, err
	}

	res.Status = current
	if replayed {
		if err := db.replayDecision(ctx, tx, res, current, rec, now); err != nil {
			return nil, err
		}
	}
	switch {
	case replayed && !res.ReplayRefused:
	case current.Protected():
		res.Kept = current != target
	case current != target:
		if err := review.Transition(current, target, review.ActorIngest); err != nil {
			return nil, err
		}
		if err := setStatus(ctx, tx, res.MotionID, target, sr.Reason, now); err != nil {
			return nil, err
		}
		if err := insertReview(ctx, tx, res.MotionID, target, reviewerIngest, now, sr.Reason); err != nil {
			return nil, err
		}
		res.Status, res.StatusChanged = target, true
	case sr.Reason != "":
		if _, err := tx.ExecContext(ctx, "UPDATE motions SET review_reason = ? WHERE id = ?", sr.Reason, res.MotionID); err != nil {
			return nil, err
		}
	}

	if res.Created || res.NewVersion || res.StatusChanged {
		if _, err := tx.ExecContext(ctx, "UPDATE motions SET updated_at = ? WHERE id = ?", now, res.MotionID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit upsert %s: %w", rec.ID(), err)
	}
	return res, nil
}

func (db *DB) appendVersion(ctx context.Context, tx *sql.Tx, res *UpsertResult, rec motion.RawRecord, now string) error {
	hash := ContentHash(rec.Title, rec.Summary, rec.Body)
	var exists int
	err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM motion_versions WHERE motion_id = ? AND content_hash = ?",
		res.MotionID, hash,
	).Scan(&exists)
	if err != nil {
		return err
	}
	if exists > 0 {
		return nil
	}

	var next int
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version_no), 0) + 1 FROM motion_versions WHERE motion_id = ?", res.MotionID,
	).Scan(&next); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO motion_versions (motion_id, version_no, content_hash, title, summary, body, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		res.MotionID, next, hash, rec.Title, rec.Summary, rec.Body, now,
	)
	if err != nil {
		return fmt.Errorf("append version %d of %s: %w", next, rec.ID(), err)
	}
	res.NewVersion, res.VersionNo = true, next
	return nil
}

// replayDecision stores a decision carried by the record itself (manual
// entries, imports). It follows the same newest-wins rule as ApplyDecision.
// A decision the reviewer state machine refuses is logged and skipped, and
// the record then takes the ingest status.
func (db *DB) replayDecision(ctx context.Context, tx *sql.Tx, res *UpsertResult, current motion.Status, rec motion.RawRecord, now string) error {
	decided := formatTime(*rec.DecidedAt)
	dup, err := reviewExists(ctx, tx, res.MotionID, rec.Status, decided)
	if err != nil || dup {
		return err
	}
	newest, err := isNewestDecision(ctx, tx, res.MotionID, decided)
	if err != nil {
		return err
	}
	apply := newest && current != rec.Status
	if apply {
		err := review.Transition(current, rec.Status, review.ActorReviewer)
		if errors.Is(err, apperrors.ErrInvalidTransition) {
			// The record itself is still stored. No review row is written,
			// since the newest one would become the effective status.
			db.logger.Warn("replayed decision refused",
				zap.String("id", rec.ID()),
				zap.String("current", string(current)),
				zap.String("replayed", string(rec.Status)),
				zap.Error(err))
			res.ReplayRefused = true
			return nil
		}
		if err != nil {
			return err
		}
	}
	if err := insertReview(ctx, tx, res.MotionID, rec.Status, reviewerImport, decided, "replayed decision"); err != nil {
		return err
	}
	if !apply {
		return nil
	}
	if err := setStatus(ctx, tx, res.MotionID, rec.Status, "replayed decision", now); err != nil {
		return err
	}
	res.Status, res.StatusChanged = rec.Status, true
	return nil
}

func setStatus(ctx context.Context, tx *sql.Tx, motionID int64, st motion.Status, reason, now string) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE motions SET status = ?, review_reason = ?, updated_at = ? WHERE id = ?",
		st, reason, now, motionID,
	)
	return err
}

// GetMotion returns the motion by composite id, or ErrNotFound.
func (db *DB) GetMotion(ctx context.Context, id string) (*motion.Motion, error) {
	sourceID, externalID, err := motion.ParseID(id)
	if err != nil {
		return nil, err
	}
	row := db.conn.QueryRowContext(ctx, `
SELECT id, source_id, external_id, affair_id, source_url, language, score, matched_keywords,
    status, review_reason, confidence, scaffold, variants, enriched_body, published_at,
    first_seen_at, last_seen_at, updated_at
FROM motions WHERE source_id = ? AND external_id = ?`, sourceID, externalID)

	var (
		m                           motion.Motion
		matched, variants           string
		published                   sql.NullString
		firstSeen, lastSeen, update string
		scaffold                    int
	)
	err = row.Scan(&m.ID, &m.SourceID, &m.ExternalID, &m.AffairID, &m.SourceURL, &m.Language,
		&m.Score, &matched, &m.Status, &m.ReviewReason, &m.Confidence, &scaffold, &variants,
		&m.EnrichedBody, &published, &firstSeen, &lastSeen, &update)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("motion %s: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	m.Scaffold = scaffold != 0
	m.MatchedKeywords = decodeStrings(matched)
	m.Variants = decodeVariants(variants)
	m.PublishedAt = timePtr(published)
	m.FirstSeenAt = parseTime(firstSeen)
	m.LastSeenAt = parseTime(lastSeen)
	m.UpdatedAt = parseTime(update)
	return &m, nil
}

// StatusOf returns the stored status, or "" when the motion is unknown.
func (db *DB) StatusOf(ctx context.Context, id string) (motion.Status, error) {
	sourceID, externalID, err := motion.ParseID(id)
	if err != nil {
		return "", err
	}
	var st motion.Status
	err = db.conn.QueryRowContext(ctx,
		"SELECT status FROM motions WHERE source_id = ? AND external_id = ?", sourceID, externalID,
	).Scan(&st)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return st, err
}

// EnrichedBodyOf returns the article text last fetched for the motion, or ""
// when the motion is unknown or was never enriched.
func (db *DB) EnrichedBodyOf(ctx context.Context, id string) (string, error) {
	sourceID, externalID, err := motion.ParseID(id)
	if err != nil {
		return "", err
	}
	var body string
	err = db.conn.QueryRowContext(ctx,
		"SELECT enriched_body FROM motions WHERE source_id = ? AND external_id = ?", sourceID, externalID,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return body, err
}

// CountMotions returns the number of stored motions.
func (db *DB) CountMotions(ctx context.Context) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM motions").Scan(&n)
	return n, err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilVariants(v []motion.Variant) []motion.Variant {
	if v == nil {
		return []motion.Variant{}
	}
	return v
}

func decodeStrings(s string) []string {
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func decodeVariants(s string) []motion.Variant {
	var out []motion.Variant
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &out); err != nil || len(out) == 0 {
		return nil
	}
	return out
}
