package database

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"

	"github.com/TobiSchelling/MotionWatch/internal/motion"
)

const latestVersionJoin = `motion_versions v ON v.motion_id = m.id
    AND v.version_no = (SELECT MAX(version_no) FROM motion_versions WHERE motion_id = m.id)`

const latestReviewJoin = `reviews r ON r.id = (
    SELECT id FROM reviews WHERE motion_id = m.id AND reviewer <> 'ingest'
    ORDER BY decided_at DESC, id DESC LIMIT 1)`

// summaryOrExcerpt falls back to the start of the fetched article text for
// link-only motions.
const summaryOrExcerpt = `CASE WHEN COALESCE(v.summary, '') = '' THEN substr(m.enriched_body, 1, 400)
    ELSE v.summary END`

// ListReviewItems returns motions with their latest content, latest human
// decision and fastlane tag, most recently updated first. Status is the
// effective one: the newest human decision when there is one.
func (db *DB) ListReviewItems(ctx context.Context, q ReviewItemQuery) ([]ReviewItem, error) {
	query := sq.Select(
		"m.id", "m.source_id", "m.external_id", "m.affair_id", "m.source_url", "m.language",
		"m.score", "m.matched_keywords", "m.status", "m.review_reason", "m.confidence",
		"m.scaffold", "m.variants", "m.updated_at",
		"COALESCE(v.title, '')", summaryOrExcerpt,
		"COALESCE(f.fastlane, 0)", "COALESCE(r.reviewer, '')", "COALESCE(r.status, '')", "r.decided_at",
	).
		From("motions m").
		LeftJoin(latestVersionJoin).
		LeftJoin("fastlane_tags f ON f.motion_id = m.id").
		LeftJoin(latestReviewJoin).
		OrderBy("m.updated_at DESC", "m.id DESC")

	if len(q.Statuses) > 0 {
		statuses := make([]string, len(q.Statuses))
		for i, s := range q.Statuses {
			statuses[i] = string(s)
		}
		query = query.Where(sq.Eq{"COALESCE(r.status, m.status)": statuses})
	}
	if len(q.SourceIDs) > 0 {
		query = query.Where(sq.Eq{"m.source_id": q.SourceIDs})
	}
	if q.Since != nil {
		query = query.Where(sq.GtOrEq{"m.updated_at": formatTime(*q.Since)})
	}
	if q.Limit > 0 {
		query = query.Limit(uint64(q.Limit))
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := db.conn.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []ReviewItem
	for rows.Next() {
		var (
			it                         ReviewItem
			matched, variants, updated string
			scaffold, fastlane         int
			decided                    sql.NullString
			reviewed                   motion.Status
		)
		if err := rows.Scan(&it.MotionID, &it.SourceID, &it.ExternalID, &it.AffairID, &it.URL,
			&it.Language, &it.Score, &matched, &it.Status, &it.Reason, &it.Confidence, &scaffold,
			&variants, &updated, &it.Title, &it.Summary, &fastlane, &it.Reviewer, &reviewed, &decided); err != nil {
			return nil, err
		}
		it.ID = motion.FormatID(it.SourceID, it.ExternalID)
		it.MatchedKeywords = decodeStrings(matched)
		it.Variants = decodeVariants(variants)
		it.Scaffold = scaffold != 0
		it.Fastlane = fastlane != 0
		it.DecidedAt = timePtr(decided)
		if reviewed != "" {
			it.Status = reviewed
		}
		it.UpdatedAt = parseTime(updated)
		items = append(items, it)
	}
	return items, rows.Err()
}
