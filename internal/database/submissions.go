package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/TobiSchelling/MotionWatch/internal/apperrors"
	"github.com/TobiSchelling/MotionWatch/internal/motion"
)

// InsertSubmission stores a manually entered candidate and returns its id.
func (db *DB) InsertSubmission(ctx context.Context, s motion.Submission) (int64, error) {
	title := strings.TrimSpace(s.Title)
	if title == "" {
		return 0, apperrors.Validation("submission needs a title")
	}
	r, err := db.conn.ExecContext(ctx, `
INSERT INTO submissions (title, summary, url, source_label, language, imported, created_at)
VALUES (?, ?, ?, ?, ?, 0, ?)`,
		title, s.Summary, s.URL, s.SourceLabel, strings.ToLower(s.Language), db.stamp(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert submission: %w", err)
	}
	return r.LastInsertId()
}

// PendingSubmissions returns submissions not yet imported as motions.
func (db *DB) PendingSubmissions(ctx context.Context) ([]motion.Submission, error) {
	return db.querySubmissions(ctx, "WHERE imported = 0")
}

// AllSubmissions returns every submission, newest first.
func (db *DB) AllSubmissions(ctx context.Context) ([]motion.Submission, error) {
	return db.querySubmissions(ctx, "")
}

// MarkSubmissionImported flags a submission once its motion is stored.
func (db *DB) MarkSubmissionImported(ctx context.Context, id int64) error {
	r, err := db.conn.ExecContext(ctx, "UPDATE submissions SET imported = 1 WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := r.RowsAffected(); n == 0 {
		return fmt.Errorf("submission %d: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

// GetSubmission returns one submission or ErrNotFound.
func (db *DB) GetSubmission(ctx context.Context, id int64) (*motion.Submission, error) {
	subs, err := db.querySubmissions(ctx, "WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("submission %d: %w", id, apperrors.ErrNotFound)
	}
	return &subs[0], nil
}

func (db *DB) querySubmissions(ctx context.Context, where string, args ...any) ([]motion.Submission, error) {
	rows, err := db.conn.QueryContext(ctx, `
SELECT id, title, summary, url, source_label, language, imported, created_at
FROM submissions `+where+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []motion.Submission
	for rows.Next() {
		var (
			s        motion.Submission
			imported int
			created  string
		)
		if err := rows.Scan(&s.ID, &s.Title, &s.Summary, &s.URL, &s.SourceLabel, &s.Language, &imported, &created); err != nil {
			return nil, err
		}
		s.Imported = imported != 0
		s.CreatedAt = parseTime(created)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return out, nil
}
