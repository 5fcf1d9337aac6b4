package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/MotionWatch/internal/apperrors"
	"github.com/TobiSchelling/MotionWatch/internal/database"
	"github.com/TobiSchelling/MotionWatch/internal/motion"
	"github.com/TobiSchelling/MotionWatch/internal/review"
)

const maxBodyBytes = 1 << 20

type decisionRequest struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	DecidedAt string `json:"decidedAt"`
	Reviewer  string `json:"reviewer"`
	Reason    string `json:"reason"`
}

type decisionResponse struct {
	OK        bool          `json:"ok"`
	ID        string        `json:"id"`
	MotionID  int64         `json:"motionId"`
	Status    motion.Status `json:"status"`
	Applied   bool          `json:"applied"`
	Duplicate bool          `json:"duplicate"`
	Created   bool          `json:"created"`
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	st, err := review.ParseVerdict(req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	decidedAt, err := parseTimestamp("decidedAt", req.DecidedAt)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := s.db.ApplyDecision(r.Context(), database.Decision{
		ID:        req.ID,
		Status:    st,
		DecidedAt: decidedAt,
		Reviewer:  req.Reviewer,
		Reason:    req.Reason,
	})
	if err != nil {
		s.logger.Info("decision refused", zap.String("id", req.ID), zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decisionResponse{
		OK:        true,
		ID:        strings.TrimSpace(req.ID),
		MotionID:  res.MotionID,
		Status:    res.Status,
		Applied:   res.Applied,
		Duplicate: res.Duplicate,
		Created:   res.Created,
	})
}

type fastlaneRequest struct {
	ID       string `json:"id"`
	Fastlane *bool  `json:"fastlane"`
	TaggedAt string `json:"taggedAt"`
}

func (s *Server) handleFastlane(w http.ResponseWriter, r *http.Request) {
	var req fastlaneRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Fastlane == nil {
		writeError(w, apperrors.Validation("fastlane is required"))
		return
	}
	taggedAt, err := parseTimestamp("taggedAt", req.TaggedAt)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.db.SetFastlane(r.Context(), req.ID, *req.Fastlane, taggedAt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"id":       strings.TrimSpace(req.ID),
		"fastlane": res.Fastlane,
		"applied":  res.Applied,
	})
}

func (s *Server) handleReviewItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	includeDecided, _ := strconv.ParseBool(q.Get("includeDecided"))
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, apperrors.Validation("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	rows, err := s.db.ListReviewItems(r.Context(), database.ReviewItemQuery{})
	if err != nil {
		writeError(w, err)
		return
	}
	items := make([]review.Item, len(rows))
	for i, row := range rows {
		items[i] = toItem(row)
	}
	queue := review.BuildQueue(items, review.QueueOptions{
		IncludeDecided: includeDecided,
		Limit:          limit,
		Languages:      s.languages,
	})
	writeJSON(w, http.StatusOK, map[string]any{"items": queue})
}

func toItem(row database.ReviewItem) review.Item {
	return review.Item{
		ID:              row.ID,
		SourceID:        row.SourceID,
		ExternalID:      row.ExternalID,
		AffairID:        row.AffairID,
		Title:           row.Title,
		Summary:         row.Summary,
		URL:             row.URL,
		Language:        row.Language,
		Score:           row.Score,
		MatchedKeywords: row.MatchedKeywords,
		Status:          row.Status,
		Reason:          row.Reason,
		Confidence:      row.Confidence,
		Scaffold:        row.Scaffold,
		Fastlane:        row.Fastlane,
		Reviewer:        row.Reviewer,
		DecidedAt:       row.DecidedAt,
		UpdatedAt:       row.UpdatedAt,
		Variants:        row.Variants,
	}
}

type runResponse struct {
	ID          string          `json:"id"`
	StartedAt   time.Time       `json:"startedAt"`
	FinishedAt  time.Time       `json:"finishedAt"`
	Sources     int             `json:"sources"`
	Failures    int             `json:"failures"`
	Records     int             `json:"records"`
	Created     int             `json:"created"`
	NewVersions int             `json:"newVersions"`
	Queued      int             `json:"queued"`
	Rejected    int             `json:"rejected"`
	Report      string          `json:"reportMarkdown"`
	Manifest    json.RawMessage `json:"manifest"`
}

func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.db.LatestRun(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	manifest := json.RawMessage(run.Manifest)
	if !json.Valid(manifest) {
		manifest = json.RawMessage("{}")
	}
	writeJSON(w, http.StatusOK, runResponse{
		ID:          run.ID,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
		Sources:     run.Sources,
		Failures:    run.Failures,
		Records:     run.Records,
		Created:     run.Created,
		NewVersions: run.NewVersions,
		Queued:      run.Queued,
		Rejected:    run.Rejected,
		Report:      run.Report,
		Manifest:    manifest,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.GetStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sources":   stats.Sources,
		"motions":   stats.Motions,
		"versions":  stats.Versions,
		"reviews":   stats.Reviews,
		"pending":   stats.Pending,
		"byStatus":  stats.ByStatus,
		"lastRunId": stats.LastRunID,
		"lastRunAt": stats.LastRunAt,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, apperrors.Parse("request body", err))
		return false
	}
	return true
}

func parseTimestamp(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, apperrors.Validation("%s is required", field)
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, apperrors.Validation("%s is not an RFC 3339 timestamp: %q", field, value)
	}
	return t.UTC(), nil
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrInvalidID),
		errors.Is(err, apperrors.ErrValidation),
		errors.Is(err, apperrors.ErrParse):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = "internal server error"
	}
	writeJSON(w, code, map[string]any{"ok": false, "error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
