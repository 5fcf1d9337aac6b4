package database

import (
	"time"

	"github.com/TobiSchelling/MotionWatch/internal/motion"
)

// ScoredRecord is a raw record with the status the ingest path assigned.
type ScoredRecord struct {
	Record  motion.RawRecord
	Score   float64
	Matched []string
	Status  motion.Status
	Reason  string
}

// UpsertResult reports what an upsert changed.
type UpsertResult struct {
	MotionID      int64
	Created       bool
	NewVersion    bool
	VersionNo     int
	Status        motion.Status
	StatusChanged bool
	// Kept is set when a human status blocked the ingest status.
	Kept bool
	// ReplayRefused is set when the record's own decision was not applied.
	ReplayRefused bool
}

// Decision is a reviewer verdict for one motion id ("source:externalId").
type Decision struct {
	ID        string
	Status    motion.Status
	DecidedAt time.Time
	Reviewer  string
	Reason    string
}

// DecisionResult reports the effect of ApplyDecision.
type DecisionResult struct {
	MotionID int64
	// Status is the motion status after the decision.
	Status motion.Status
	// Applied is false when a newer decision already set the status.
	Applied   bool
	Duplicate bool
	Created   bool
}

// ReviewItem is a motion joined with its latest version, latest review and
// fastlane tag.
type ReviewItem struct {
	ID              string
	MotionID        int64
	SourceID        string
	ExternalID      string
	AffairID        string
	Title           string
	Summary         string
	URL             string
	Language        string
	Score           float64
	MatchedKeywords []string
	Status          motion.Status
	Reason          string
	Confidence      float64
	Scaffold        bool
	Variants        []motion.Variant
	Fastlane        bool
	Reviewer        string
	DecidedAt       *time.Time
	UpdatedAt       time.Time
}

// ReviewItemQuery filters ListReviewItems.
type ReviewItemQuery struct {
	Statuses  []motion.Status
	SourceIDs []string
	Since     *time.Time
	Limit     int
}

// Run is one persisted batch pass.
type Run struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  time.Time
	Sources     int
	Failures    int
	Records     int
	Created     int
	NewVersions int
	Queued      int
	Rejected    int
	Report      string
	Manifest    string
}

// Stats holds database statistics.
type Stats struct {
	Sources   int
	Motions   int
	Versions  int
	Reviews   int
	ByStatus  map[motion.Status]int
	Pending   int
	LastRunAt *time.Time
	LastRunID string
}
