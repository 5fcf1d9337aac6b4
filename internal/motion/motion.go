// Package motion holds the domain types shared by adapters, the store and
// the review layer.
package motion

import (
	"regexp"
	"strings"
	"time"

	"github.com/TobiSchelling/MotionWatch/internal/apperrors"
)

// Status is the lifecycle state of a motion.
type Status string

const (
	StatusNew       Status = "new"
	StatusQueued    Status = "queued"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusPublished Status = "published"
)

// Statuses lists every status in lifecycle order.
func Statuses() []Status {
	return []Status{StatusNew, StatusQueued, StatusApproved, StatusRejected, StatusPublished}
}

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", apperrors.Validation("unknown status %q", s)
	}
	return st, nil
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusQueued, StatusApproved, StatusRejected, StatusPublished:
		return true
	}
	return false
}

// Rank orders statuses for display dedup: published > approved > queued/new > rejected.
func (s Status) Rank() int {
	switch s {
	case StatusPublished:
		return 4
	case StatusApproved:
		return 3
	case StatusQueued, StatusNew:
		return 2
	case StatusRejected:
		return 1
	}
	return 0
}

// Resolved reports whether a human decision closed the item.
func (s Status) Resolved() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusPublished
}

// Protected reports whether automated ingestion must leave the status alone.
func (s Status) Protected() bool {
	return s == StatusApproved || s == StatusPublished
}

// Open reports whether the item still awaits a decision.
func (s Status) Open() bool {
	return s == StatusNew || s == StatusQueued
}

// Variant is one language rendition of an affair.
type Variant struct {
	SourceID   string    `json:"sourceId"`
	ExternalID string    `json:"externalId"`
	Language   string    `json:"language"`
	Title      string    `json:"title"`
	Summary    string    `json:"summary,omitempty"`
	Body       string    `json:"body,omitempty"`
	URL        string    `json:"url,omitempty"`
	Confidence float64   `json:"confidence"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// RawRecord is ephemeral adapter output, consumed by scoring and merge.
type RawRecord struct {
	SourceID    string
	ExternalID  string
	AffairID    string
	Title       string
	Summary     string
	Body        string
	SourceURL   string
	PublishedAt *time.Time
	FetchedAt   time.Time
	Language    string
	Confidence  float64
	Variants    []Variant
	Scaffold    bool

	// Enriched is article text fetched from SourceURL. It is scored but never
	// hashed, so a failed fetch cannot produce a new version.
	Enriched string

	// Status and DecidedAt are set when a record replays an earlier decision.
	Status    Status
	DecidedAt *time.Time

	SubmissionID int64
}

// ID returns the composite "source:externalId" id.
func (r RawRecord) ID() string {
	return FormatID(r.SourceID, r.ExternalID)
}

// Text returns the text scored for relevance.
func (r RawRecord) Text() string {
	return strings.Join([]string{r.Title, r.Summary, r.Body, r.Enriched}, "\n")
}

// Motion is the canonical persisted record for one (source, externalId).
type Motion struct {
	ID              int64
	SourceID        string
	ExternalID      string
	AffairID        string
	SourceURL       string
	Language        string
	Score           float64
	MatchedKeywords []string
	Status          Status
	ReviewReason    string
	Confidence      float64
	Scaffold        bool
	Variants        []Variant
	EnrichedBody    string
	PublishedAt     *time.Time
	FirstSeenAt     time.Time
	LastSeenAt      time.Time
	UpdatedAt       time.Time
}

// Version is an immutable content snapshot of a motion.
type Version struct {
	MotionID    int64
	VersionNo   int
	ContentHash string
	Title       string
	Summary     string
	Body        string
	CreatedAt   time.Time
}

// Review is one entry of the append-only decision log.
type Review struct {
	ID        int64
	MotionID  int64
	Status    Status
	Reviewer  string
	DecidedAt time.Time
	Reason    string
}

// Submission is a manually entered candidate record.
type Submission struct {
	ID          int64
	Title       string
	Summary     string
	URL         string
	SourceLabel string
	Language    string
	Imported    bool
	CreatedAt   time.Time
}

// FormatID joins a source id and an external id.
func FormatID(sourceID, externalID string) string {
	return sourceID + ":" + externalID
}

// ParseID splits "source:externalId" at the first colon.
func ParseID(id string) (sourceID, externalID string, err error) {
	sourceID, externalID, ok := strings.Cut(strings.TrimSpace(id), ":")
	if !ok || sourceID == "" || externalID == "" {
		return "", "", apperrors.ErrInvalidID
	}
	return sourceID, externalID, nil
}

var leadingDigits = regexp.MustCompile(`^\d+`)

// AffairID returns the leading numeric segment of an external id, or "".
func AffairID(externalID string) string {
	return leadingDigits.FindString(strings.TrimSpace(externalID))
}
