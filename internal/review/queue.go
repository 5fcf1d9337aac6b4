package review

import (
	"sort"
	"time"

	"github.com/TobiSchelling/MotionWatch/internal/dedup"
	"github.com/TobiSchelling/MotionWatch/internal/motion"
)

// Item is one entry of the review queue as served by GET /api/review-items.
type Item struct {
	ID              string           `json:"id"`
	SourceID        string           `json:"sourceId"`
	ExternalID      string           `json:"externalId"`
	AffairID        string           `json:"affairId,omitempty"`
	Title           string           `json:"title"`
	Summary         string           `json:"summary,omitempty"`
	URL             string           `json:"url,omitempty"`
	Language        string           `json:"language,omitempty"`
	Score           float64          `json:"score"`
	MatchedKeywords []string         `json:"matchedKeywords"`
	Status          motion.Status    `json:"status"`
	Reason          string           `json:"reviewReason,omitempty"`
	Confidence      float64          `json:"confidence"`
	Scaffold        bool             `json:"scaffold,omitempty"`
	Fastlane        bool             `json:"fastlane"`
	Reviewer        string           `json:"reviewer,omitempty"`
	DecidedAt       *time.Time       `json:"decidedAt,omitempty"`
	UpdatedAt       time.Time        `json:"updatedAt"`
	Variants        []motion.Variant `json:"variants,omitempty"`

	// Sync is set when a local decision overrides the server status.
	Sync SyncState `json:"sync,omitempty"`
}

func (it Item) candidate() dedup.Candidate {
	return dedup.Candidate{
		ID:        it.ID,
		SourceID:  it.SourceID,
		URL:       it.URL,
		Title:     it.Title,
		Language:  it.Language,
		Status:    it.Status,
		Score:     it.Score,
		UpdatedAt: it.UpdatedAt,
	}
}

func (it Item) variant() motion.Variant {
	return motion.Variant{
		SourceID:   it.SourceID,
		ExternalID: it.ExternalID,
		Language:   it.Language,
		Title:      it.Title,
		Summary:    it.Summary,
		URL:        it.URL,
		Confidence: it.Confidence,
		UpdatedAt:  it.UpdatedAt,
	}
}

// QueueOptions controls BuildQueue.
type QueueOptions struct {
	IncludeDecided bool
	Limit          int
	// Languages is the display preference used when collapsing affairs.
	Languages []string
}

// BuildQueue turns reconciled items into the review queue. Items of the same
// affair collapse into their preferred language variant, and the whole affair
// counts as decided once any variant is. Display dedup runs next, decided
// items are dropped unless requested, and fastlane items sort first.
func BuildQueue(items []Item, opts QueueOptions) []Item {
	merged := collapseAffairs(items, dedup.Preference{Languages: opts.Languages})
	visible := dedup.Visible(merged, Item.candidate)

	out := visible[:0:0]
	for _, it := range visible {
		if !opts.IncludeDecided && it.Status.Resolved() {
			continue
		}
		out = append(out, it)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Fastlane != b.Fastlane {
			return a.Fastlane
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID < b.ID
	})

	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

// collapseAffairs keeps input order, placing each affair at the position of
// its first member.
func collapseAffairs(items []Item, pref dedup.Preference) []Item {
	groups := make(map[string][]int)
	var order []string
	for i, it := range items {
		if it.AffairID == "" {
			order = append(order, "#"+it.ID)
			continue
		}
		if _, ok := groups[it.AffairID]; !ok {
			order = append(order, it.AffairID)
		}
		groups[it.AffairID] = append(groups[it.AffairID], i)
	}

	byID := make(map[string]Item, len(items))
	for _, it := range items {
		byID["#"+it.ID] = it
	}

	out := make([]Item, 0, len(order))
	for _, key := range order {
		idx, ok := groups[key]
		if !ok {
			out = append(out, byID[key])
			continue
		}
		out = append(out, mergeAffair(items, idx, pref))
	}
	return out
}

func mergeAffair(items []Item, idx []int, pref dedup.Preference) Item {
	best := idx[0]
	for _, i := range idx[1:] {
		if pref.Less(items[i].variant(), items[best].variant()) {
			best = i
		}
	}

	it := items[best]
	decided := -1
	for _, i := range idx {
		other := items[i]
		if other.Fastlane {
			it.Fastlane = true
		}
		if other.Score > it.Score {
			it.Score = other.Score
		}
		if other.Status.Resolved() && (decided < 0 || newerDecision(other, items[decided])) {
			decided = i
		}
		if i != best {
			it.Variants = appendVariant(it.Variants, other.variant())
		}
	}
	if decided >= 0 && decided != best {
		d := items[decided]
		it.Status, it.DecidedAt, it.Reviewer, it.Sync = d.Status, d.DecidedAt, d.Reviewer, d.Sync
		it.Reason = "decided on " + d.ID
	}
	return it
}

func newerDecision(a, b Item) bool {
	at, bt := decisionTime(a), decisionTime(b)
	if !at.Equal(bt) {
		return at.After(bt)
	}
	return a.Status.Rank() > b.Status.Rank()
}

func decisionTime(it Item) time.Time {
	if it.DecidedAt != nil {
		return *it.DecidedAt
	}
	return it.UpdatedAt
}

func appendVariant(vs []motion.Variant, v motion.Variant) []motion.Variant {
	for _, existing := range vs {
		if existing.SourceID == v.SourceID && existing.ExternalID == v.ExternalID {
			return vs
		}
	}
	return append(vs, v)
}
